// Package candidates implements the candidate store: warehouse lookups
// for a CAM's product rows, with an on-disk cache and a CSV mirror
// fallback for when the warehouse is unreachable.
//
// Every failure path degrades to an empty result rather than an error
// return, so the caller treats "no data" as data.
package candidates

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/naddot/tyrerec/pkg/normalize"
	"github.com/naddot/tyrerec/pkg/types"
)

// warehouseLimit is the row cap applied to every single-CAM warehouse
// query; FetchBatch's bulk query has no row cap.
const warehouseLimit = 100

// Store is the Candidate Store. db may be nil, in which case Fetch skips
// the warehouse tiers and consults only the cache and then the CSV mirror,
// and FetchBatch returns an empty map (used in local/offline mode).
type Store struct {
	db       *sql.DB
	cacheDir string
	csvPath  string
	log      *slog.Logger
}

// New builds a Store. cacheDir and csvPath may be empty to disable those
// tiers.
func New(db *sql.DB, cacheDir, csvPath string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, cacheDir: cacheDir, csvPath: csvPath, log: log}
}

// Fetch resolves candidates for a single (size, vehicle) pair, trying in
// order: (1) on-disk cache, (2) warehouse filtered by size+vehicle, (3) if
// that's empty and a vehicle was given, warehouse filtered by size only,
// (4) the CSV mirror with the same two-step filtering. Any non-empty
// result from (2)-(4) is written back to the cache, best-effort.
func (s *Store) Fetch(ctx context.Context, size, vehicle string) []types.CandidateRow {
	sizeNorm := normalize.SizeKey(size)
	if sizeNorm == "" {
		return nil
	}
	vehicleNorm := normalize.VehicleKey(vehicle)
	cacheKey := normalize.CacheKey(size, vehicle)

	if cached, ok := s.readCache(cacheKey); ok {
		return cached
	}

	rows := s.queryWarehouse(ctx, sizeNorm, vehicleNorm)
	if len(rows) == 0 && vehicleNorm != "" {
		s.log.Info("no vehicle-specific warehouse rows, falling back to size-only", "size", size, "vehicle", vehicle)
		rows = s.queryWarehouse(ctx, sizeNorm, "")
	}

	if len(rows) == 0 {
		rows = s.fetchFromCSV(sizeNorm, vehicleNorm)
		if len(rows) == 0 && vehicleNorm != "" {
			rows = s.fetchFromCSV(sizeNorm, "")
		}
	}

	if len(rows) > 0 {
		s.writeCache(cacheKey, rows)
	}
	return rows
}

// FetchBatch resolves candidates for a set of sizes in a single warehouse
// query, grouped by normalized size. It never touches the cache.
func (s *Store) FetchBatch(ctx context.Context, sizes []string) map[string][]types.CandidateRow {
	result := make(map[string][]types.CandidateRow)
	if s.db == nil || len(sizes) == 0 {
		return result
	}

	uniqueNorms := make([]string, 0, len(sizes))
	seen := make(map[string]bool, len(sizes))
	for _, sz := range sizes {
		n := normalize.SizeKey(sz)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniqueNorms = append(uniqueNorms, n)
	}
	if len(uniqueNorms) == 0 {
		return result
	}

	placeholders := make([]string, len(uniqueNorms))
	args := make([]any, len(uniqueNorms))
	for i, n := range uniqueNorms {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = n
	}
	query := fmt.Sprintf(`
		SELECT product_id, size, vehicle, tyre_score, units, brand, model, grade,
		       wet_grip, fuel, noise_reduction, seasonal_perf, oe, award_score,
		       runflat_status, segment, price_pct, grade_pct, fuel_pct,
		       wet_grip_pct, award_score_pct, price_gbp, offer,
		       price_fluctuation, orders, goldilocks_zone, premium_share,
		       mid_range_share, budget_share, runflat_share, sales_status,
		       product_list_views, clickstream_rate
		FROM tyre_candidates
		WHERE LOWER(REPLACE(size, ' ', '')) IN (%s)
		ORDER BY tyre_score ASC, units DESC
	`, strings.Join(placeholders, ","))
	dbRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("warehouse batch query failed", "error", err)
		return result
	}
	defer dbRows.Close()

	for dbRows.Next() {
		row, sizeNorm, err := scanCandidateRow(dbRows)
		if err != nil {
			s.log.Warn("skipping malformed warehouse row", "error", err)
			continue
		}
		result[sizeNorm] = append(result[sizeNorm], row)
	}
	if err := dbRows.Err(); err != nil {
		s.log.Error("warehouse batch query iteration failed", "error", err)
	}
	return result
}

// queryWarehouse runs the size(+vehicle) filtered query, ordered
// tyre_score ASC, units DESC, limited to warehouseLimit rows. Any error is
// logged and coerced to an empty result.
func (s *Store) queryWarehouse(ctx context.Context, sizeNorm, vehicleNorm string) []types.CandidateRow {
	if s.db == nil || sizeNorm == "" {
		return nil
	}

	query := `
		SELECT product_id, size, vehicle, tyre_score, units, brand, model, grade,
		       wet_grip, fuel, noise_reduction, seasonal_perf, oe, award_score,
		       runflat_status, segment, price_pct, grade_pct, fuel_pct,
		       wet_grip_pct, award_score_pct, price_gbp, offer,
		       price_fluctuation, orders, goldilocks_zone, premium_share,
		       mid_range_share, budget_share, runflat_share, sales_status,
		       product_list_views, clickstream_rate
		FROM tyre_candidates
		WHERE LOWER(REPLACE(size, ' ', '')) LIKE '%' || $1 || '%'
	`
	args := []any{sizeNorm}
	if vehicleNorm != "" {
		query += ` AND UPPER(REGEXP_REPLACE(vehicle, '[^a-zA-Z0-9]', '', 'g')) = UPPER($2)`
		args = append(args, vehicleNorm)
	}
	query += fmt.Sprintf(` ORDER BY tyre_score ASC, units DESC LIMIT %d`, warehouseLimit)

	dbRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("warehouse query failed", "size", sizeNorm, "vehicle", vehicleNorm, "error", err)
		return nil
	}
	defer dbRows.Close()

	var rows []types.CandidateRow
	for dbRows.Next() {
		row, _, err := scanCandidateRow(dbRows)
		if err != nil {
			s.log.Warn("skipping malformed warehouse row", "error", err)
			continue
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		s.log.Error("warehouse query iteration failed", "error", err)
	}
	return rows
}

type scanner interface {
	Scan(dest ...any) error
}

// scanCandidateRow scans one warehouse/mirror row into a CandidateRow and
// returns its normalized size for grouping.
func scanCandidateRow(r scanner) (types.CandidateRow, string, error) {
	var row types.CandidateRow
	var size string
	err := r.Scan(
		&row.ProductID, &size, &row.Vehicle, &row.TyreScore, &row.Units,
		&row.Brand, &row.Model, &row.Grade, &row.WetGrip, &row.Fuel,
		&row.NoiseReduction, &row.SeasonalPerf, &row.OE, &row.AwardScore,
		&row.RunflatStatus, &row.Segment, &row.PricePct, &row.GradePct,
		&row.FuelPct, &row.WetGripPct, &row.AwardScorePct, &row.PriceGBP,
		&row.Offer, &row.PriceFluctuation, &row.Orders, &row.GoldilocksZone,
		&row.PremiumShare, &row.MidRangeShare, &row.BudgetShare,
		&row.RunflatShare, &row.SalesStatus, &row.ProductListViews,
		&row.ClickstreamRate,
	)
	if err != nil {
		return types.CandidateRow{}, "", err
	}
	row.Size = size
	return row, normalize.SizeKey(size), nil
}

// readCache loads a cached candidate list by cache key. A missing or
// corrupt cache file is treated as a miss, never an error.
func (s *Store) readCache(key string) ([]types.CandidateRow, bool) {
	if s.cacheDir == "" {
		return nil, false
	}
	path := filepath.Join(s.cacheDir, "tyre_data_"+key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var rows []types.CandidateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		s.log.Warn("cache file has unexpected format, treating as miss", "path", path, "error", err)
		return nil, false
	}
	return rows, true
}

// writeCache persists rows under key, best-effort; write failures are
// logged and otherwise ignored.
func (s *Store) writeCache(key string, rows []types.CandidateRow) {
	if s.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		s.log.Warn("failed to create cache directory", "dir", s.cacheDir, "error", err)
		return
	}
	path := filepath.Join(s.cacheDir, "tyre_data_"+key+".json")
	data, err := json.Marshal(rows)
	if err != nil {
		s.log.Warn("failed to marshal cache entry", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("failed to write cache file", "path", path, "error", err)
	}
}

// csvColumns maps the CSV mirror's header names to CandidateRow fields.
// Unknown columns are ignored; missing columns leave the field zero.
var csvColumns = map[string]func(*types.CandidateRow, string){
	"product_id":         func(r *types.CandidateRow, v string) { r.ProductID = v },
	"size":               func(r *types.CandidateRow, v string) { r.Size = v },
	"vehicle":            func(r *types.CandidateRow, v string) { r.Vehicle = v },
	"tyre_score":         func(r *types.CandidateRow, v string) { r.TyreScore, _ = strconv.ParseFloat(v, 64) },
	"units":              func(r *types.CandidateRow, v string) { r.Units, _ = strconv.Atoi(v) },
	"brand":              func(r *types.CandidateRow, v string) { r.Brand = v },
	"model":              func(r *types.CandidateRow, v string) { r.Model = v },
	"grade":              func(r *types.CandidateRow, v string) { r.Grade = v },
	"wet_grip":           func(r *types.CandidateRow, v string) { r.WetGrip = v },
	"fuel":               func(r *types.CandidateRow, v string) { r.Fuel = v },
	"noise_reduction":    func(r *types.CandidateRow, v string) { r.NoiseReduction = v },
	"seasonal_perf":      func(r *types.CandidateRow, v string) { r.SeasonalPerf = v },
	"oe":                 func(r *types.CandidateRow, v string) { r.OE = v },
	"award_score":        func(r *types.CandidateRow, v string) { r.AwardScore = v },
	"runflat_status":     func(r *types.CandidateRow, v string) { r.RunflatStatus = v },
	"segment":            func(r *types.CandidateRow, v string) { r.Segment = v },
	"price_gbp":          func(r *types.CandidateRow, v string) { r.PriceGBP = v },
	"offer":              func(r *types.CandidateRow, v string) { r.Offer = v },
	"price_fluctuation":  func(r *types.CandidateRow, v string) { r.PriceFluctuation = v },
	"orders":             func(r *types.CandidateRow, v string) { r.Orders = v },
	"goldilocks_zone":    func(r *types.CandidateRow, v string) { r.GoldilocksZone = v },
	"sales_status":       func(r *types.CandidateRow, v string) { r.SalesStatus = v },
	"product_list_views": func(r *types.CandidateRow, v string) { r.ProductListViews = v },
	"clickstream_rate":   func(r *types.CandidateRow, v string) { r.ClickstreamRate = v },
}

// fetchFromCSV filters the CSV mirror by normalized size (substring) and,
// if vehicleNorm is non-empty, by exact normalized vehicle.
func (s *Store) fetchFromCSV(sizeNorm, vehicleNorm string) []types.CandidateRow {
	if s.csvPath == "" {
		return nil
	}
	f, err := os.Open(s.csvPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		s.log.Warn("CSV mirror has no header row", "path", s.csvPath, "error", err)
		return nil
	}
	setters := make([]func(*types.CandidateRow, string), len(header))
	for i, col := range header {
		setters[i] = csvColumns[strings.ToLower(strings.TrimSpace(col))]
	}

	var rows []types.CandidateRow
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		var row types.CandidateRow
		for i, v := range rec {
			if i < len(setters) && setters[i] != nil {
				setters[i](&row, v)
			}
		}
		if !strings.Contains(normalize.SizeKey(row.Size), sizeNorm) {
			continue
		}
		if vehicleNorm != "" && normalize.VehicleKey(row.Vehicle) != vehicleNorm {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
