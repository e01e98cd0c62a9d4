// Package artifact emits the per-run output artifacts: the recommendation
// CSV consumed by the downstream loaders and a JSON manifest summarising
// the run's counts, usage, and cost.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/naddot/tyrerec/pkg/normalize"
	"github.com/naddot/tyrerec/pkg/types"
	"github.com/naddot/tyrerec/pkg/usage"
)

// formatErrorCell is the legacy failure marker; any row carrying it is
// dropped from the CSV.
const formatErrorCell = "FormatError"

// header is the CSV column order: Vehicle, Size, the four hotboxes, then
// the SKU tail.
var header = buildHeader()

func buildHeader() []string {
	cols := []string{"Vehicle", "Size"}
	for i := 1; i <= types.HotboxCount; i++ {
		cols = append(cols, fmt.Sprintf("HB%d", i))
	}
	for i := 1; i <= types.SKUWidth-types.HotboxCount; i++ {
		cols = append(cols, fmt.Sprintf("SKU%d", i))
	}
	return cols
}

// WriteCSV renders recs as the artifact CSV. Vehicle and Size are repaired
// before writing; placeholder cells normalize to empty; rows carrying a
// FormatError cell are dropped; duplicate (Vehicle, Size) keys keep the
// first occurrence.
func WriteCSV(w io.Writer, recs []types.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	seen := make(map[string]bool, len(recs))
	for i := range recs {
		row, ok := renderRow(&recs[i])
		if !ok {
			continue
		}
		key := normalize.CompareKey(row[0]) + "|" + normalize.CompareKey(row[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// renderRow builds one CSV row from a Recommendation. ok is false when the
// row must be dropped.
func renderRow(rec *types.Recommendation) ([]string, bool) {
	slots := rec.Slots()
	for _, s := range slots {
		if s == formatErrorCell {
			return nil, false
		}
	}

	repaired := normalize.RepairSize(rec.Vehicle, rec.Size)
	row := make([]string, 0, 2+types.SKUWidth)
	row = append(row, repaired.Vehicle, repaired.Size)
	for _, s := range slots {
		row = append(row, cleanCell(s))
	}
	return row, true
}

// cleanCell normalizes a product-slot cell: blank, "-", "nan", and
// ".0"-suffixed float remnants all become empty.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "nan") || strings.HasSuffix(s, ".0") {
		return ""
	}
	return s
}

// Writer flushes a completed run's artifacts to a directory.
type Writer struct {
	dir     string
	pricing usage.Pricing
	log     *slog.Logger
}

// NewWriter builds a Writer rooted at dir.
func NewWriter(dir string, pricing usage.Pricing, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{dir: dir, pricing: pricing, log: log}
}

// Flush writes <runID>.csv and <runID>_manifest.json under the writer's
// directory.
func (w *Writer) Flush(runID string, recs []types.Recommendation, u types.Usage) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	csvPath := filepath.Join(w.dir, runID+".csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("creating artifact CSV: %w", err)
	}
	if err := WriteCSV(f, recs); err != nil {
		f.Close()
		return fmt.Errorf("writing artifact CSV: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	succeeded := 0
	for _, r := range recs {
		if r.Success {
			succeeded++
		}
	}
	manifest := usage.BuildManifest(runID, len(recs), succeeded, len(recs)-succeeded, u, w.pricing)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	manifestPath := filepath.Join(w.dir, runID+"_manifest.json")
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	w.log.Info("run artifacts written", "run_id", runID, "csv", csvPath, "manifest", manifestPath)
	return nil
}
