// Package worker implements the per-CAM worker: candidate lookup, prompt
// construction, the model call, output parsing, and slot backfill for a
// single CAM, with one internal retry on format/validity failure and
// error-to-code classification at a single boundary.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/naddot/tyrerec/pkg/backfill"
	"github.com/naddot/tyrerec/pkg/model"
	"github.com/naddot/tyrerec/pkg/normalize"
	"github.com/naddot/tyrerec/pkg/parser"
	"github.com/naddot/tyrerec/pkg/prompt"
	"github.com/naddot/tyrerec/pkg/types"
)

// CandidateFetcher is the subset of the candidate store this worker
// needs: a single-CAM lookup used as the last-resort fallback when the
// batch's prefetch map has nothing for this CAM.
type CandidateFetcher interface {
	Fetch(ctx context.Context, size, vehicle string) []types.CandidateRow
}

// Worker runs the per-CAM pipeline.
type Worker struct {
	store CandidateFetcher
	model model.Client

	modelName   string
	location    string
	datastore   string
	safety      map[string]string
	temperature float64
	topP        float64
	benchmark   bool
}

// Config bundles the Worker's construction-time settings.
type Config struct {
	ModelName            string
	Location             string
	RetrievalDatastoreID string
	SafetyCategories     map[string]string
	Temperature          float64
	TopP                 float64
	Benchmark            bool
}

// New builds a Worker.
func New(store CandidateFetcher, modelClient model.Client, cfg Config) *Worker {
	return &Worker{
		store:       store,
		model:       modelClient,
		modelName:   cfg.ModelName,
		location:    cfg.Location,
		datastore:   cfg.RetrievalDatastoreID,
		safety:      cfg.SafetyCategories,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		benchmark:   cfg.Benchmark,
	}
}

// Prefetch is the batch's size-keyed candidate map, computed once per
// batch by the orchestrator's bulk prefetch.
type Prefetch map[string][]types.CandidateRow

// Process runs the full per-CAM pipeline and always returns a
// Recommendation (usage attached even when unsuccessful).
func (w *Worker) Process(ctx context.Context, cam types.CAM, params types.RunParams, prefetch Prefetch) types.Recommendation {
	log := slog.With("vehicle", cam.Vehicle, "size", cam.Size)

	if isInvalid(cam) {
		log.Warn("rejecting empty or nan vehicle/size")
		return failure(cam, types.ErrInvalidInput, types.Usage{})
	}

	candidates := w.resolveCandidates(ctx, cam, prefetch)
	if len(candidates) == 0 {
		log.Info("no candidates found")
		return failure(cam, types.ErrNoResults, types.Usage{})
	}

	clamped := prompt.ClampParams(params)

	first := w.attempt(ctx, cam, candidates, clamped)
	if first.success {
		return success(cam, first.slots, first.usage)
	}

	log.Info("first attempt unsuccessful, retrying once", "error", first.err)
	second := w.attempt(ctx, cam, candidates, clamped)
	usage := first.usage.Add(second.usage)
	if second.success {
		return success(cam, second.slots, usage)
	}

	code := classify(first.err, second.err)
	log.Warn("recommendation failed after retry", "error_code", code)
	return failure(cam, code, usage)
}

// isInvalid rejects an empty or literal-"nan" Vehicle or Size.
func isInvalid(cam types.CAM) bool {
	v := strings.ToLower(strings.TrimSpace(cam.Vehicle))
	s := strings.ToLower(strings.TrimSpace(cam.Size))
	return v == "" || s == "" || v == "nan" || s == "nan"
}

// resolveCandidates looks up candidates from the batch prefetch map,
// filtering by normalized vehicle and falling back to the unfiltered
// per-size list; if still empty, it delegates to the candidate store's
// single-CAM fetch.
func (w *Worker) resolveCandidates(ctx context.Context, cam types.CAM, prefetch Prefetch) []types.CandidateRow {
	sizeKey := normalize.SizeKey(cam.Size)
	rows := prefetch[sizeKey]

	if filtered := filterByVehicle(rows, cam.Vehicle); len(filtered) > 0 {
		return filtered
	}
	if len(rows) > 0 {
		return rows
	}
	if w.store != nil {
		return w.store.Fetch(ctx, cam.Size, cam.Vehicle)
	}
	return nil
}

func filterByVehicle(rows []types.CandidateRow, vehicle string) []types.CandidateRow {
	want := normalize.VehicleKey(vehicle)
	if want == "" {
		return nil
	}
	var out []types.CandidateRow
	for _, r := range rows {
		if normalize.VehicleKey(r.Vehicle) == want {
			out = append(out, r)
		}
	}
	return out
}

// attemptResult is one prompt->generate->parse->backfill pass.
type attemptResult struct {
	slots   [types.SKUWidth]string
	usage   types.Usage
	success bool
	err     error
}

func (w *Worker) attempt(ctx context.Context, cam types.CAM, candidates []types.CandidateRow, params types.RunParams) attemptResult {
	text := prompt.Build(cam, candidates, params)

	resp, err := w.model.Generate(ctx, model.Request{
		Prompt:      text,
		Model:       w.modelName,
		Location:    w.location,
		Temperature: w.temperature,
		TopP:        w.topP,
		Tools: model.ToolSettings{
			RetrievalDatastoreID: w.datastore,
			SafetyCategories:     w.safety,
		},
		Benchmark: w.benchmark,
	})
	if err != nil {
		return attemptResult{usage: resp.Usage, err: err}
	}

	parsed := parser.Parse(resp.Text, cam.Vehicle, cam.Size)
	if !parsed.Matched {
		return attemptResult{usage: resp.Usage}
	}

	slots := backfill.Run(parsed.ToRecommendationSlots(), candidates)
	return attemptResult{
		slots:   slots,
		usage:   resp.Usage,
		success: backfill.IsHotboxComplete(slots),
	}
}

// classify maps a model-call failure to the CAM-local error taxonomy.
// It prefers the more recent (second-attempt) error; if
// neither attempt raised an error the failure was a pure parse/backfill
// shortfall, which is FORMAT_ERROR.
func classify(first, second error) types.ErrorCode {
	err := second
	if err == nil {
		err = first
	}
	if err == nil {
		return types.ErrFormat
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrTimeout
	case errors.Is(err, model.ErrAPI), errors.Is(err, model.ErrStream), errors.Is(err, model.ErrGeneration):
		return types.ErrUpstream
	default:
		return types.ErrInternal
	}
}

func success(cam types.CAM, slots [types.SKUWidth]string, usage types.Usage) types.Recommendation {
	rec := types.Recommendation{Vehicle: cam.Vehicle, Size: cam.Size, Success: true, Usage: usage}
	rec.SetSlots(slots)
	return rec
}

func failure(cam types.CAM, code types.ErrorCode, usage types.Usage) types.Recommendation {
	rec := types.Recommendation{
		Vehicle:   cam.Vehicle,
		Size:      cam.Size,
		Success:   false,
		ErrorCode: code,
		Usage:     usage,
	}
	var slots [types.SKUWidth]string
	for i := range slots {
		slots[i] = "-"
	}
	rec.SetSlots(slots)
	return rec
}
