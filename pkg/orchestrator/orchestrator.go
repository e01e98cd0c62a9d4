// Package orchestrator implements the batch orchestrator: splitting a
// run's CAM list across a bounded worker pool, enforcing the batch hard
// deadline, assembling results in input order, aggregating usage, and
// running one global retry pass of the CAMs that failed the primary pass.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/naddot/tyrerec/pkg/auth"
	"github.com/naddot/tyrerec/pkg/types"
	"github.com/naddot/tyrerec/pkg/usage"
	"github.com/naddot/tyrerec/pkg/worker"
)

// ErrBatchTooLarge is returned by Run when the CAM list exceeds
// Config.MaxCAMsPerBatch.
var ErrBatchTooLarge = errors.New("batch exceeds maximum CAMs per request")

// CandidatePrefetcher is the candidate store's bulk-lookup entry point.
type CandidatePrefetcher interface {
	FetchBatch(ctx context.Context, sizes []string) map[string][]types.CandidateRow
}

// Worker is the subset of the per-CAM worker this package depends on.
type Worker interface {
	Process(ctx context.Context, cam types.CAM, params types.RunParams, prefetch worker.Prefetch) types.Recommendation
}

// CredentialRefresher re-acquires the OIDC token and session cookie after
// a retry-pass batch call comes back 401. Refresh is reactive only: it is
// never called eagerly before a retry pass.
type CredentialRefresher interface {
	Refresh(ctx context.Context) (auth.Credentials, error)
}

// Config holds the orchestrator's tunables.
type Config struct {
	WorkerCount     int
	BatchDeadline   time.Duration
	PerCAMDeadline  time.Duration
	MaxCAMsPerBatch int
	RetryBatchSize  int
}

// Orchestrator runs one batch at a time end to end.
type Orchestrator struct {
	prefetcher CandidatePrefetcher
	worker     Worker
	submitter  Submitter
	authBroker CredentialRefresher
	cfg        Config
	heartbeat  usage.HeartbeatFunc
}

// New builds an Orchestrator. heartbeat may be nil.
func New(prefetcher CandidatePrefetcher, w Worker, submitter Submitter, authBroker CredentialRefresher, cfg Config, heartbeat usage.HeartbeatFunc) *Orchestrator {
	if heartbeat == nil {
		heartbeat = func(usage.Progress) {}
	}
	return &Orchestrator{
		prefetcher: prefetcher,
		worker:     w,
		submitter:  submitter,
		authBroker: authBroker,
		cfg:        cfg,
		heartbeat:  heartbeat,
	}
}

// Result is a run's output: the recommendations in CAM input order, and
// the totalled usage across both the primary and retry passes.
type Result struct {
	RunID   string
	Results []types.Recommendation
	Usage   types.Usage
}

// Run executes one batch: bulk prefetch, bounded-parallel primary pass,
// global retry pass of failures, usage aggregation. It never returns an
// error for per-CAM failures (those are encoded in each Recommendation);
// it returns an error only for batch-level rejection (too many CAMs).
func (o *Orchestrator) Run(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (Result, error) {
	return o.run(ctx, runID, cams, params, true)
}

// RunOnce executes the primary pass only, with no global retry pass. The
// batch handler routes requests marked with RetryPassHeader here, so the
// retry pass's self-call cannot recurse into another retry pass.
func (o *Orchestrator) RunOnce(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (Result, error) {
	return o.run(ctx, runID, cams, params, false)
}

func (o *Orchestrator) run(ctx context.Context, runID string, cams []types.CAM, params types.RunParams, withRetryPass bool) (Result, error) {
	if len(cams) > o.cfg.MaxCAMsPerBatch {
		return Result{}, ErrBatchTooLarge
	}

	log := slog.With("run_id", runID)
	log.Info("starting batch run", "cams", len(cams), "workers", workerCount(o.cfg.WorkerCount))

	prefetch := worker.Prefetch(o.prefetcher.FetchBatch(ctx, uniqueSizes(cams)))

	acc := &usage.Accumulator{}
	attempted := len(cams)

	results := o.runPrimary(ctx, cams, params, prefetch, log)
	for _, r := range results {
		acc.Add(r.Usage)
	}
	o.emitHeartbeat(acc, attempted, results, 0)

	if withRetryPass {
		o.runRetryPasses(ctx, runID, cams, params, results, acc, attempted, log)
	}

	log.Info("batch run complete", "attempted", attempted, "total_tokens", acc.Snapshot().TotalTokens)
	return Result{RunID: runID, Results: results, Usage: acc.Snapshot()}, nil
}

// runPrimary submits one task per CAM to a bounded worker pool and
// assembles results indexed by input position, regardless of completion
// order. Each slot is claimed exactly once, by whichever of the task
// itself or the batch-deadline sweep reaches it first (a TOCTOU-safe
// reservation, not a result read after an unbounded wait): tasks still
// running when the batch deadline elapses lose the claim race and their
// slot is filled with a TIMEOUT recommendation instead, so Run never
// blocks past the batch deadline on a stuck task.
func (o *Orchestrator) runPrimary(ctx context.Context, cams []types.CAM, params types.RunParams, prefetch worker.Prefetch, log *slog.Logger) []types.Recommendation {
	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchDeadline)
	defer cancel()

	results := make([]types.Recommendation, len(cams))
	claimed := make([]int32, len(cams))
	sem := make(chan struct{}, workerCount(o.cfg.WorkerCount))
	var wg sync.WaitGroup

	for i, cam := range cams {
		i, cam := i, cam
		select {
		case sem <- struct{}{}:
		case <-batchCtx.Done():
		}
		if batchCtx.Err() != nil {
			// CAMs not yet submitted stay unclaimed for the deadline sweep.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx := batchCtx
			if o.cfg.PerCAMDeadline > 0 {
				var cancelTask context.CancelFunc
				taskCtx, cancelTask = context.WithTimeout(batchCtx, o.cfg.PerCAMDeadline)
				defer cancelTask()
			}

			rec := o.worker.Process(taskCtx, cam, params, prefetch)
			if atomic.CompareAndSwapInt32(&claimed[i], 0, 1) {
				results[i] = rec
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
		for i, cam := range cams {
			if atomic.CompareAndSwapInt32(&claimed[i], 0, 1) {
				results[i] = timeoutRecommendation(cam)
				log.Warn("task missed batch deadline", "cam_index", i, "vehicle", cam.Vehicle, "size", cam.Size)
			}
		}
	}
	return results
}

// runRetryPasses collects indices that failed the primary pass, chunks
// them into retry batches, and re-submits each chunk through the
// Submitter. Successful retry results overwrite the originals; failed
// retries (including a second 401) leave the primary result in place.
// Credentials are refreshed reactively, only after a 401, never eagerly.
func (o *Orchestrator) runRetryPasses(ctx context.Context, runID string, cams []types.CAM, params types.RunParams, results []types.Recommendation, acc *usage.Accumulator, attempted int, log *slog.Logger) {
	failedIdx := failedIndices(results)
	if len(failedIdx) == 0 {
		return
	}
	log.Info("starting retry pass", "failed", len(failedIdx))

	var creds auth.Credentials
	chunkSize := o.cfg.RetryBatchSize
	if chunkSize <= 0 {
		chunkSize = len(failedIdx)
	}

	for start := 0; start < len(failedIdx); start += chunkSize {
		end := start + chunkSize
		if end > len(failedIdx) {
			end = len(failedIdx)
		}
		chunk := failedIdx[start:end]

		retryCAMs := make([]types.CAM, len(chunk))
		for i, idx := range chunk {
			retryCAMs[i] = cams[idx]
		}

		batchResult, err := o.submitter.Submit(ctx, creds, BatchRequest{RunID: runID, CAMs: retryCAMs, Params: params})
		if isAuthError(err) && o.authBroker != nil {
			log.Warn("retry batch call unauthorized, refreshing credentials")
			refreshed, refreshErr := o.authBroker.Refresh(ctx)
			if refreshErr == nil {
				creds = refreshed
				batchResult, err = o.submitter.Submit(ctx, creds, BatchRequest{RunID: runID, CAMs: retryCAMs, Params: params})
			}
		}
		if err != nil {
			log.Warn("retry batch call failed", "error", err)
			continue
		}

		// The wire response carries the retry call's aggregate usage, not
		// per-CAM usage; fold it in once per chunk so retries are counted.
		acc.Add(batchResult.Usage)
		for i, idx := range chunk {
			if i >= len(batchResult.Results) {
				break
			}
			retried := batchResult.Results[i]
			if retried.Success {
				results[idx] = retried
			}
		}
		o.emitHeartbeat(acc, attempted, results, (start/chunkSize)+1)
	}
}

func (o *Orchestrator) emitHeartbeat(acc *usage.Accumulator, attempted int, results []types.Recommendation, batchIdx int) {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else if r.ErrorCode != "" {
			failed++
		}
	}
	o.heartbeat(usage.Progress{
		Attempted:       attempted,
		Succeeded:       succeeded,
		Failed:          failed,
		CurrentBatchIdx: batchIdx,
	})
}

func failedIndices(results []types.Recommendation) []int {
	var idx []int
	for i, r := range results {
		if !r.Success {
			idx = append(idx, i)
		}
	}
	return idx
}

func workerCount(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

func uniqueSizes(cams []types.CAM) []string {
	seen := make(map[string]struct{}, len(cams))
	var out []string
	for _, c := range cams {
		if _, ok := seen[c.Size]; ok {
			continue
		}
		seen[c.Size] = struct{}{}
		out = append(out, c.Size)
	}
	return out
}

func timeoutRecommendation(cam types.CAM) types.Recommendation {
	rec := types.Recommendation{Vehicle: cam.Vehicle, Size: cam.Size, Success: false, ErrorCode: types.ErrTimeout}
	var slots [types.SKUWidth]string
	for i := range slots {
		slots[i] = "-"
	}
	rec.SetSlots(slots)
	return rec
}
