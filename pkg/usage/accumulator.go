// Package usage implements usage and status reporting: a serialized
// three-counter accumulator, cost computation, a JSON manifest, and
// progress heartbeats.
package usage

import (
	"sync"

	"github.com/naddot/tyrerec/pkg/types"
)

// Accumulator serializes writes to the batch-wide three-counter total.
// Safe for concurrent use; Snapshot is only meaningful once all of a
// batch's tasks have settled.
type Accumulator struct {
	mu    sync.Mutex
	total types.Usage
}

// Add folds u into the running total. The orchestrator calls it once per
// CAM result of the primary pass (that CAM's usage over all its model
// calls) and once per global-retry-pass chunk (that call's aggregate usage).
func (a *Accumulator) Add(u types.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = a.total.Add(u)
}

// Snapshot returns the current totals.
func (a *Accumulator) Snapshot() types.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Progress is the cumulative attempted/succeeded/failed heartbeat emitted
// after each inner (sub-)batch completes.
type Progress struct {
	Attempted       int `json:"attempted"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	CurrentBatchIdx int `json:"current_batch_index"`
}

// HeartbeatFunc is invoked once per processed sub-batch with cumulative
// progress counts.
type HeartbeatFunc func(Progress)

// Manifest is the final JSON status document emitted on batch completion.
type Manifest struct {
	RunID     string      `json:"run_id"`
	Attempted int         `json:"attempted"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Usage     types.Usage `json:"usage"`
	Cost      float64     `json:"cost"`
}

// Pricing holds the per-token cost constants used by Cost.
type Pricing struct {
	PriceInputPerToken  float64
	PriceOutputPerToken float64
}

// Cost computes cost = prompt_tokens*p_in + completion_tokens*p_out.
func Cost(u types.Usage, p Pricing) float64 {
	return float64(u.PromptTokens)*p.PriceInputPerToken + float64(u.CompletionTokens)*p.PriceOutputPerToken
}

// BuildManifest assembles the final manifest for a completed run.
func BuildManifest(runID string, attempted, succeeded, failed int, u types.Usage, p Pricing) Manifest {
	return Manifest{
		RunID:     runID,
		Attempted: attempted,
		Succeeded: succeeded,
		Failed:    failed,
		Usage:     u,
		Cost:      Cost(u, p),
	}
}
