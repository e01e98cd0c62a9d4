// Package backfill implements deterministic slot-backfill: given the
// parser's output and the CAM's ranked candidate list, it guarantees
// exactly 20 unique valid product IDs (4 hotboxes + 16 SKUs), drawing
// replacements for invalid or duplicate slots from the candidate pool in
// priority order.
package backfill

import (
	"github.com/naddot/tyrerec/pkg/normalize"
	"github.com/naddot/tyrerec/pkg/types"
)

// Run performs the backfill: dedupe valid slots, then fill every gap from
// the candidate pool in order. slots must have exactly 20 entries (pad
// with "-" beforehand if the parser produced fewer).
//
// Run is idempotent: backfilling an already-backfilled slot list
// changes nothing, because every slot is already either a unique valid ID
// or "-" with the pool exhausted.
func Run(slots [types.SKUWidth]string, candidates []types.CandidateRow) [types.SKUWidth]string {
	cleanSlots, used := dedupe(slots)
	pool := candidatePool(candidates)
	filled := fillGaps(cleanSlots, used, pool)
	return filled
}

// dedupe walks the slots in order, keeping a slot's value only if it is a
// valid, not-yet-seen product ID; otherwise the slot is marked empty (the
// empty string) for later filling.
func dedupe(slots [types.SKUWidth]string) (clean [types.SKUWidth]string, used map[string]bool) {
	used = make(map[string]bool, types.SKUWidth)
	for i, s := range slots {
		if normalize.IsValidProductID(s) && !used[s] {
			clean[i] = s
			used[s] = true
		} else {
			clean[i] = ""
		}
	}
	return clean, used
}

// candidatePool builds the ordered list of valid-ID candidates, preserving
// warehouse/prefetch priority order.
func candidatePool(candidates []types.CandidateRow) []string {
	pool := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if normalize.IsValidProductID(c.ProductID) {
			pool = append(pool, c.ProductID)
		}
	}
	return pool
}

// fillGaps walks clean again, drawing the next unused pool candidate into
// every empty slot. A slot becomes "-" only once the pool is exhausted.
func fillGaps(clean [types.SKUWidth]string, used map[string]bool, pool []string) [types.SKUWidth]string {
	poolIdx := 0
	for i, slot := range clean {
		if slot != "" {
			continue
		}
		filled := false
		for poolIdx < len(pool) {
			c := pool[poolIdx]
			poolIdx++
			if !used[c] {
				clean[i] = c
				used[c] = true
				filled = true
				break
			}
		}
		if !filled {
			clean[i] = "-"
		}
	}
	return clean
}

// IsHotboxComplete reports whether the first HotboxCount slots are all
// valid digit IDs, the sole per-CAM success criterion.
func IsHotboxComplete(slots [types.SKUWidth]string) bool {
	for i := 0; i < types.HotboxCount; i++ {
		if !normalize.IsValidProductID(slots[i]) {
			return false
		}
	}
	return true
}
