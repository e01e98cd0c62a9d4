// Package types holds the data-model records shared across the
// recommendation pipeline: CAM, CandidateRow, Recommendation, and usage
// counters. Keeping these in one leaf package avoids import cycles between
// the pipeline stages (candidates -> prompt -> model -> parser -> backfill
// -> worker -> orchestrator) that would otherwise each need each other's
// result types.
package types

// CAM is a (Vehicle, Size) pair, the unit of work. Both fields are
// free-form human strings requiring normalization before comparison.
// Immutable within a run.
type CAM struct {
	Vehicle string
	Size    string
}

// CandidateRow is a warehouse record for a (Size, Vehicle?) pair. Ordering
// within a warehouse response (or within a Prefetch Map entry) defines
// candidate priority for both prompt presentation and slot backfill.
type CandidateRow struct {
	ProductID string // 7- or 8-digit digits-only string
	TyreScore float64
	Units     int

	Brand            string
	Model            string
	Grade            string // wet grip letter grade
	WetGrip          string
	Fuel             string
	NoiseReduction   string
	SeasonalPerf     string // "summer" | "winter" | "allseason" | ""
	OE               string
	AwardScore       string
	RunflatStatus    string
	Segment          string
	PricePct         string
	GradePct         string
	FuelPct          string
	WetGripPct       string
	AwardScorePct    string
	Vehicle          string
	Size             string
	PriceGBP         string
	Offer            string
	PriceFluctuation string
	Orders           string
	GoldilocksZone   string
	PremiumShare     string
	MidRangeShare    string
	BudgetShare      string
	RunflatShare     string
	SalesStatus      string
	ProductListViews string
	ClickstreamRate  string
}

// ErrorCode is the CAM-local failure taxonomy.
type ErrorCode string

const (
	ErrNone          ErrorCode = ""
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrNoResults     ErrorCode = "NO_RESULTS"
	ErrFormat        ErrorCode = "FORMAT_ERROR"
	ErrUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
	ErrBatchTooLarge ErrorCode = "BATCH_TOO_LARGE"
)

// Usage is the three-counter token accounting shared by a single model call
// and the batch-wide UsageAccumulator.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// SKUWidth is the fixed slot count per Recommendation: 4 hotboxes + 16 SKUs.
const SKUWidth = 20

// HotboxCount is the number of strict hotbox slots within SKUWidth.
const HotboxCount = 4

// Recommendation is the per-CAM result.
type Recommendation struct {
	Vehicle string
	Size    string

	HB1, HB2, HB3, HB4 string
	SKUs               [16]string

	Success   bool
	ErrorCode ErrorCode
	Usage     Usage
}

// Slots returns the 20 output slots (4 HB + 16 SKU) as a flat slice, in
// output order.
func (r *Recommendation) Slots() [SKUWidth]string {
	var s [SKUWidth]string
	s[0], s[1], s[2], s[3] = r.HB1, r.HB2, r.HB3, r.HB4
	copy(s[4:], r.SKUs[:])
	return s
}

// SetSlots assigns the 20 output slots back onto the Recommendation's
// HB/SKU fields.
func (r *Recommendation) SetSlots(s [SKUWidth]string) {
	r.HB1, r.HB2, r.HB3, r.HB4 = s[0], s[1], s[2], s[3]
	copy(r.SKUs[:], s[4:])
}

// RunParams are the per-batch tuning knobs accepted by the batch endpoint.
type RunParams struct {
	GoldilocksZonePct    int
	PriceFluctuationUp   float64
	PriceFluctuationDown float64
	BrandEnhancer        string
	ModelEnhancer        string
	Season               string
	Pod                  string
	Segment              string
	DisableSearch        bool
}
