// Package prompt implements deterministic assembly of the recommendation
// prompt from a CAM, its candidate rows, and the run's tuning knobs.
// Identical inputs always produce an identical prompt.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/naddot/tyrerec/pkg/types"
)

// Tuning-knob bounds and defaults.
const (
	goldilocksMin     = 5
	goldilocksMax     = 50
	goldilocksDefault = 15

	priceUpperMin     = 1.0
	priceUpperMax     = 2.0
	priceUpperDefault = 1.1

	priceLowerMin     = 0.5
	priceLowerMax     = 1.0
	priceLowerDefault = 0.9
)

var validSeasons = map[string]bool{"summer": true, "winter": true, "allseason": true}

// candidateHeader is the pipe-delimited header row rendered above the
// candidate table.
var candidateHeader = strings.Join([]string{
	"ProductId", "Brand", "Model", "Grade", "WetGrip", "Fuel", "NoiseReduction",
	"SeasonalPerf", "OE", "AwardScore", "RunflatStatus", "Segment", "PriceGBP",
	"Offer", "TyreScore", "Units",
}, "|")

// ClampParams replaces out-of-range tuning knobs with their defaults;
// out-of-range values are never rejected.
func ClampParams(p types.RunParams) types.RunParams {
	if p.GoldilocksZonePct < goldilocksMin || p.GoldilocksZonePct > goldilocksMax {
		p.GoldilocksZonePct = goldilocksDefault
	}
	if p.PriceFluctuationUp < priceUpperMin || p.PriceFluctuationUp > priceUpperMax {
		p.PriceFluctuationUp = priceUpperDefault
	}
	if p.PriceFluctuationDown < priceLowerMin || p.PriceFluctuationDown > priceLowerMax {
		p.PriceFluctuationDown = priceLowerDefault
	}
	return p
}

// Build renders the deterministic prompt string for one CAM. candidates is
// the ranked candidate list for the CAM's size(+vehicle); params should
// already be clamped via ClampParams.
func Build(cam types.CAM, candidates []types.CandidateRow, params types.RunParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a tyre recommendation assistant. Recommend exactly 20 unique product IDs for this vehicle and size.\n\n")
	fmt.Fprintf(&b, "Vehicle: %s\nSize: %s\n\n", cam.Vehicle, cam.Size)
	fmt.Fprintf(&b, "Goldilocks zone: %d%%\n", params.GoldilocksZonePct)
	fmt.Fprintf(&b, "Price band: %s - %s of reference price\n\n",
		strconv.FormatFloat(params.PriceFluctuationDown, 'f', 2, 64),
		strconv.FormatFloat(params.PriceFluctuationUp, 'f', 2, 64))

	writeEnhancers(&b, params)

	b.WriteString("Candidates (pipe-delimited, best first):\n")
	b.WriteString(candidateHeader)
	b.WriteString("\n")
	for _, c := range candidates {
		b.WriteString(renderRow(c))
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with: <vehicle> <size> <HB1> <HB2> <HB3> <HB4> <SKU1> ... <SKU16>\n")
	return b.String()
}

// writeEnhancers appends the brand/model/season enhancer sections. Each is
// included only when its input is non-empty (season additionally requires
// membership in the valid-season set).
func writeEnhancers(b *strings.Builder, params types.RunParams) {
	if strings.TrimSpace(params.BrandEnhancer) != "" {
		fmt.Fprintf(b, "Preferred brand: %s\n", params.BrandEnhancer)
	}
	if strings.TrimSpace(params.ModelEnhancer) != "" {
		fmt.Fprintf(b, "Preferred model: %s\n", params.ModelEnhancer)
	}
	season := strings.ToLower(strings.TrimSpace(params.Season))
	if validSeasons[season] {
		fmt.Fprintf(b, "Season: %s\n", season)
	}
	b.WriteString("\n")
}

// renderRow renders one candidate as a pipe-delimited row, replacing any
// "|" inside a field with "/" so the delimiter stays unambiguous.
func renderRow(c types.CandidateRow) string {
	fields := []string{
		c.ProductID, c.Brand, c.Model, c.Grade, c.WetGrip, c.Fuel,
		c.NoiseReduction, c.SeasonalPerf, c.OE, c.AwardScore, c.RunflatStatus,
		c.Segment, c.PriceGBP, c.Offer,
		strconv.FormatFloat(c.TyreScore, 'f', -1, 64),
		strconv.Itoa(c.Units),
	}
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "|", "/")
	}
	return strings.Join(fields, "|")
}
