package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/types"
)

func TestClampParamsReplacesOutOfRangeWithDefaults(t *testing.T) {
	p := ClampParams(types.RunParams{
		GoldilocksZonePct:    1000,
		PriceFluctuationUp:   9.9,
		PriceFluctuationDown: 0.01,
	})
	assert.Equal(t, goldilocksDefault, p.GoldilocksZonePct)
	assert.Equal(t, float64(priceUpperDefault), p.PriceFluctuationUp)
	assert.Equal(t, float64(priceLowerDefault), p.PriceFluctuationDown)
}

func TestClampParamsKeepsInRangeValues(t *testing.T) {
	p := ClampParams(types.RunParams{
		GoldilocksZonePct:    25,
		PriceFluctuationUp:   1.5,
		PriceFluctuationDown: 0.7,
	})
	assert.Equal(t, 25, p.GoldilocksZonePct)
	assert.Equal(t, 1.5, p.PriceFluctuationUp)
	assert.Equal(t, 0.7, p.PriceFluctuationDown)
}

func TestBuildIsDeterministic(t *testing.T) {
	cam := types.CAM{Vehicle: "Volkswagen Golf", Size: "205/55 R16"}
	rows := []types.CandidateRow{{ProductID: "11111111", Brand: "Acme", TyreScore: 1.2, Units: 5}}
	params := ClampParams(types.RunParams{})

	a := Build(cam, rows, params)
	b := Build(cam, rows, params)
	require.Equal(t, a, b)
	assert.Contains(t, a, "Volkswagen Golf")
	assert.Contains(t, a, "205/55 R16")
	assert.Contains(t, a, "11111111")
}

func TestBuildOmitsEmptyEnhancers(t *testing.T) {
	cam := types.CAM{Vehicle: "X", Size: "Y"}
	out := Build(cam, nil, ClampParams(types.RunParams{}))
	assert.NotContains(t, out, "Preferred brand")
	assert.NotContains(t, out, "Preferred model")
	assert.NotContains(t, out, "Season:")
}

func TestBuildIncludesValidSeasonOnly(t *testing.T) {
	cam := types.CAM{Vehicle: "X", Size: "Y"}

	withValid := Build(cam, nil, ClampParams(types.RunParams{Season: "Winter"}))
	assert.Contains(t, withValid, "Season: winter")

	withInvalid := Build(cam, nil, ClampParams(types.RunParams{Season: "springtime"}))
	assert.NotContains(t, withInvalid, "Season:")
}

func TestRenderRowEscapesPipeDelimiter(t *testing.T) {
	row := types.CandidateRow{ProductID: "11111111", Brand: "A|B"}
	out := renderRow(row)
	assert.False(t, strings.Contains(strings.TrimPrefix(out, "11111111|"), "A|B"))
	assert.Contains(t, out, "A/B")
}
