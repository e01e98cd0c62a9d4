package artifact

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/types"
	"github.com/naddot/tyrerec/pkg/usage"
)

func successfulRec(vehicle, size string) types.Recommendation {
	rec := types.Recommendation{Vehicle: vehicle, Size: size, Success: true}
	var slots [types.SKUWidth]string
	slots[0], slots[1], slots[2], slots[3] = "1111111", "2222222", "3333333", "4444444"
	for i := 4; i < types.SKUWidth; i++ {
		slots[i] = "-"
	}
	rec.SetSlots(slots)
	return rec
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSVHeaderAndRowShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Recommendation{successfulRec("Volkswagen Golf", "205/55 R16")}))

	rows := parseCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "Vehicle", rows[0][0])
	assert.Equal(t, "HB1", rows[0][2])
	assert.Equal(t, "SKU1", rows[0][6])
	assert.Len(t, rows[0], 2+types.SKUWidth)
	assert.Equal(t, "1111111", rows[1][2])
}

func TestWriteCSVRepairsVehicleAndSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Recommendation{successfulRec("Volkswagen Golf", "GTI 205/55 R16")}))

	rows := parseCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "Volkswagen Golf GTI", rows[1][0])
	assert.Equal(t, "205/55 R16", rows[1][1])
}

func TestWriteCSVNormalizesPlaceholderCells(t *testing.T) {
	rec := successfulRec("Civic", "205/55 R16")
	var slots [types.SKUWidth]string
	slots[0], slots[1], slots[2], slots[3] = "1111111", "2222222", "3333333", "4444444"
	slots[4] = "-"
	slots[5] = "nan"
	slots[6] = "5555555.0"
	rec.SetSlots(slots)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Recommendation{rec}))

	rows := parseCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][6])
	assert.Equal(t, "", rows[1][7])
	assert.Equal(t, "", rows[1][8])
}

func TestWriteCSVDropsFormatErrorRows(t *testing.T) {
	bad := successfulRec("Civic", "205/55 R16")
	bad.HB1 = "FormatError"

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Recommendation{bad}))

	rows := parseCSV(t, buf.Bytes())
	assert.Len(t, rows, 1) // header only
}

func TestWriteCSVKeepsFirstDuplicateKey(t *testing.T) {
	first := successfulRec("Civic", "205/55 R16")
	second := successfulRec("civic", "205/55R16")
	second.HB1 = "9999999"

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Recommendation{first, second}))

	rows := parseCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "1111111", rows[1][2])
}

func TestFlushWritesCSVAndManifest(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, usage.Pricing{PriceInputPerToken: 1, PriceOutputPerToken: 1}, nil)

	recs := []types.Recommendation{successfulRec("Civic", "205/55 R16")}
	u := types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	require.NoError(t, w.Flush("r1", recs, u))

	csvData, err := os.ReadFile(filepath.Join(dir, "r1.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "1111111")

	manifestData, err := os.ReadFile(filepath.Join(dir, "r1_manifest.json"))
	require.NoError(t, err)
	var m usage.Manifest
	require.NoError(t, json.Unmarshal(manifestData, &m))
	assert.Equal(t, "r1", m.RunID)
	assert.Equal(t, 1, m.Attempted)
	assert.Equal(t, 1, m.Succeeded)
	assert.Equal(t, 0, m.Failed)
	assert.Equal(t, float64(15), m.Cost)
}
