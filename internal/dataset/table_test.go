package dataset

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nids-dash/nids-go/internal/features"
)

// buildCSV writes a header with an extra leading "Label" column followed by
// the model features, then one row per entry in rows. Each row gives the value
// of every feature column.
func buildCSV(rows ...[]string) string {
	var b strings.Builder
	b.WriteString("Label")
	for _, n := range features.Names {
		b.WriteString("," + n)
	}
	b.WriteString("\n")
	for i, r := range rows {
		b.WriteString(fmt.Sprintf("%d,%s\n", i, strings.Join(r, ",")))
	}
	return b.String()
}

func row(fill string, overrides map[int]string) []string {
	r := make([]string, features.Count)
	for i := range r {
		r[i] = fill
		if v, ok := overrides[i]; ok {
			r[i] = v
		}
	}
	return r
}

func TestLoadComputesMeans(t *testing.T) {
	csv := buildCSV(
		row("1", map[int]string{0: "80"}),
		row("2", map[int]string{0: "806"}),
		row("3", map[int]string{0: "443"}),
	)
	tbl, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "Label", tbl.Columns()[0])

	port, err := tbl.Mean("Port Number")
	require.NoError(t, err)
	assert.InDelta(t, 443.0, port, 1e-9)

	spaced, err := tbl.Mean(" Delta Packets Tx Dropped")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, spaced, 1e-9)

	def := tbl.Defaults()
	v, _ := def.Get("Port Number")
	assert.InDelta(t, 443.0, v, 1e-9)
	v, _ = def.Get("Max Size")
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestLoadSkipsEmptyCells(t *testing.T) {
	csv := buildCSV(
		row("4", map[int]string{1: ""}),
		row("6", nil),
	)
	tbl, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	m, err := tbl.Mean("Received Packets")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, m, 1e-9)
}

func TestLoadColumnWithoutValues(t *testing.T) {
	csv := buildCSV(row("1", map[int]string{30: ""}))
	tbl, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	_, err = tbl.Mean("Max Size")
	assert.ErrorContains(t, err, "has no values")
	v, _ := tbl.Defaults().Get("Max Size")
	assert.Zero(t, v)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	assert.ErrorContains(t, err, "empty file")

	_, err = Load(strings.NewReader("Port Number,Max Size\n1,2\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = Load(strings.NewReader(buildCSV(row("x", nil))))
	assert.ErrorContains(t, err, `row 1 column "Port Number"`)

	tbl, err := Load(strings.NewReader(buildCSV(row("1", nil))))
	require.NoError(t, err)
	_, err = tbl.Mean("Label")
	assert.ErrorContains(t, err, "not a model feature")
}

func TestLoadStripsBOM(t *testing.T) {
	var b strings.Builder
	b.WriteString("\ufeff")
	b.WriteString(strings.Join(features.Names[:], ","))
	b.WriteString("\n")
	b.WriteString(strings.Join(row("5", nil), ","))
	b.WriteString("\n")

	tbl, err := Load(strings.NewReader(b.String()))
	require.NoError(t, err)
	m, err := tbl.Mean("Port Number")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, m, 1e-9)
}

func TestLoadBooleanColumn(t *testing.T) {
	csv := buildCSV(
		row("1", map[int]string{25: "True"}),
		row("3", map[int]string{25: "False"}),
		row("5", map[int]string{25: "true"}),
		row("7", map[int]string{25: "FALSE"}),
	)
	tbl, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	m, err := tbl.Mean("is_valid")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m, 1e-9)
}

func TestLoadSkipsMissingTokens(t *testing.T) {
	for _, tok := range []string{"NA", "N/A", "NaN", "nan", "null", "NULL", "<NA>", "#N/A", "None", "-nan"} {
		t.Run(tok, func(t *testing.T) {
			csv := buildCSV(
				row("1", map[int]string{0: tok}),
				row("1", map[int]string{0: "443"}),
			)
			tbl, err := Load(strings.NewReader(csv))
			require.NoError(t, err)

			m, err := tbl.Mean("Port Number")
			require.NoError(t, err)
			assert.InDelta(t, 443.0, m, 1e-9)
			assert.Equal(t, 2, tbl.Len())
		})
	}
}

func TestLoadSkipsOtherNaNSpellings(t *testing.T) {
	csv := buildCSV(
		row("2", map[int]string{0: "NAN"}),
		row("2", map[int]string{0: "80"}),
	)
	tbl, err := Load(strings.NewReader(csv))
	require.NoError(t, err)
	m, err := tbl.Mean("Port Number")
	require.NoError(t, err)
	assert.InDelta(t, 80.0, m, 1e-9)
}
