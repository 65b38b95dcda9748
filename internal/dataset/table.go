// Package dataset parses the reference traffic CSV used to pre-fill the
// detection form.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nids-dash/nids-go/internal/features"
)

// ErrMissingColumn is returned when the header lacks a model feature.
var ErrMissingColumn = errors.New("missing column")

// Table holds the per-feature statistics of the reference dataset. It is
// built once and never mutated.
type Table struct {
	columns []string
	rows    int
	means   map[string]float64
}

// missingTokens are the cell spellings read as "no value", matching the
// default NA set of pandas.read_csv.
var missingTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

var boolTokens = map[string]float64{
	"True": 1, "true": 1, "TRUE": 1,
	"False": 0, "false": 0, "FALSE": 0,
}

// parseCell reads one cell. ok is false for missing values, which are
// skipped when averaging. Boolean cells count as 1 and 0.
func parseCell(cell string) (v float64, ok bool, err error) {
	if _, missing := missingTokens[cell]; missing {
		return 0, false, nil
	}
	if b, isBool := boolTokens[cell]; isBool {
		return b, true, nil
	}
	v, err = strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

// Load parses a CSV with a header row. Every model feature must be present as
// a column; other columns are ignored. Missing cells (blank, NA, NaN, null
// and the like) are skipped when averaging.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, len(header))
	copy(columns, header)
	if len(columns) > 0 {
		columns[0] = strings.TrimPrefix(columns[0], "\ufeff")
	}

	pos := make([]int, features.Count)
	for i, name := range features.Names {
		pos[i] = -1
		for j, c := range columns {
			if c == name {
				pos[i] = j
				break
			}
		}
		if pos[i] < 0 {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}

	sums := make([]float64, features.Count)
	counts := make([]int, features.Count)
	rows := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		rows++
		for i, p := range pos {
			v, ok, err := parseCell(strings.TrimSpace(rec[p]))
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", rows, features.Names[i], err)
			}
			if !ok {
				continue
			}
			sums[i] += v
			counts[i]++
		}
	}

	means := make(map[string]float64, features.Count)
	for i, name := range features.Names {
		if counts[i] > 0 {
			means[name] = sums[i] / float64(counts[i])
		}
	}
	return &Table{columns: columns, rows: rows, means: means}, nil
}

// Len is the number of data rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the header in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Mean returns the arithmetic mean of a feature column. A column with no
// numeric cells has no mean.
func (t *Table) Mean(name string) (float64, error) {
	if _, ok := features.Index(name); !ok {
		return 0, fmt.Errorf("%q is not a model feature", name)
	}
	m, ok := t.means[name]
	if !ok {
		return 0, fmt.Errorf("column %q has no values", name)
	}
	return m, nil
}

// Defaults returns the column means as a record. Columns without values
// default to zero.
func (t *Table) Defaults() features.Record {
	var r features.Record
	for name, m := range t.means {
		r.Set(name, m)
	}
	return r
}
