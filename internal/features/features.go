// Package features defines the fixed input schema of the intrusion model and
// the catalog of labels it can emit.
package features

import "fmt"

// Names are the model's input columns in the order it was trained on. They
// must match the reference dataset header byte for byte, which is why
// " Delta Packets Tx Dropped" keeps its leading space.
var Names = [...]string{
	"Port Number",
	"Received Packets",
	"Received Bytes",
	"Sent Bytes",
	"Sent Packets",
	"Port alive Duration (S)",
	"Packets Rx Dropped",
	"Packets Tx Dropped",
	"Packets Rx Errors",
	"Packets Tx Errors",
	"Delta Received Packets",
	"Delta Received Bytes",
	"Delta Sent Bytes",
	"Delta Sent Packets",
	"Delta Port alive Duration (S)",
	"Delta Packets Rx Dropped",
	" Delta Packets Tx Dropped",
	"Delta Packets Rx Errors",
	"Delta Packets Tx Errors",
	"Connection Point",
	"Total Load/Rate",
	"Total Load/Latest",
	"Unknown Load/Rate",
	"Unknown Load/Latest",
	"Latest bytes counter",
	"is_valid",
	"Table ID",
	"Active Flow Entries",
	"Packets Looked Up",
	"Packets Matched",
	"Max Size",
}

// Count is the number of model inputs.
const Count = len(Names)

var index = func() map[string]int {
	m := make(map[string]int, Count)
	for i, n := range Names {
		m[n] = i
	}
	return m
}()

// Index returns the column position of name.
func Index(name string) (int, bool) {
	i, ok := index[name]
	return i, ok
}

// Record is a single row of model input. Values are held in Names order so
// the row can be handed to a predictor without reordering.
type Record struct {
	values [Count]float64
}

// NewRecord builds a record from a name->value map. Every name in Names must
// be present; unknown keys are rejected.
func NewRecord(m map[string]float64) (Record, error) {
	var r Record
	for name := range m {
		if _, ok := index[name]; !ok {
			return r, fmt.Errorf("unknown feature %q", name)
		}
	}
	for i, name := range Names {
		v, ok := m[name]
		if !ok {
			return r, fmt.Errorf("missing feature %q", name)
		}
		r.values[i] = v
	}
	return r, nil
}

// Get returns the value for name.
func (r Record) Get(name string) (float64, bool) {
	i, ok := index[name]
	if !ok {
		return 0, false
	}
	return r.values[i], true
}

// Set assigns name. It returns false if name is not a model feature.
func (r *Record) Set(name string, v float64) bool {
	i, ok := index[name]
	if !ok {
		return false
	}
	r.values[i] = v
	return true
}

// Values returns a copy of the row in column order.
func (r Record) Values() []float64 {
	out := make([]float64, Count)
	copy(out, r.values[:])
	return out
}

// Map returns the row keyed by feature name.
func (r Record) Map() map[string]float64 {
	m := make(map[string]float64, Count)
	for i, name := range Names {
		m[name] = r.values[i]
	}
	return m
}
