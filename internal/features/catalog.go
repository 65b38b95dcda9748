package features

import "strconv"

// Label is the integer class emitted by the model.
type Label int

const (
	LabelLegitimate Label = iota
	LabelDDoS
	LabelProtocolExploitation
	LabelReconnaissance
	LabelTrafficManipulation
	LabelBufferOverflow
)

// Category is the human readable entry for a label.
type Category struct {
	Label  Label  `json:"label"`
	Name   string `json:"name"`
	Benign bool   `json:"benign"`
}

var catalog = [...]Category{
	{Label: LabelLegitimate, Name: "LEGITIMATE NETWORK TRAFFIC", Benign: true},
	{Label: LabelDDoS, Name: "DDoS ATTACK DETECTED"},
	{Label: LabelProtocolExploitation, Name: "PROTOCOL EXPLOITATION DETECTED"},
	{Label: LabelReconnaissance, Name: "RECONNAISSANCE DETECTED"},
	{Label: LabelTrafficManipulation, Name: "TRAFFIC MANIPULATION DETECTED"},
	{Label: LabelBufferOverflow, Name: "BUFFER OVERFLOW DETECTED"},
}

// Remediation is the checklist shown for every non-benign verdict.
var Remediation = [...]string{
	"Isolate affected systems.",
	"Review security logs.",
	"Update firewall rules.",
	"Contact the security team.",
}

// Categories returns the full catalog ordered by label.
func Categories() []Category {
	out := make([]Category, len(catalog))
	copy(out, catalog[:])
	return out
}

// CategoryCount is the number of labels the model can emit.
func CategoryCount() int { return len(catalog) }

// Lookup returns the catalog entry for l.
func Lookup(l Label) (Category, bool) {
	if !l.Valid() {
		return Category{}, false
	}
	return catalog[l], true
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool { return l >= 0 && int(l) < len(catalog) }

// Benign reports whether l is the legitimate-traffic label.
func (l Label) Benign() bool { return l == LabelLegitimate }

func (l Label) String() string {
	if c, ok := Lookup(l); ok {
		return c.Name
	}
	return "label(" + strconv.Itoa(int(l)) + ")"
}
