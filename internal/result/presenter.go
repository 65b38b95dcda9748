// Package result turns a session's stored label into the verdict shown on the
// result view. It only reads state.
package result

import (
	"github.com/nids-dash/nids-go/internal/features"
)

const (
	NoResultNotice = "No detection results yet. Please go to the 'Attack Detection' page to analyze network traffic."
	BenignMessage  = "Your network traffic appears normal."
	ThreatMessage  = "Potential security threat detected!"
)

// View is everything the result page renders.
type View struct {
	HasResult bool     `json:"has_result"`
	Notice    string   `json:"notice,omitempty"`
	Label     int      `json:"label"`
	Category  string   `json:"category,omitempty"`
	Benign    bool     `json:"benign"`
	Message   string   `json:"message,omitempty"`
	Actions   []string `json:"actions,omitempty"`
}

// Present builds the view for a prediction; nil means no detection has run
// in this session yet. A label outside the catalog is reported as no result.
func Present(prediction *features.Label) View {
	if prediction == nil {
		return View{Notice: NoResultNotice}
	}
	cat, ok := features.Lookup(*prediction)
	if !ok {
		return View{Notice: NoResultNotice}
	}

	v := View{
		HasResult: true,
		Label:     int(cat.Label),
		Category:  cat.Name,
		Benign:    cat.Benign,
	}
	if cat.Benign {
		v.Message = BenignMessage
		return v
	}
	v.Message = ThreatMessage
	v.Actions = append([]string(nil), features.Remediation[:]...)
	return v
}
