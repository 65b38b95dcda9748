package result

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nids-dash/nids-go/internal/features"
)

func label(l features.Label) *features.Label { return &l }

func TestPresentNoResult(t *testing.T) {
	v := Present(nil)
	assert.False(t, v.HasResult)
	assert.Equal(t, NoResultNotice, v.Notice)
	assert.Empty(t, v.Category)
	assert.Empty(t, v.Actions)
}

func TestPresentBenign(t *testing.T) {
	v := Present(label(features.LabelLegitimate))
	assert.True(t, v.HasResult)
	assert.True(t, v.Benign)
	assert.Equal(t, "LEGITIMATE NETWORK TRAFFIC", v.Category)
	assert.Equal(t, BenignMessage, v.Message)
	assert.Empty(t, v.Actions)
	assert.Empty(t, v.Notice)
}

func TestPresentThreats(t *testing.T) {
	want := []string{
		"Isolate affected systems.",
		"Review security logs.",
		"Update firewall rules.",
		"Contact the security team.",
	}
	for l := features.Label(1); l <= 5; l++ {
		v := Present(label(l))
		cat, _ := features.Lookup(l)
		assert.True(t, v.HasResult)
		assert.False(t, v.Benign)
		assert.Equal(t, int(l), v.Label)
		assert.Equal(t, cat.Name, v.Category)
		assert.Equal(t, ThreatMessage, v.Message)
		assert.Equal(t, want, v.Actions)
	}
}

func TestPresentDoesNotShareRemediation(t *testing.T) {
	v := Present(label(features.LabelDDoS))
	v.Actions[0] = "changed"
	assert.Equal(t, "Isolate affected systems.", features.Remediation[0])
}

func TestPresentUnknownLabel(t *testing.T) {
	v := Present(label(17))
	assert.False(t, v.HasResult)
	assert.Equal(t, NoResultNotice, v.Notice)
}
