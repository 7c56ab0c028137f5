package reference

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-analysis-server/internal/domain"
)

func newTestLookup() *Lookup {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewLookup(logger)
}

func TestLookup_Classify(t *testing.T) {
	lookup := newTestLookup()

	tests := []struct {
		name         string
		testName     string
		value        float64
		wantFlag     domain.AbnormalFlag
		wantSeverity domain.RangeSeverity
	}{
		{"Normal glucose", "Glucose", 85, domain.FlagNormal, domain.SeverityNormal},
		{"High glucose", "Glucose", 140, domain.FlagHigh, domain.SeverityAbnormal},
		{"Low glucose", "Glucose", 60, domain.FlagLow, domain.SeverityAbnormal},
		{"Critically low glucose", "Glucose", 35, domain.FlagCriticalLow, domain.SeverityCritical},
		{"Critically high glucose", "Glucose", 600, domain.FlagCriticalHigh, domain.SeverityCritical},
		{"Boundary value is normal", "Glucose", 100, domain.FlagNormal, domain.SeverityNormal},
		{"Critical boundary is only abnormal", "Potassium", 6.5, domain.FlagHigh, domain.SeverityAbnormal},
		{"Critically high potassium", "Potassium", 6.8, domain.FlagCriticalHigh, domain.SeverityCritical},
		{"High-only analyte", "Troponin", 0.1, domain.FlagHigh, domain.SeverityAbnormal},
		{"High-only analyte normal", "Troponin", 0.01, domain.FlagNormal, domain.SeverityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classification, err := lookup.Classify(tt.testName, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, classification.Flag)
			assert.Equal(t, tt.wantSeverity, classification.Severity)
			assert.NotNil(t, classification.Range)
		})
	}
}

func TestLookup_NameResolution(t *testing.T) {
	lookup := newTestLookup()

	tests := []struct {
		name     string
		testName string
		found    bool
	}{
		{"Canonical name", "Glucose", true},
		{"Lowercase", "glucose", true},
		{"Alias", "blood sugar", true},
		{"Short alias exact", "K+", true},
		{"Fuzzy containment", "Glucose Level", true},
		{"Reverse containment", "Alkaline phosphatase enzyme", true},
		{"Unknown analyte", "Midichlorians", false},
		{"Empty name", "", false},
		{"Short unknown", "zz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lookup.Classify(tt.testName, 1.0)
			if tt.found {
				assert.NoError(t, err)
			} else {
				var lookupErr *domain.LookupError
				assert.ErrorAs(t, err, &lookupErr)
			}
		})
	}
}

func TestLookup_ResolutionIsMemoized(t *testing.T) {
	lookup := newTestLookup()

	// First call resolves by substring scan, second must hit the memo and
	// return the same definition.
	first, err := lookup.Classify("Fasting Glucose Level", 85)
	require.NoError(t, err)
	second, err := lookup.Classify("Fasting Glucose Level", 85)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLookup_Range(t *testing.T) {
	lookup := newTestLookup()

	r, ok := lookup.Range("Potassium")
	require.True(t, ok)
	require.NotNil(t, r.Low)
	require.NotNil(t, r.High)
	assert.InDelta(t, 3.5, *r.Low, 0.001)
	assert.InDelta(t, 5.1, *r.High, 0.001)

	_, ok = lookup.Range("Midichlorians")
	assert.False(t, ok)
}

func TestLookup_Keywords(t *testing.T) {
	lookup := newTestLookup()

	keywords := lookup.Keywords()
	assert.NotEmpty(t, keywords)

	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		seen[kw] = true
	}
	assert.True(t, seen["glucose"])
	assert.True(t, seen["potassium"])
	assert.True(t, seen["blood sugar"])
}
