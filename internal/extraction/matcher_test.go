package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeywords = []string{
	"glucose", "potassium", "sodium", "hemoglobin", "creatinine", "tsh", "platelets",
}

func TestMatcher_LineGrammars(t *testing.T) {
	matcher := NewMatcher(testLogger(), testKeywords)

	tests := []struct {
		name      string
		line      string
		wantName  string
		wantValue string
		wantUnit  string
		wantRange string
		wantFlag  string
	}{
		{
			name:      "Columnar layout",
			line:      "Glucose  105  mg/dL  70-100  H",
			wantName:  "Glucose",
			wantValue: "105",
			wantUnit:  "mg/dL",
			wantRange: "70-100",
			wantFlag:  "H",
		},
		{
			name:      "Columnar without flag",
			line:      "Creatinine  1.1  mg/dL  0.6-1.2",
			wantName:  "Creatinine",
			wantValue: "1.1",
			wantUnit:  "mg/dL",
			wantRange: "0.6-1.2",
		},
		{
			name:      "Colon layout with parenthesized range",
			line:      "Potassium: 6.8 (3.5-5.1) HH",
			wantName:  "Potassium",
			wantValue: "6.8",
			wantRange: "3.5-5.1",
			wantFlag:  "HH",
		},
		{
			name:      "Colon layout with unit",
			line:      "Glucose: 105 mg/dL",
			wantName:  "Glucose",
			wantValue: "105",
			wantUnit:  "mg/dL",
		},
		{
			name:      "Flag before range",
			line:      "Sodium  128  mmol/L  L  135-145",
			wantName:  "Sodium",
			wantValue: "128",
			wantUnit:  "mmol/L",
			wantRange: "135-145",
			wantFlag:  "L",
		},
		{
			name:      "Tab delimited",
			line:      "Hemoglobin\t10.7\tg/dL\t12.0-16.0\tL",
			wantName:  "Hemoglobin",
			wantValue: "10.7",
			wantUnit:  "g/dL",
			wantRange: "12.0-16.0",
			wantFlag:  "L",
		},
		{
			name:      "Bare name value unit",
			line:      "Hemoglobin  10.7 g/dL",
			wantName:  "Hemoglobin",
			wantValue: "10.7",
			wantUnit:  "g/dL",
		},
		{
			name:      "Censored value",
			line:      "TSH: <0.01 mIU/L",
			wantName:  "TSH",
			wantValue: "<0.01",
			wantUnit:  "mIU/L",
		},
		{
			name:      "En dash range",
			line:      "Glucose  105  mg/dL  70–100",
			wantName:  "Glucose",
			wantValue: "105",
			wantUnit:  "mg/dL",
			wantRange: "70–100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := matcher.MatchLine(tt.line, 7)
			require.NotNil(t, match, "expected a match for %q", tt.line)
			assert.Equal(t, tt.wantName, match.Name)
			assert.Equal(t, tt.wantValue, match.Value)
			assert.Equal(t, tt.wantUnit, match.Unit)
			assert.Equal(t, tt.wantRange, match.ReferenceRange)
			assert.Equal(t, tt.wantFlag, match.Flag)
			assert.Equal(t, 7, match.Line)
			assert.Equal(t, tt.line, match.SourceText)
			assert.Greater(t, match.BaseConfidence, 0.0)
		})
	}
}

func TestMatcher_RejectsNonValueLines(t *testing.T) {
	matcher := NewMatcher(testLogger(), testKeywords)

	tests := []struct {
		name string
		line string
	}{
		{"Empty line", ""},
		{"Divider", "------------------------"},
		{"Column header", "Test Name  Result  Units  Reference Range  Flag"},
		{"Section title", "COMPLETE BLOOD COUNT"},
		{"Page marker", "Page 3"},
		{"Continued marker", "(continued)"},
		{"Prose sentence", "Specimen received in good condition"},
		{"Unrecognized test name", "Frobnication Index  42  units  1-10"},
		{"Phone number fragment", "Call 555  1234"},
		{"No value token", "Glucose: pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, matcher.MatchLine(tt.line, 1))
		})
	}
}

func TestMatcher_FirstGrammarWins(t *testing.T) {
	matcher := NewMatcher(testLogger(), testKeywords)

	// Fits both the columnar and the bare name-value-unit grammars; the
	// earlier columnar grammar must claim it with its higher base confidence.
	match := matcher.MatchLine("Glucose  105  mg/dL  70-100", 1)
	require.NotNil(t, match)
	assert.Equal(t, "70-100", match.ReferenceRange)
	assert.InDelta(t, 0.6, match.BaseConfidence, 0.001)
}

func TestMatcher_ShortKeywordsDropped(t *testing.T) {
	// One and two character abbreviations gate too loosely as substrings
	// and must not be used.
	matcher := NewMatcher(testLogger(), []string{"k+", "hb", "glucose"})

	assert.Nil(t, matcher.MatchLine("K+  4.2  mmol/L  3.5-5.1", 1))
	assert.NotNil(t, matcher.MatchLine("Glucose  105  mg/dL  70-100", 1))
}
