package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-analysis-server/internal/domain"
	"github.com/lab-analysis-server/internal/reference"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(testLogger(), reference.NewLookup(testLogger()))
}

func TestService_ExtractColumnarReport(t *testing.T) {
	service := newTestService(t)

	report := "City Medical Center Laboratory\n" +
		"Patient Name: Jane Doe\n" +
		"Collected: 2026-03-14\n" +
		"\n" +
		"Test Name    Result    Units    Reference Range    Flag\n" +
		"--------------------------------------------------------\n" +
		"Glucose      1o5       mg/dl    70-100             H\n" +
		"Creatinine   1.1       mg/dL    0.6-1.2\n"

	result := service.Extract(report)

	require.Len(t, result.Values, 2)

	glucose := result.Values[0]
	assert.Equal(t, "Glucose", glucose.TestName)
	require.NotNil(t, glucose.NumericValue)
	assert.InDelta(t, 105, *glucose.NumericValue, 0.001)
	assert.Equal(t, "mg/dL", glucose.Unit)
	assert.Equal(t, domain.FlagHigh, glucose.AbnormalFlag)
	assert.False(t, glucose.Critical)
	require.NotNil(t, glucose.ReferenceRange)
	assert.Equal(t, "70-100", glucose.ReferenceRange.Text)

	creatinine := result.Values[1]
	assert.Equal(t, "Creatinine", creatinine.TestName)
	assert.Equal(t, domain.FlagNormal, creatinine.AbnormalFlag)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "Jane Doe", result.Metadata.PatientName)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestService_ExtractCriticalValue(t *testing.T) {
	service := newTestService(t)

	result := service.Extract("Potassium: 6.8 (3.5-5.1) HH\n")

	require.Len(t, result.Values, 1)
	potassium := result.Values[0]
	assert.Equal(t, "Potassium", potassium.TestName)
	assert.Equal(t, domain.FlagCriticalHigh, potassium.AbnormalFlag)
	assert.True(t, potassium.Critical)
}

func TestService_ExtractUnrecognizableDocument(t *testing.T) {
	service := newTestService(t)

	result := service.Extract("The quick brown fox.\nNothing clinical here.\n12345 67890\n")

	assert.Empty(t, result.Values)
	assert.Zero(t, result.Confidence)
	assert.NotEmpty(t, result.ID)
	require.NotEmpty(t, result.ProcessingNotes)
	assert.Contains(t, result.ProcessingNotes[0], "no recognizable lab values")
}

func TestService_ExtractEmptyDocument(t *testing.T) {
	service := newTestService(t)

	result := service.Extract("")

	assert.Empty(t, result.Values)
	assert.Zero(t, result.Confidence)
	assert.NotEmpty(t, result.ProcessingNotes)
}

func TestService_CriticalValuesCarryCriticalFlags(t *testing.T) {
	service := newTestService(t)

	report := "Glucose: 30 mg/dL\n" +
		"Potassium: 7.2 mmol/L\n" +
		"Sodium: 140 mmol/L\n" +
		"Hemoglobin: 13.5 g/dL\n"

	result := service.Extract(report)
	require.NotEmpty(t, result.Values)

	for _, value := range result.Values {
		if value.Critical {
			assert.True(t,
				value.AbnormalFlag == domain.FlagCriticalHigh || value.AbnormalFlag == domain.FlagCriticalLow,
				"critical value %s must carry a critical flag, got %s", value.TestName, value.AbnormalFlag)
		}
		if value.AbnormalFlag.IsCritical() {
			assert.True(t, value.Critical)
		}
	}

	// The glucose and potassium lines are critical, the others are not.
	byName := map[string]domain.ExtractedLabValue{}
	for _, v := range result.Values {
		byName[v.TestName] = v
	}
	assert.True(t, byName["Glucose"].Critical)
	assert.True(t, byName["Potassium"].Critical)
	assert.False(t, byName["Sodium"].Critical)
	assert.False(t, byName["Hemoglobin"].Critical)
}

func TestService_LineNumbersPointIntoNormalizedText(t *testing.T) {
	service := newTestService(t)

	report := "Glucose: 105 mg/dL\nSodium: 140 mmol/L\n"
	result := service.Extract(report)

	require.Len(t, result.Values, 2)
	assert.Equal(t, 1, result.Values[0].Line)
	assert.Equal(t, 2, result.Values[1].Line)
	assert.Equal(t, "Glucose: 105 mg/dL", result.Values[0].SourceText)
}

func TestAggregateConfidence(t *testing.T) {
	tests := []struct {
		name   string
		values []domain.ExtractedLabValue
		want   float64
	}{
		{"No values", nil, 0},
		{"Single value", []domain.ExtractedLabValue{{Confidence: 0.8}}, 0.81},
		{
			"Volume bonus",
			[]domain.ExtractedLabValue{{Confidence: 0.6}, {Confidence: 0.8}},
			0.72,
		},
		{
			"Capped at one",
			[]domain.ExtractedLabValue{{Confidence: 1.0}, {Confidence: 1.0}},
			1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, aggregateConfidence(tt.values), 0.0001)
		})
	}
}
