package domain

import (
	"time"
)

// Extraction Models

// RawLineMatch is one tentative parse of a report line. It is produced by the
// line-format matcher and consumed by the value evaluator within a single
// extraction pass; nothing durable holds onto it.
type RawLineMatch struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Unit           string  `json:"unit,omitempty"`
	ReferenceRange string  `json:"reference_range,omitempty"`
	Flag           string  `json:"flag,omitempty"`
	Line           int     `json:"line"`
	Column         int     `json:"column"`
	SourceText     string  `json:"source_text"`
	BaseConfidence float64 `json:"base_confidence"`
}

// ReferenceRange is the clinically-accepted normal interval for a test.
type ReferenceRange struct {
	Text string   `json:"text,omitempty"`
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// ExtractedLabValue is the durable unit of extraction.
// Invariant: Critical implies AbnormalFlag is HH or LL.
type ExtractedLabValue struct {
	TestName       string          `json:"test_name"`
	RawValue       string          `json:"raw_value"`
	NumericValue   *float64        `json:"numeric_value,omitempty"`
	Censor         Censor          `json:"censor,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	ReferenceRange *ReferenceRange `json:"reference_range,omitempty"`
	AbnormalFlag   AbnormalFlag    `json:"abnormal_flag"`
	Critical       bool            `json:"critical"`
	Confidence     float64         `json:"confidence"`
	Line           int             `json:"line"`
	SourceText     string          `json:"source_text"`
}

// ReportMetadata holds report-level fields recovered from the document header.
// All fields are optional; a pattern that never matches leaves its field empty.
type ReportMetadata struct {
	LabName     string     `json:"lab_name,omitempty"`
	ReportDate  *time.Time `json:"report_date,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
	PatientID   string     `json:"patient_id,omitempty"`
}

// LabExtractionResult is created once per document and never mutated afterward.
// Zero extracted values is a degraded result, not an error: Confidence is 0 and
// ProcessingNotes records the failure mode.
type LabExtractionResult struct {
	ID              string              `json:"id"`
	Metadata        ReportMetadata      `json:"metadata"`
	Values          []ExtractedLabValue `json:"values"`
	Confidence      float64             `json:"confidence"`
	ProcessingNotes []string            `json:"processing_notes,omitempty"`
	ExtractedAt     time.Time           `json:"extracted_at"`
}

// Analysis Models

// PatientContext carries the patient details sent alongside extracted values.
type PatientContext struct {
	Name           string   `json:"name,omitempty"`
	Age            int      `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	MedicalHistory []string `json:"medical_history,omitempty"`
	Medications    []string `json:"medications,omitempty"`
}

// AnalysisRequest is the uniform input handed to every analysis provider.
// PriorFindings carries the primary provider's preliminary findings when they
// are available at construction time; providers must tolerate it being empty.
type AnalysisRequest struct {
	RequestID     string               `json:"request_id"`
	DocumentText  string               `json:"document_text"`
	Extraction    *LabExtractionResult `json:"extraction"`
	Patient       PatientContext       `json:"patient"`
	PriorFindings []AbnormalFinding    `json:"prior_findings,omitempty"`
}

// AbnormalFinding explains one out-of-range value.
type AbnormalFinding struct {
	TestName    string `json:"test_name"`
	Explanation string `json:"explanation"`
	Severity    string `json:"severity,omitempty"`
}

// Recommendation is a single actionable item from a provider.
type Recommendation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
	Timeframe   string `json:"timeframe,omitempty"`
}

// ProviderAnalysisResult is one provider's view of the document.
// One instance per provider per request, independent of the others.
type ProviderAnalysisResult struct {
	Provider          string            `json:"provider"`
	AnalysisKind      string            `json:"analysis_kind"`
	DocumentType      string            `json:"document_type,omitempty"`
	Findings          []AbnormalFinding `json:"findings,omitempty"`
	Patterns          []string          `json:"patterns,omitempty"`
	PossibleDiagnoses []string          `json:"possible_diagnoses,omitempty"`
	ClinicalQuestions []string          `json:"clinical_questions,omitempty"`
	Recommendations   []Recommendation  `json:"recommendations,omitempty"`
	OverallAssessment string            `json:"overall_assessment,omitempty"`
	Urgency           UrgencyLevel      `json:"urgency"`
	Confidence        float64           `json:"confidence"`
	ProcessingTime    time.Duration     `json:"processing_time"`
}

// FinalRecommendations is the synthesized consensus across all successful
// provider results.
type FinalRecommendations struct {
	PossibleDiagnoses []string         `json:"possible_diagnoses,omitempty"`
	ClinicalQuestions []string         `json:"clinical_questions,omitempty"`
	FollowUpActions   []Recommendation `json:"follow_up_actions,omitempty"`
	Urgency           UrgencyLevel     `json:"urgency"`
	Confidence        float64          `json:"confidence"`
}

// CoordinatedAnalysisResult is constructed once per analysis request after all
// provider calls have settled, and never mutated afterward.
type CoordinatedAnalysisResult struct {
	ID               string                    `json:"id"`
	ExtractionID     string                    `json:"extraction_id"`
	Primary          *ProviderAnalysisResult   `json:"primary"`
	ResearchFindings []*ProviderAnalysisResult `json:"research_findings"`
	Synthesis        FinalRecommendations      `json:"synthesis"`
	CreatedAt        time.Time                 `json:"created_at"`
}

// RangeClassification is the reference-range lookup outcome for one value.
type RangeClassification struct {
	Flag     AbnormalFlag  `json:"flag"`
	Severity RangeSeverity `json:"severity"`
	Range    *ReferenceRange
}
