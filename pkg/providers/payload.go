// Package providers implements the analysis provider collaborators: HTTP
// clients for the primary and research analysis services, plus a resilience
// layer (circuit breakers and a Redis result cache) shared by all of them.
// Every client satisfies domain.AnalysisProvider and reports failures as
// *domain.ProviderError.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lab-analysis-server/internal/domain"
)

// analysisPayload is the JSON document every provider must return. Parsing is
// strict and fails closed: an unparsable or structurally empty payload is a
// provider failure, never a best-effort partial result.
type analysisPayload struct {
	DocumentType      string                `json:"document_type"`
	Findings          []findingPayload      `json:"findings"`
	Patterns          []string              `json:"patterns"`
	PossibleDiagnoses []string              `json:"possible_diagnoses"`
	ClinicalQuestions []string              `json:"clinical_questions"`
	Recommendations   []recommendationEntry `json:"recommendations"`
	OverallAssessment string                `json:"overall_assessment"`
	Urgency           string                `json:"urgency"`
	Confidence        float64               `json:"confidence"`
}

type findingPayload struct {
	TestName    string `json:"test_name"`
	Explanation string `json:"explanation"`
	Severity    string `json:"severity"`
}

type recommendationEntry struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Timeframe   string `json:"timeframe"`
}

// parseAnalysisPayload decodes and validates a provider response body.
func parseAnalysisPayload(provider string, raw string) (*analysisPayload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.NewProviderError(provider, "empty response payload", nil)
	}

	// Some providers wrap JSON in markdown fences despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload analysisPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, domain.NewProviderError(provider, "unparsable response payload", err)
	}

	if payload.OverallAssessment == "" && len(payload.Findings) == 0 && len(payload.Recommendations) == 0 {
		return nil, domain.NewProviderError(provider, "response payload carries no analysis content", nil)
	}

	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, domain.NewProviderError(provider,
			fmt.Sprintf("confidence %v outside [0,1]", payload.Confidence), nil)
	}

	return &payload, nil
}

// toResult converts a validated payload into the domain result.
func (p *analysisPayload) toResult(provider, kind string) *domain.ProviderAnalysisResult {
	result := &domain.ProviderAnalysisResult{
		Provider:          provider,
		AnalysisKind:      kind,
		DocumentType:      p.DocumentType,
		Patterns:          p.Patterns,
		PossibleDiagnoses: p.PossibleDiagnoses,
		ClinicalQuestions: p.ClinicalQuestions,
		OverallAssessment: p.OverallAssessment,
		Urgency:           domain.ParseUrgencyLevel(p.Urgency),
		Confidence:        p.Confidence,
	}
	for _, f := range p.Findings {
		result.Findings = append(result.Findings, domain.AbnormalFinding{
			TestName:    f.TestName,
			Explanation: f.Explanation,
			Severity:    f.Severity,
		})
	}
	for _, r := range p.Recommendations {
		result.Recommendations = append(result.Recommendations, domain.Recommendation{
			Type:        r.Type,
			Description: r.Description,
			Priority:    r.Priority,
			Timeframe:   r.Timeframe,
		})
	}
	return result
}

// buildDocumentDescription renders the analysis request as the textual
// document description all providers receive.
func buildDocumentDescription(req *domain.AnalysisRequest) string {
	var b strings.Builder

	b.WriteString("Laboratory report analysis request.\n")
	if req.Patient.Name != "" || req.Patient.Age > 0 || req.Patient.Gender != "" {
		fmt.Fprintf(&b, "Patient: %s", req.Patient.Name)
		if req.Patient.Age > 0 {
			fmt.Fprintf(&b, ", age %d", req.Patient.Age)
		}
		if req.Patient.Gender != "" {
			fmt.Fprintf(&b, ", %s", req.Patient.Gender)
		}
		b.WriteString("\n")
	}
	if len(req.Patient.MedicalHistory) > 0 {
		fmt.Fprintf(&b, "History: %s\n", strings.Join(req.Patient.MedicalHistory, "; "))
	}
	if len(req.Patient.Medications) > 0 {
		fmt.Fprintf(&b, "Medications: %s\n", strings.Join(req.Patient.Medications, "; "))
	}

	if ext := req.Extraction; ext != nil {
		if ext.Metadata.LabName != "" {
			fmt.Fprintf(&b, "Laboratory: %s\n", ext.Metadata.LabName)
		}
		fmt.Fprintf(&b, "Extracted values (%d, extraction confidence %.2f):\n",
			len(ext.Values), ext.Confidence)
		for _, v := range ext.Values {
			fmt.Fprintf(&b, "- %s: %s", v.TestName, v.RawValue)
			if v.Unit != "" {
				fmt.Fprintf(&b, " %s", v.Unit)
			}
			if v.ReferenceRange != nil && v.ReferenceRange.Text != "" {
				fmt.Fprintf(&b, " (ref %s)", v.ReferenceRange.Text)
			}
			if v.AbnormalFlag.IsAbnormal() {
				fmt.Fprintf(&b, " [%s]", v.AbnormalFlag)
			}
			b.WriteString("\n")
		}
	}

	if len(req.PriorFindings) > 0 {
		b.WriteString("Preliminary findings from primary analysis:\n")
		for _, f := range req.PriorFindings {
			fmt.Fprintf(&b, "- %s: %s\n", f.TestName, f.Explanation)
		}
	}

	if req.DocumentText != "" {
		fmt.Fprintf(&b, "Report text:\n%s\n", req.DocumentText)
	}

	return b.String()
}

// responseSchemaInstruction tells each provider the exact JSON shape to return.
const responseSchemaInstruction = `Return ONLY a JSON object with this exact structure and no extra text:
{
  "document_type": "lab_report",
  "findings": [{"test_name": "...", "explanation": "...", "severity": "..."}],
  "patterns": ["..."],
  "possible_diagnoses": ["..."],
  "clinical_questions": ["..."],
  "recommendations": [{"type": "...", "description": "...", "priority": "...", "timeframe": "..."}],
  "overall_assessment": "...",
  "urgency": "LOW|MEDIUM|HIGH|CRITICAL",
  "confidence": 0.0
}`
