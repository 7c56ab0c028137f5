package analysis

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Synthesizer merges whichever provider results succeeded into one ranked,
// deduplicated recommendation set.
type Synthesizer struct {
	log *logrus.Logger
}

// NewSynthesizer creates a new synthesis engine.
func NewSynthesizer(logger *logrus.Logger) *Synthesizer {
	return &Synthesizer{log: logger}
}

// Synthesize combines the primary result and zero-or-more research results.
// Aggregate urgency is the maximum across all results; aggregate confidence
// is their mean. It defensively rejects an empty input set rather than
// producing a misleading empty recommendation set.
func (s *Synthesizer) Synthesize(primary *domain.ProviderAnalysisResult, research []*domain.ProviderAnalysisResult) (domain.FinalRecommendations, error) {
	if primary == nil {
		return domain.FinalRecommendations{}, &domain.SynthesisError{
			Reason: "synthesis requires a successful primary result",
		}
	}

	all := make([]*domain.ProviderAnalysisResult, 0, 1+len(research))
	all = append(all, primary)
	for _, r := range research {
		if r != nil {
			all = append(all, r)
		}
	}

	final := domain.FinalRecommendations{
		Urgency: domain.UrgencyLow,
	}

	var confidenceSum float64
	for _, result := range all {
		final.PossibleDiagnoses = mergeUnique(final.PossibleDiagnoses, result.PossibleDiagnoses)
		final.ClinicalQuestions = mergeUnique(final.ClinicalQuestions, result.ClinicalQuestions)
		final.FollowUpActions = mergeRecommendations(final.FollowUpActions, result.Recommendations)
		final.Urgency = domain.MaxUrgency(final.Urgency, result.Urgency)
		confidenceSum += result.Confidence
	}
	final.Confidence = confidenceSum / float64(len(all))

	s.log.WithFields(logrus.Fields{
		"results":    len(all),
		"diagnoses":  len(final.PossibleDiagnoses),
		"questions":  len(final.ClinicalQuestions),
		"follow_ups": len(final.FollowUpActions),
		"urgency":    final.Urgency,
		"confidence": final.Confidence,
	}).Info("Synthesized provider results")

	return final, nil
}

// mergeUnique is a case-insensitive, order-preserving, first-seen-wins union.
func mergeUnique(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[strings.ToLower(strings.TrimSpace(item))] = struct{}{}
	}
	for _, item := range incoming {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, trimmed)
	}
	return existing
}

// mergeRecommendations appends incoming recommendations, deduplicating within
// the same type by case-insensitive description. Different types never
// deduplicate against each other.
func mergeRecommendations(existing []domain.Recommendation, incoming []domain.Recommendation) []domain.Recommendation {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[recommendationKey(rec)] = struct{}{}
	}
	for _, rec := range incoming {
		if strings.TrimSpace(rec.Description) == "" {
			continue
		}
		key := recommendationKey(rec)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, rec)
	}
	return existing
}

func recommendationKey(rec domain.Recommendation) string {
	return strings.ToLower(strings.TrimSpace(rec.Type)) + "|" + strings.ToLower(strings.TrimSpace(rec.Description))
}
