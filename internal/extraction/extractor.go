// Package extraction converts noisy OCR text from scanned laboratory reports
// into structured, clinically-flagged lab values. The pipeline is sequential
// and CPU-bound: normalize, match line grammars, evaluate values, aggregate.
// It degrades instead of failing: a document with zero recognizable lines
// still yields a valid zero-confidence result.
package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Aggregate confidence is the per-value mean plus a small volume bonus so a
// report with many corroborating values scores above a single-line report,
// capped so volume alone cannot saturate confidence.
const (
	volumeBonusPerValue = 0.01
	volumeBonusCap      = 0.10
)

// Service runs the full extraction pass over one document.
type Service struct {
	log        *logrus.Logger
	normalizer *Normalizer
	matcher    *Matcher
	evaluator  *Evaluator
}

// KeywordSource supplies the recognized clinical-test keywords for the
// matcher's acceptance gate.
type KeywordSource interface {
	Keywords() []string
}

// NewService wires the extraction components around the given reference-range
// lookup. The lookup doubles as the keyword source when it implements
// KeywordSource.
func NewService(logger *logrus.Logger, lookup domain.ReferenceRangeLookup) *Service {
	var keywords []string
	if source, ok := lookup.(KeywordSource); ok {
		keywords = source.Keywords()
	}
	return &Service{
		log:        logger,
		normalizer: NewNormalizer(logger),
		matcher:    NewMatcher(logger, keywords),
		evaluator:  NewEvaluator(logger, lookup),
	}
}

// Extract runs the pipeline over raw report text. It never returns an error:
// per-line failures become processing notes and an empty document yields a
// degraded result with confidence 0.
func (s *Service) Extract(rawText string) *domain.LabExtractionResult {
	started := time.Now()

	normalized, metadata := s.normalizer.Normalize(rawText)

	result := &domain.LabExtractionResult{
		ID:          uuid.New().String(),
		Metadata:    metadata,
		ExtractedAt: time.Now().UTC(),
	}

	for i, line := range strings.Split(normalized, "\n") {
		lineNo := i + 1
		match := s.matcher.MatchLine(line, lineNo)
		if match == nil {
			continue
		}

		value, err := s.evaluator.Evaluate(match)
		if err != nil {
			result.ProcessingNotes = append(result.ProcessingNotes,
				fmt.Sprintf("line %d dropped: %v", lineNo, err))
			continue
		}
		result.Values = append(result.Values, *value)
	}

	result.Confidence = aggregateConfidence(result.Values)
	if len(result.Values) == 0 {
		result.ProcessingNotes = append(result.ProcessingNotes,
			"no recognizable lab values found in document")
	}

	s.log.WithFields(logrus.Fields{
		"extraction_id":   result.ID,
		"values":          len(result.Values),
		"confidence":      result.Confidence,
		"notes":           len(result.ProcessingNotes),
		"processing_time": time.Since(started),
	}).Info("Lab extraction completed")

	return result
}

func aggregateConfidence(values []domain.ExtractedLabValue) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v.Confidence
	}
	mean := sum / float64(len(values))

	bonus := volumeBonusPerValue * float64(len(values))
	if bonus > volumeBonusCap {
		bonus = volumeBonusCap
	}

	confidence := mean + bonus
	if confidence > 1 {
		return 1
	}
	return confidence
}
