package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Evaluator turns one RawLineMatch into one ExtractedLabValue. Evaluation
// never panics and only errors when the match carries no usable name; any
// such line is dropped with a note, not retried.
type Evaluator struct {
	log    *logrus.Logger
	lookup domain.ReferenceRangeLookup
}

// NewEvaluator creates a new value evaluator with its range lookup collaborator.
func NewEvaluator(logger *logrus.Logger, lookup domain.ReferenceRangeLookup) *Evaluator {
	return &Evaluator{log: logger, lookup: lookup}
}

// Confidence adjustments. Increments reward corroborating structure on the
// line; penalties hit implausible token lengths. The result is clamped to [0,1].
const (
	confUnitBonus    = 0.10
	confRangeBonus   = 0.10
	confFlagBonus    = 0.05
	confNumericBonus = 0.10
	confShortNamePen = 0.15
	confLongValuePen = 0.10

	shortNameLen = 3
	longValueLen = 12
)

var (
	namePrefixes  = []string{"total ", "serum ", "plasma ", "blood ", "whole "}
	nameAllowRe   = regexp.MustCompile(`[^A-Za-z0-9 ()/%.-]`)
	numericJunkRe = regexp.MustCompile(`[^0-9.\-]`)
	rangePartsRe  = regexp.MustCompile(`^\s*([\d.,]+)\s*[-\x{2013}]\s*([\d.,]+)\s*$`)
)

// Evaluate produces the extracted value for match.
func (e *Evaluator) Evaluate(match *domain.RawLineMatch) (*domain.ExtractedLabValue, error) {
	name := normalizeTestName(match.Name)
	if name == "" {
		return nil, &domain.ExtractionError{Line: match.Line, Reason: "empty test name after normalization"}
	}

	numeric, censor := parseNumericValue(match.Value)
	refRange := parseReferenceRange(match.ReferenceRange)

	value := &domain.ExtractedLabValue{
		TestName:       name,
		RawValue:       strings.TrimSpace(match.Value),
		NumericValue:   numeric,
		Censor:         censor,
		Unit:           strings.TrimSpace(match.Unit),
		ReferenceRange: refRange,
		Line:           match.Line,
		SourceText:     match.SourceText,
	}

	e.resolveFlag(value, match.Flag)
	value.Confidence = scoreConfidence(match, value)

	return value, nil
}

// resolveFlag prefers the explicit flag token from the line. Without one, the
// report's own printed range outranks the in-code table, since labs calibrate
// ranges to their instruments; critical bounds still come from the lookup
// because reports do not print them. A value with no numeric interpretation
// keeps the unknown flag, and lookup failure defaults to normal. Neither
// fails the pipeline.
func (e *Evaluator) resolveFlag(value *domain.ExtractedLabValue, rawFlag string) {
	if flag := domain.ParseAbnormalFlag(rawFlag); flag != domain.FlagUnknown {
		value.AbnormalFlag = flag
		value.Critical = flag.IsCritical()
		return
	}

	if value.NumericValue == nil {
		value.AbnormalFlag = domain.FlagUnknown
		return
	}
	numeric := *value.NumericValue

	if flag, ok := classifyAgainstRange(value.ReferenceRange, numeric); ok {
		if classification, err := e.lookup.Classify(value.TestName, numeric); err == nil && classification.Flag.IsCritical() {
			flag = classification.Flag
		}
		value.AbnormalFlag = flag
		value.Critical = flag.IsCritical()
		return
	}

	classification, err := e.lookup.Classify(value.TestName, numeric)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"test_name": value.TestName,
			"line":      value.Line,
		}).Debug("Reference range unavailable, defaulting to normal flag")
		value.AbnormalFlag = domain.FlagNormal
		return
	}

	value.AbnormalFlag = classification.Flag
	value.Critical = classification.Flag.IsCritical()
	if value.ReferenceRange == nil && classification.Range != nil {
		value.ReferenceRange = classification.Range
	}
}

// classifyAgainstRange grades numeric against the bounds parsed off the line
// itself. ok is false when the line carries no usable bound.
func classifyAgainstRange(r *domain.ReferenceRange, numeric float64) (domain.AbnormalFlag, bool) {
	if r == nil || (r.Low == nil && r.High == nil) {
		return domain.FlagUnknown, false
	}
	if r.Low != nil && numeric < *r.Low {
		return domain.FlagLow, true
	}
	if r.High != nil && numeric > *r.High {
		return domain.FlagHigh, true
	}
	return domain.FlagNormal, true
}

// normalizeTestName trims, collapses whitespace, strips non-diagnostic
// prefixes, and removes characters outside the safe allow-list.
func normalizeTestName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	lower := strings.ToLower(name)
	for _, prefix := range namePrefixes {
		if strings.HasPrefix(lower, prefix) {
			name = name[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	name = nameAllowRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// parseNumericValue parses the value text, handling <X / >X censored values by
// returning the bound and its censor direction. Unparsable values yield a nil
// numeric without failing.
func parseNumericValue(raw string) (*float64, domain.Censor) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, domain.CensorNone
	}

	censor := domain.CensorNone
	switch {
	case strings.HasPrefix(trimmed, "<"):
		censor = domain.CensorBelow
		trimmed = trimmed[1:]
	case strings.HasPrefix(trimmed, ">"):
		censor = domain.CensorAbove
		trimmed = trimmed[1:]
	}

	cleaned := numericJunkRe.ReplaceAllString(trimmed, "")
	if cleaned == "" {
		return nil, domain.CensorNone
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, domain.CensorNone
	}
	return &parsed, censor
}

// parseReferenceRange parses "low-high" text into numeric bounds, keeping the
// original text for audit.
func parseReferenceRange(raw string) *domain.ReferenceRange {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	refRange := &domain.ReferenceRange{Text: trimmed}
	if m := rangePartsRe.FindStringSubmatch(trimmed); m != nil {
		if low, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			refRange.Low = &low
		}
		if high, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64); err == nil {
			refRange.High = &high
		}
	}
	return refRange
}

func scoreConfidence(match *domain.RawLineMatch, value *domain.ExtractedLabValue) float64 {
	confidence := match.BaseConfidence

	if value.Unit != "" {
		confidence += confUnitBonus
	}
	if value.ReferenceRange != nil {
		confidence += confRangeBonus
	}
	if strings.TrimSpace(match.Flag) != "" {
		confidence += confFlagBonus
	}
	if value.NumericValue != nil {
		confidence += confNumericBonus
	}
	if len(value.TestName) < shortNameLen {
		confidence -= confShortNamePen
	}
	if len(value.RawValue) > longValueLen {
		confidence -= confLongValuePen
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
