package extraction

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Matcher tries an ordered set of competing line grammars against each line.
// The first grammar that matches wins; a line never produces more than one
// RawLineMatch. The keyword acceptance gate prefers false negatives over false
// positives: a spurious value in a clinical record is worse than a missed one.
type Matcher struct {
	log      *logrus.Logger
	grammars []lineGrammar
	keywords []string
}

// lineGrammar is one pure line format: match returns nil when the line does
// not fit. Grammars are tried in slice order.
type lineGrammar struct {
	name  string
	match func(line string, lineNo int) *domain.RawLineMatch
}

// NewMatcher creates a matcher gated on the given recognized-test keywords.
func NewMatcher(logger *logrus.Logger, keywords []string) *Matcher {
	m := &Matcher{log: logger}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		// Short abbreviations gate too loosely as substrings.
		if len(kw) >= 3 {
			m.keywords = append(m.keywords, kw)
		}
	}
	m.grammars = []lineGrammar{
		{name: "columnar", match: matchColumnar},
		{name: "colon", match: matchColon},
		{name: "flag_before_range", match: matchFlagBeforeRange},
		{name: "tab_delimited", match: matchTabDelimited},
		{name: "name_value_unit", match: matchNameValueUnit},
	}
	return m
}

// MatchLine returns the first plausible match for the line, or nil.
func (m *Matcher) MatchLine(line string, lineNo int) *domain.RawLineMatch {
	if isHeaderOrBoilerplate(line) {
		return nil
	}

	for _, grammar := range m.grammars {
		match := grammar.match(line, lineNo)
		if match == nil {
			continue
		}
		if !m.plausible(match) {
			m.log.WithFields(logrus.Fields{
				"grammar": grammar.name,
				"line":    lineNo,
				"name":    match.Name,
			}).Debug("Discarded implausible line match")
			return nil
		}
		return match
	}
	return nil
}

var (
	dividerRe    = regexp.MustCompile(`^[-=_*\s.]{4,}$`)
	headerWordRe = regexp.MustCompile(`(?i)^\s*(test\s*(name)?|analyte|result(s)?|value|units?|reference( range| interval)?|flag|normal range)(\s+(test\s*(name)?|analyte|result(s)?|value|units?|reference( range| interval)?|flag|normal range))*\s*$`)
	sectionRe    = regexp.MustCompile(`^\s*[A-Z][A-Z /&-]{3,}:?\s*$`)
	pageMarkRe   = regexp.MustCompile(`(?i)^\s*(page\s+\d+|continued( on next page)?|\(continued\))\s*$`)
)

// isHeaderOrBoilerplate excludes column headers, dividers, page markers, and
// section titles before grammar matching.
func isHeaderOrBoilerplate(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if dividerRe.MatchString(trimmed) {
		return true
	}
	if headerWordRe.MatchString(trimmed) {
		return true
	}
	if pageMarkRe.MatchString(trimmed) {
		return true
	}
	// Section titles are all-caps with no digits.
	if sectionRe.MatchString(trimmed) && !strings.ContainsAny(trimmed, "0123456789") {
		return true
	}
	return false
}

// plausible applies the acceptance gate: the name token must start with a
// letter, have bounded length, and contain a recognized clinical-test keyword.
func (m *Matcher) plausible(match *domain.RawLineMatch) bool {
	name := strings.TrimSpace(match.Name)
	if name == "" || len(name) > 48 {
		return false
	}
	r := name[0]
	if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') {
		return false
	}
	if strings.TrimSpace(match.Value) == "" {
		return false
	}
	return m.containsKeyword(name)
}

func (m *Matcher) containsKeyword(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range m.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Grammar definitions. Shared token fragments:
//
//	name:  letters then letters/digits/space and light punctuation
//	value: optional </> censor, then digits with . and ,
//	range: low dash high, spaces tolerated around the dash
const (
	nameToken  = `([A-Za-z][A-Za-z0-9 ()/%.,'-]*?)`
	valueToken = `([<>]?\s?\d[\d.,]*)`
	rangeToken = `(\d[\d.,]*\s*[-\x{2013}]\s*\d[\d.,]*)`
	unitToken  = `([A-Za-z%][A-Za-z0-9/%^._-]*)`
	flagToken  = `(HH|LL|H|L|N)`
)

// "Glucose    105  mg/dL   70-100   H"
var columnarRe = regexp.MustCompile(`^` + nameToken + `\s{2,}` + valueToken + `\s+` + unitToken + `\s+` + rangeToken + `(?:\s+` + flagToken + `)?\s*$`)

func matchColumnar(line string, lineNo int) *domain.RawLineMatch {
	m := columnarRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &domain.RawLineMatch{
		Name:           strings.TrimSpace(m[1]),
		Value:          stripInnerSpace(m[2]),
		Unit:           m[3],
		ReferenceRange: m[4],
		Flag:           m[5],
		Line:           lineNo,
		SourceText:     line,
		BaseConfidence: 0.6,
	}
}

// "Potassium: 6.8 (3.5-5.1) HH"
var colonRe = regexp.MustCompile(`^` + nameToken + `:\s*` + valueToken + `(?:\s*` + unitToken + `)?(?:\s*\(([^)]+)\))?(?:\s+` + flagToken + `)?\s*$`)

func matchColon(line string, lineNo int) *domain.RawLineMatch {
	m := colonRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &domain.RawLineMatch{
		Name:           strings.TrimSpace(m[1]),
		Value:          stripInnerSpace(m[2]),
		Unit:           m[3],
		ReferenceRange: strings.TrimSpace(m[4]),
		Flag:           m[5],
		Line:           lineNo,
		SourceText:     line,
		BaseConfidence: 0.55,
	}
}

// "Sodium  128  mmol/L  L  135-145" — flag and range positions swapped.
var flagBeforeRangeRe = regexp.MustCompile(`^` + nameToken + `\s{2,}` + valueToken + `\s+` + unitToken + `\s+` + flagToken + `\s+` + rangeToken + `\s*$`)

func matchFlagBeforeRange(line string, lineNo int) *domain.RawLineMatch {
	m := flagBeforeRangeRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &domain.RawLineMatch{
		Name:           strings.TrimSpace(m[1]),
		Value:          stripInnerSpace(m[2]),
		Unit:           m[3],
		Flag:           m[4],
		ReferenceRange: m[5],
		Line:           lineNo,
		SourceText:     line,
		BaseConfidence: 0.55,
	}
}

var (
	tabValueRe = regexp.MustCompile(`^[<>]?\s?\d[\d.,]*$`)
	tabRangeRe = regexp.MustCompile(`^\d[\d.,]*\s*[-\x{2013}]\s*\d[\d.,]*$`)
	tabFlagRe  = regexp.MustCompile(`^(HH|LL|H|L|N)$`)
)

// Tab-delimited exports: name, value, then unit/range/flag in any of the
// remaining cells.
func matchTabDelimited(line string, lineNo int) *domain.RawLineMatch {
	if !strings.Contains(line, "\t") {
		return nil
	}
	cells := strings.Split(line, "\t")
	fields := make([]string, 0, len(cells))
	for _, cell := range cells {
		if trimmed := strings.TrimSpace(cell); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	if len(fields) < 2 || !tabValueRe.MatchString(fields[1]) {
		return nil
	}

	match := &domain.RawLineMatch{
		Name:           fields[0],
		Value:          stripInnerSpace(fields[1]),
		Line:           lineNo,
		SourceText:     line,
		BaseConfidence: 0.5,
	}
	for _, field := range fields[2:] {
		switch {
		case tabFlagRe.MatchString(field) && match.Flag == "":
			match.Flag = field
		case tabRangeRe.MatchString(field) && match.ReferenceRange == "":
			match.ReferenceRange = field
		case match.Unit == "":
			match.Unit = field
		}
	}
	return match
}

// "Hemoglobin  10.7 g/dL" — bare name/value/unit with no range or flag.
var nameValueUnitRe = regexp.MustCompile(`^` + nameToken + `\s{2,}` + valueToken + `(?:\s+` + unitToken + `)?\s*$`)

func matchNameValueUnit(line string, lineNo int) *domain.RawLineMatch {
	m := nameValueUnitRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &domain.RawLineMatch{
		Name:           strings.TrimSpace(m[1]),
		Value:          stripInnerSpace(m[2]),
		Unit:           m[3],
		Line:           lineNo,
		SourceText:     line,
		BaseConfidence: 0.45,
	}
}

func stripInnerSpace(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}
