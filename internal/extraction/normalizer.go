package extraction

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Normalizer cleans raw OCR text and extracts report-level metadata.
// Normalization is idempotent: running it twice yields the same output.
type Normalizer struct {
	log *logrus.Logger
}

// NewNormalizer creates a new text normalizer
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{log: logger}
}

// Ordered textual corrections. OCR character-confusion fixes are restricted to
// clearly-numeric contexts so prose is never rewritten.
var (
	ocrZeroRe = regexp.MustCompile(`(\d)[oO](\d)`)
	ocrOneRe  = regexp.MustCompile(`(\d)[lI](\d)`)
	ocrLeadRe = regexp.MustCompile(`\b[oO](\.\d)`)

	multiSpaceRe = regexp.MustCompile(`   +`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)

	boilerplateLineRe = regexp.MustCompile(`(?i)^\s*(page \d+( of \d+)?|confidential|do not distribute|fax(ed)? (to|from).*|end of report|\*{3,}.*)\s*$`)
)

// unitReplacements canonicalizes common concentration-unit spellings.
// Keys must already be lowercase.
var unitReplacements = map[string]string{
	"mg/dl":  "mg/dL",
	"g/dl":   "g/dL",
	"ug/dl":  "ug/dL",
	"ng/dl":  "ng/dL",
	"mmol/l": "mmol/L",
	"meq/l":  "mEq/L",
	"u/l":    "U/L",
	"iu/l":   "IU/L",
	"miu/l":  "mIU/L",
	"ng/ml":  "ng/mL",
	"pg/ml":  "pg/mL",
	"mg/l":   "mg/L",
}

var unitRe = regexp.MustCompile(`(?i)\b(mg/dl|g/dl|ug/dl|ng/dl|mmol/l|meq/l|miu/l|iu/l|u/l|ng/ml|pg/ml|mg/l)\b`)

// Normalize applies the fixed correction sequence and scans the document head
// for metadata. It never fails; unmatched metadata fields stay empty.
func (n *Normalizer) Normalize(text string) (string, domain.ReportMetadata) {
	normalized := n.normalizeText(text)
	metadata := n.extractMetadata(normalized)

	n.log.WithFields(logrus.Fields{
		"input_bytes":  len(text),
		"output_bytes": len(normalized),
		"lab_name":     metadata.LabName,
		"has_date":     metadata.ReportDate != nil,
	}).Debug("Normalized report text")

	return normalized, metadata
}

func (n *Normalizer) normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if boilerplateLineRe.MatchString(line) {
			continue
		}

		// The confusion regexes consume their right-hand digit, so one pass
		// misses alternating runs like "1o2o3". Reapply until stable; every
		// substitution removes a letter, so the loop terminates.
		for {
			fixed := ocrZeroRe.ReplaceAllString(line, "${1}0${2}")
			fixed = ocrOneRe.ReplaceAllString(fixed, "${1}1${2}")
			fixed = ocrLeadRe.ReplaceAllString(fixed, "0${1}")
			if fixed == line {
				break
			}
			line = fixed
		}

		line = unitRe.ReplaceAllStringFunc(line, func(u string) string {
			if canonical, ok := unitReplacements[strings.ToLower(u)]; ok {
				return canonical
			}
			return u
		})

		// Runs of three or more spaces collapse to two; two spaces stay a
		// column separator for the line grammars.
		line = multiSpaceRe.ReplaceAllString(line, "  ")

		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Metadata patterns. Scanning stops at the first match per field and only the
// first handful of lines is considered.
const metadataScanLines = 15

var (
	labNameRe     = regexp.MustCompile(`(?i)^[^:]*\b(laborator(?:y|ies)|diagnostics|medical center|clinic|pathology|labs)\b`)
	reportDateRe  = regexp.MustCompile(`(?i)\b(?:collected|drawn|collection date|report date|date)\b[:\s]*(\d{4}-\d{2}-\d{2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	patientNameRe = regexp.MustCompile(`(?i)\b(?:patient|patient name|name)\b\s*[:#]\s*([A-Za-z][A-Za-z ,.'-]{1,60})`)
	patientIDRe   = regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?|patient id)\b\s*[:#]*\s*([A-Za-z0-9-]{2,30})`)
)

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "01-02-2006", "01/02/06", "1/2/06"}

func (n *Normalizer) extractMetadata(text string) domain.ReportMetadata {
	var meta domain.ReportMetadata

	lines := strings.Split(text, "\n")
	if len(lines) > metadataScanLines {
		lines = lines[:metadataScanLines]
	}

	for _, line := range lines {
		if meta.LabName == "" {
			if labNameRe.MatchString(line) {
				meta.LabName = strings.TrimSpace(line)
			}
		}
		if meta.ReportDate == nil {
			if m := reportDateRe.FindStringSubmatch(line); m != nil {
				if parsed, ok := parseReportDate(m[1]); ok {
					meta.ReportDate = &parsed
				}
			}
		}
		if meta.PatientName == "" {
			if m := patientNameRe.FindStringSubmatch(line); m != nil {
				meta.PatientName = strings.TrimSpace(m[1])
			}
		}
		if meta.PatientID == "" {
			if m := patientIDRe.FindStringSubmatch(line); m != nil {
				meta.PatientID = strings.TrimSpace(m[1])
			}
		}
	}

	return meta
}

func parseReportDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
