// Package reference provides the read-only reference-range lookup used during
// extraction. The in-code table is the authoritative source of truth for
// ranges; it is safe for concurrent use.
package reference

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// rangeDefinition is one reference range with optional critical bounds.
type rangeDefinition struct {
	TestName     string
	Aliases      []string
	Unit         string
	Low          *float64
	High         *float64
	CriticalLow  *float64
	CriticalHigh *float64
}

// ptr is a helper to create pointers to float64 literals
func ptr(f float64) *float64 {
	return &f
}

// rangeDefinitions returns all reference ranges known to the lookup.
// Adult unisex ranges; critical bounds follow common laboratory alert limits.
func rangeDefinitions() []rangeDefinition {
	return []rangeDefinition{
		{
			TestName: "Glucose", Aliases: []string{"glucose", "fasting glucose", "blood sugar"},
			Unit: "mg/dL", Low: ptr(70), High: ptr(100),
			CriticalLow: ptr(40), CriticalHigh: ptr(500),
		},
		{
			TestName: "Potassium", Aliases: []string{"potassium", "k+"},
			Unit: "mmol/L", Low: ptr(3.5), High: ptr(5.1),
			CriticalLow: ptr(2.5), CriticalHigh: ptr(6.5),
		},
		{
			TestName: "Sodium", Aliases: []string{"sodium", "na+"},
			Unit: "mmol/L", Low: ptr(135), High: ptr(145),
			CriticalLow: ptr(120), CriticalHigh: ptr(160),
		},
		{
			TestName: "Chloride", Aliases: []string{"chloride", "cl-"},
			Unit: "mmol/L", Low: ptr(98), High: ptr(107),
		},
		{
			TestName: "Carbon dioxide", Aliases: []string{"carbon dioxide", "co2", "bicarbonate"},
			Unit: "mmol/L", Low: ptr(22), High: ptr(29),
			CriticalLow: ptr(10), CriticalHigh: ptr(40),
		},
		{
			TestName: "Calcium", Aliases: []string{"calcium"},
			Unit: "mg/dL", Low: ptr(8.5), High: ptr(10.2),
			CriticalLow: ptr(6.0), CriticalHigh: ptr(13.0),
		},
		{
			TestName: "Magnesium", Aliases: []string{"magnesium"},
			Unit: "mg/dL", Low: ptr(1.7), High: ptr(2.2),
			CriticalLow: ptr(1.0), CriticalHigh: ptr(4.9),
		},
		{
			TestName: "Phosphorus", Aliases: []string{"phosphorus", "phosphate"},
			Unit: "mg/dL", Low: ptr(2.5), High: ptr(4.5),
			CriticalLow: ptr(1.0),
		},
		{
			TestName: "Creatinine", Aliases: []string{"creatinine"},
			Unit: "mg/dL", Low: ptr(0.6), High: ptr(1.3),
			CriticalHigh: ptr(7.4),
		},
		{
			TestName: "Blood urea nitrogen", Aliases: []string{"bun", "urea nitrogen", "urea"},
			Unit: "mg/dL", Low: ptr(7), High: ptr(20),
			CriticalHigh: ptr(100),
		},
		{
			TestName: "Hemoglobin", Aliases: []string{"hemoglobin", "haemoglobin", "hgb", "hb"},
			Unit: "g/dL", Low: ptr(12.0), High: ptr(17.5),
			CriticalLow: ptr(7.0), CriticalHigh: ptr(20.0),
		},
		{
			TestName: "Hematocrit", Aliases: []string{"hematocrit", "hct"},
			Unit: "%", Low: ptr(36), High: ptr(50),
			CriticalLow: ptr(21), CriticalHigh: ptr(60),
		},
		{
			TestName: "White blood cells", Aliases: []string{"wbc", "white blood cell", "white blood cells", "leukocytes"},
			Unit: "x10^3/uL", Low: ptr(4.5), High: ptr(11.0),
			CriticalLow: ptr(1.0), CriticalHigh: ptr(50.0),
		},
		{
			TestName: "Platelets", Aliases: []string{"platelet", "platelets", "plt"},
			Unit: "x10^3/uL", Low: ptr(150), High: ptr(400),
			CriticalLow: ptr(20), CriticalHigh: ptr(1000),
		},
		{
			TestName: "Red blood cells", Aliases: []string{"rbc", "red blood cell", "red blood cells", "erythrocytes"},
			Unit: "x10^6/uL", Low: ptr(4.0), High: ptr(5.9),
		},
		{
			TestName: "Mean corpuscular volume", Aliases: []string{"mcv", "mean corpuscular volume"},
			Unit: "fL", Low: ptr(80), High: ptr(100),
		},
		{
			TestName: "Alanine aminotransferase", Aliases: []string{"alt", "alanine aminotransferase", "sgpt"},
			Unit: "U/L", Low: ptr(7), High: ptr(56),
		},
		{
			TestName: "Aspartate aminotransferase", Aliases: []string{"ast", "aspartate aminotransferase", "sgot"},
			Unit: "U/L", Low: ptr(10), High: ptr(40),
		},
		{
			TestName: "Alkaline phosphatase", Aliases: []string{"alkaline phosphatase", "alp"},
			Unit: "U/L", Low: ptr(44), High: ptr(147),
		},
		{
			TestName: "Bilirubin", Aliases: []string{"bilirubin"},
			Unit: "mg/dL", Low: ptr(0.1), High: ptr(1.2),
			CriticalHigh: ptr(15.0),
		},
		{
			TestName: "Albumin", Aliases: []string{"albumin"},
			Unit: "g/dL", Low: ptr(3.4), High: ptr(5.4),
		},
		{
			TestName: "Protein", Aliases: []string{"protein", "total protein"},
			Unit: "g/dL", Low: ptr(6.0), High: ptr(8.3),
		},
		{
			TestName: "Cholesterol", Aliases: []string{"cholesterol", "total cholesterol"},
			Unit: "mg/dL", High: ptr(200),
		},
		{
			TestName: "HDL cholesterol", Aliases: []string{"hdl", "hdl cholesterol"},
			Unit: "mg/dL", Low: ptr(40),
		},
		{
			TestName: "LDL cholesterol", Aliases: []string{"ldl", "ldl cholesterol"},
			Unit: "mg/dL", High: ptr(100),
		},
		{
			TestName: "Triglycerides", Aliases: []string{"triglycerides", "triglyceride"},
			Unit: "mg/dL", High: ptr(150),
		},
		{
			TestName: "Thyroid stimulating hormone", Aliases: []string{"tsh", "thyroid stimulating hormone", "thyrotropin"},
			Unit: "mIU/L", Low: ptr(0.4), High: ptr(4.0),
		},
		{
			TestName: "Free T4", Aliases: []string{"free t4", "thyroxine", "ft4"},
			Unit: "ng/dL", Low: ptr(0.8), High: ptr(1.8),
		},
		{
			TestName: "Hemoglobin A1c", Aliases: []string{"a1c", "hba1c", "hemoglobin a1c", "glycated hemoglobin"},
			Unit: "%", Low: ptr(4.0), High: ptr(5.6),
		},
		{
			TestName: "Vitamin D", Aliases: []string{"vitamin d", "25-hydroxyvitamin d", "25-oh vitamin d"},
			Unit: "ng/mL", Low: ptr(30), High: ptr(100),
		},
		{
			TestName: "Vitamin B12", Aliases: []string{"vitamin b12", "b12", "cobalamin"},
			Unit: "pg/mL", Low: ptr(200), High: ptr(900),
		},
		{
			TestName: "Ferritin", Aliases: []string{"ferritin"},
			Unit: "ng/mL", Low: ptr(12), High: ptr(300),
		},
		{
			TestName: "Iron", Aliases: []string{"iron", "serum iron"},
			Unit: "ug/dL", Low: ptr(60), High: ptr(170),
		},
		{
			TestName: "Uric acid", Aliases: []string{"uric acid", "urate"},
			Unit: "mg/dL", Low: ptr(3.5), High: ptr(7.2),
		},
		{
			TestName: "Lactate dehydrogenase", Aliases: []string{"ldh", "lactate dehydrogenase"},
			Unit: "U/L", Low: ptr(140), High: ptr(280),
		},
		{
			TestName: "C-reactive protein", Aliases: []string{"crp", "c-reactive protein"},
			Unit: "mg/L", High: ptr(10),
		},
		{
			TestName: "Erythrocyte sedimentation rate", Aliases: []string{"esr", "sedimentation rate", "sed rate"},
			Unit: "mm/hr", High: ptr(20),
		},
		{
			TestName: "Troponin", Aliases: []string{"troponin", "troponin i", "troponin t"},
			Unit: "ng/mL", High: ptr(0.04),
			CriticalHigh: ptr(0.4),
		},
		{
			TestName: "INR", Aliases: []string{"inr", "international normalized ratio"},
			Unit: "", Low: ptr(0.8), High: ptr(1.1),
			CriticalHigh: ptr(5.0),
		},
	}
}

// Lookup resolves test names against the range table. Name resolution is
// memoized in a small LRU because extraction resolves the same handful of
// names for every document.
type Lookup struct {
	log         *logrus.Logger
	definitions []rangeDefinition
	byAlias     map[string]int
	memo        *lru.Cache[string, int]
}

// NewLookup builds the lookup from the in-code table.
func NewLookup(logger *logrus.Logger) *Lookup {
	defs := rangeDefinitions()
	byAlias := make(map[string]int, len(defs)*2)
	for i, def := range defs {
		byAlias[strings.ToLower(def.TestName)] = i
		for _, alias := range def.Aliases {
			byAlias[strings.ToLower(alias)] = i
		}
	}

	// Cache size covers every alias with room for free-form variants.
	memo, _ := lru.New[string, int](256)

	return &Lookup{
		log:         logger,
		definitions: defs,
		byAlias:     byAlias,
		memo:        memo,
	}
}

// Keywords returns the recognized clinical-test keywords. The line-format
// matcher uses membership in this set as its acceptance gate.
func (l *Lookup) Keywords() []string {
	keywords := make([]string, 0, len(l.byAlias))
	for alias := range l.byAlias {
		keywords = append(keywords, alias)
	}
	return keywords
}

// Classify resolves testName and grades value against its range.
// An unresolvable name returns a *domain.LookupError.
func (l *Lookup) Classify(testName string, value float64) (*domain.RangeClassification, error) {
	def, ok := l.resolve(testName)
	if !ok {
		return nil, &domain.LookupError{TestName: testName}
	}

	classification := &domain.RangeClassification{
		Flag:     domain.FlagNormal,
		Severity: domain.SeverityNormal,
		Range:    &domain.ReferenceRange{Low: def.Low, High: def.High},
	}

	switch {
	case def.CriticalLow != nil && value < *def.CriticalLow:
		classification.Flag = domain.FlagCriticalLow
		classification.Severity = domain.SeverityCritical
	case def.CriticalHigh != nil && value > *def.CriticalHigh:
		classification.Flag = domain.FlagCriticalHigh
		classification.Severity = domain.SeverityCritical
	case def.Low != nil && value < *def.Low:
		classification.Flag = domain.FlagLow
		classification.Severity = domain.SeverityAbnormal
	case def.High != nil && value > *def.High:
		classification.Flag = domain.FlagHigh
		classification.Severity = domain.SeverityAbnormal
	}

	return classification, nil
}

// Range returns the reference interval for testName, if known.
func (l *Lookup) Range(testName string) (*domain.ReferenceRange, bool) {
	def, ok := l.resolve(testName)
	if !ok {
		return nil, false
	}
	return &domain.ReferenceRange{Low: def.Low, High: def.High}, true
}

// resolve maps a free-form test name to a range definition, first by exact
// alias, then by substring containment in either direction.
func (l *Lookup) resolve(testName string) (*rangeDefinition, bool) {
	name := strings.ToLower(strings.TrimSpace(testName))
	if name == "" {
		return nil, false
	}

	if idx, ok := l.byAlias[name]; ok {
		return &l.definitions[idx], true
	}

	if idx, ok := l.memo.Get(name); ok {
		return &l.definitions[idx], true
	}

	if len(name) < 4 {
		return nil, false
	}

	for alias, idx := range l.byAlias {
		// Short aliases (K+, Hb) only match exactly; substring matching on
		// them produces false hits inside unrelated names.
		if len(alias) < 4 {
			continue
		}
		if strings.Contains(name, alias) || strings.Contains(alias, name) {
			l.memo.Add(name, idx)
			return &l.definitions[idx], true
		}
	}

	return nil, false
}
