package domain

import "strings"

// AbnormalFlag marks how a lab value relates to its reference range.
type AbnormalFlag string

const (
	FlagHigh         AbnormalFlag = "H"
	FlagLow          AbnormalFlag = "L"
	FlagCriticalHigh AbnormalFlag = "HH"
	FlagCriticalLow  AbnormalFlag = "LL"
	FlagNormal       AbnormalFlag = "N"
	FlagUnknown      AbnormalFlag = ""
)

// ParseAbnormalFlag maps a raw flag token to an AbnormalFlag.
// Unrecognized tokens map to FlagUnknown rather than failing.
func ParseAbnormalFlag(token string) AbnormalFlag {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "H":
		return FlagHigh
	case "L":
		return FlagLow
	case "HH":
		return FlagCriticalHigh
	case "LL":
		return FlagCriticalLow
	case "N":
		return FlagNormal
	default:
		return FlagUnknown
	}
}

// IsCritical reports whether the flag marks a critically abnormal value.
func (f AbnormalFlag) IsCritical() bool {
	return f == FlagCriticalHigh || f == FlagCriticalLow
}

// IsAbnormal reports whether the flag marks any out-of-range value.
func (f AbnormalFlag) IsAbnormal() bool {
	return f == FlagHigh || f == FlagLow || f.IsCritical()
}

func (f AbnormalFlag) String() string {
	return string(f)
}

// Censor records the direction of a censored numeric value ("<5", ">500").
type Censor string

const (
	CensorNone  Censor = ""
	CensorBelow Censor = "<"
	CensorAbove Censor = ">"
)

// UrgencyLevel is the ordered clinical urgency scale.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "LOW"
	UrgencyMedium   UrgencyLevel = "MEDIUM"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyCritical UrgencyLevel = "CRITICAL"
)

var urgencyRank = map[UrgencyLevel]int{
	UrgencyLow:      0,
	UrgencyMedium:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

// Rank returns the ordinal position of the urgency level; unknown levels rank lowest.
func (u UrgencyLevel) Rank() int {
	return urgencyRank[u]
}

func (u UrgencyLevel) String() string {
	return string(u)
}

// MaxUrgency returns the higher of two urgency levels. A single provider
// flagging CRITICAL escalates the whole result; a severity signal is never
// silently downgraded.
func MaxUrgency(a, b UrgencyLevel) UrgencyLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseUrgencyLevel maps a raw urgency token to an UrgencyLevel, defaulting to LOW.
func ParseUrgencyLevel(token string) UrgencyLevel {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "CRITICAL":
		return UrgencyCritical
	case "HIGH":
		return UrgencyHigh
	case "MEDIUM", "MODERATE":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// AnalysisState tracks a document-analysis request through its lifecycle.
type AnalysisState string

const (
	StatePending     AnalysisState = "PENDING"
	StateDispatched  AnalysisState = "DISPATCHED"
	StatePartial     AnalysisState = "PARTIAL"
	StateComplete    AnalysisState = "COMPLETE"
	StateSynthesized AnalysisState = "SYNTHESIZED"
	StateFailed      AnalysisState = "FAILED"
)

// Terminal reports whether the state ends the request lifecycle.
func (s AnalysisState) Terminal() bool {
	return s == StateSynthesized || s == StateFailed
}

func (s AnalysisState) String() string {
	return string(s)
}

// RangeSeverity grades how far outside the reference range a value falls.
type RangeSeverity string

const (
	SeverityNormal   RangeSeverity = "NORMAL"
	SeverityAbnormal RangeSeverity = "ABNORMAL"
	SeverityCritical RangeSeverity = "CRITICAL"
)
