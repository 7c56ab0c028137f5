package domain

import (
	"errors"
	"fmt"
)

// Error codes for different failure scenarios
const (
	ErrCodeExtraction = "EXTRACTION_ERROR"
	ErrCodeLookup     = "LOOKUP_ERROR"
	ErrCodeProvider   = "PROVIDER_ERROR"
	ErrCodeSynthesis  = "SYNTHESIS_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeInput      = "INVALID_INPUT"
)

// ExtractionError reports a line that could not be parsed or evaluated.
// It is always recovered locally and recorded as a processing note; it never
// surfaces as a pipeline failure.
type ExtractionError struct {
	Line   int
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", ErrCodeExtraction, e.Line, e.Reason)
}

// LookupError reports an unavailable reference range. Extraction treats it as
// insufficient data, defaulting to a neutral flag with reduced confidence.
type LookupError struct {
	TestName string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: no reference range for %q", ErrCodeLookup, e.TestName)
}

// ProviderError reports a failed provider call: timeout, network error, or an
// unparsable payload. Fatal for the primary provider, tolerated for research
// providers.
type ProviderError struct {
	Provider string
	Reason   string
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: provider %s: %s: %v", ErrCodeProvider, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: provider %s: %s", ErrCodeProvider, e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as a ProviderError for the named provider.
func NewProviderError(provider, reason string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Err: err}
}

// IsProviderTimeout reports whether err is a ProviderError caused by a timeout.
func IsProviderTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Timeout
}

// SynthesisError reports synthesis invoked with zero successful results.
// The primary-required invariant should make this unreachable; the engine
// rejects the input defensively instead of producing an empty recommendation set.
type SynthesisError struct {
	Reason string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCodeSynthesis, e.Reason)
}

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q: %s", ErrCodeInput, e.Field, e.Message)
}
