package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExtractionError(t *testing.T) {
	err := &ExtractionError{Line: 12, Reason: "empty test name"}

	if !strings.Contains(err.Error(), ErrCodeExtraction) {
		t.Errorf("expected error code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "line 12") {
		t.Errorf("expected line number in message, got %q", err.Error())
	}
}

func TestLookupError(t *testing.T) {
	err := &LookupError{TestName: "Midichlorians"}

	if !strings.Contains(err.Error(), ErrCodeLookup) {
		t.Errorf("expected error code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "Midichlorians") {
		t.Errorf("expected test name in message, got %q", err.Error())
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProviderError("primary-clinical", "request failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}

	wrapped := fmt.Errorf("analysis failed: %w", err)
	var pe *ProviderError
	if !errors.As(wrapped, &pe) {
		t.Fatal("expected ProviderError to be reachable via errors.As")
	}
	if pe.Provider != "primary-clinical" {
		t.Errorf("Provider = %q, want primary-clinical", pe.Provider)
	}
}

func TestProviderError_MessageWithoutCause(t *testing.T) {
	err := &ProviderError{Provider: "research-gemini", Reason: "empty payload"}

	msg := err.Error()
	if !strings.Contains(msg, "research-gemini") || !strings.Contains(msg, "empty payload") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestIsProviderTimeout(t *testing.T) {
	timeout := &ProviderError{Provider: "primary", Reason: "deadline exceeded", Timeout: true}
	failure := &ProviderError{Provider: "primary", Reason: "bad payload"}

	if !IsProviderTimeout(timeout) {
		t.Error("expected timeout error to be detected")
	}
	if !IsProviderTimeout(fmt.Errorf("wrapped: %w", timeout)) {
		t.Error("expected wrapped timeout error to be detected")
	}
	if IsProviderTimeout(failure) {
		t.Error("non-timeout provider error misdetected as timeout")
	}
	if IsProviderTimeout(errors.New("plain")) {
		t.Error("plain error misdetected as timeout")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "extraction", Message: "extraction result is required"}

	if !strings.Contains(err.Error(), ErrCodeInput) {
		t.Errorf("expected error code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "extraction") {
		t.Errorf("expected field name in message, got %q", err.Error())
	}
}
