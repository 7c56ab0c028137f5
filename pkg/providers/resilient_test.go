package providers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-analysis-server/internal/domain"
)

type fakeProvider struct {
	name   string
	result *domain.ProviderAnalysisResult
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testRequest() *domain.AnalysisRequest {
	return &domain.AnalysisRequest{
		RequestID:  "req-1",
		Extraction: &domain.LabExtractionResult{ID: "ext-1"},
	}
}

func TestResilientProvider_PassesThroughSuccess(t *testing.T) {
	inner := &fakeProvider{
		name:   "primary",
		result: &domain.ProviderAnalysisResult{Provider: "primary", Confidence: 0.9},
	}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	result, err := resilient.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Provider)
	assert.Equal(t, "primary", resilient.Name())
	assert.Equal(t, gobreaker.StateClosed, resilient.State())
}

func TestResilientProvider_PreservesProviderError(t *testing.T) {
	inner := &fakeProvider{
		name: "primary",
		err:  domain.NewProviderError("primary", "unparsable response payload", nil),
	}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	_, err := resilient.Analyze(context.Background(), testRequest())

	var providerErr *domain.ProviderError
	require.ErrorAs(t, err, &providerErr)
	// The inner error passes through untouched, not wrapped a second time.
	assert.Equal(t, "unparsable response payload", providerErr.Reason)
}

func TestResilientProvider_WrapsPlainErrors(t *testing.T) {
	cause := errors.New("connection reset")
	inner := &fakeProvider{name: "research", err: cause}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	_, err := resilient.Analyze(context.Background(), testRequest())

	var providerErr *domain.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "research", providerErr.Provider)
	assert.ErrorIs(t, err, cause)
}

func TestResilientProvider_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &fakeProvider{name: "primary", err: errors.New("boom")}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := resilient.Analyze(ctx, testRequest())
		require.Error(t, err)
	}

	require.Equal(t, gobreaker.StateOpen, resilient.State())

	// The open breaker rejects without reaching the provider.
	_, err := resilient.Analyze(ctx, testRequest())
	var providerErr *domain.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, providerErr.Reason, "circuit breaker open")
	assert.Equal(t, 3, inner.callCount())
}

func TestResilientProvider_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	inner := &fakeProvider{
		name: "primary",
		err:  domain.NewProviderError("primary", "request canceled", context.Canceled),
	}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	// A burst of client disconnects still surfaces errors but says nothing
	// about provider health.
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := resilient.Analyze(ctx, testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, resilient.State())
	assert.Equal(t, 10, inner.callCount())

	// Timeouts remain real failures.
	timingOut := &fakeProvider{
		name: "primary",
		err:  domain.NewProviderError("primary", "request timed out", context.DeadlineExceeded),
	}
	resilient = NewResilientProvider(timingOut, nil, quietLogger())
	for i := 0; i < 3; i++ {
		_, err := resilient.Analyze(ctx, testRequest())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, resilient.State())
}

func TestResilientProvider_SuccessKeepsBreakerClosed(t *testing.T) {
	inner := &fakeProvider{
		name:   "primary",
		result: &domain.ProviderAnalysisResult{Provider: "primary"},
	}
	resilient := NewResilientProvider(inner, nil, quietLogger())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := resilient.Analyze(ctx, testRequest())
		require.NoError(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, resilient.State())
	assert.Equal(t, 10, inner.callCount())
}
