package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-analysis-server/internal/domain"
)

// stubProvider is a scripted AnalysisProvider for orchestration tests.
type stubProvider struct {
	name   string
	result *domain.ProviderAnalysisResult
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, domain.NewProviderError(s.name, "canceled", ctx.Err())
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingStore captures SaveAnalysis calls.
type recordingStore struct {
	mu    sync.Mutex
	saved []*domain.CoordinatedAnalysisResult
	err   error
}

func (r *recordingStore) SaveExtraction(ctx context.Context, result *domain.LabExtractionResult) error {
	return nil
}

func (r *recordingStore) SaveAnalysis(ctx context.Context, result *domain.CoordinatedAnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, result)
	return nil
}

func (r *recordingStore) Close() error { return nil }

func providerResult(provider string, urgency domain.UrgencyLevel, confidence float64, diagnoses ...string) *domain.ProviderAnalysisResult {
	return &domain.ProviderAnalysisResult{
		Provider:          provider,
		AnalysisKind:      "research",
		PossibleDiagnoses: diagnoses,
		Urgency:           urgency,
		Confidence:        confidence,
	}
}

func testParams() *AnalyzeParams {
	return &AnalyzeParams{
		Extraction: &domain.LabExtractionResult{
			ID: "extraction-1",
			Values: []domain.ExtractedLabValue{
				{TestName: "Potassium", AbnormalFlag: domain.FlagCriticalHigh, Critical: true},
			},
		},
		DocumentText: "Potassium: 6.8 (3.5-5.1) HH",
	}
}

func TestOrchestrator_AllProvidersSucceed(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		result: providerResult("primary", domain.UrgencyHigh, 0.9, "Hyperkalemia"),
	}
	research1 := &stubProvider{
		name:   "research-1",
		result: providerResult("research-1", domain.UrgencyMedium, 0.7, "Renal insufficiency"),
	}
	research2 := &stubProvider{
		name:   "research-2",
		result: providerResult("research-2", domain.UrgencyCritical, 0.5, "hyperkalemia"),
	}
	store := &recordingStore{}

	orchestrator := NewOrchestrator(testLogger(), primary,
		[]domain.AnalysisProvider{research1, research2}, store, NewTaskRegistry(testLogger()))

	result, err := orchestrator.Analyze(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, research1.callCount())
	assert.Equal(t, 1, research2.callCount())

	assert.Equal(t, "extraction-1", result.ExtractionID)
	require.NotNil(t, result.Primary)
	assert.Len(t, result.ResearchFindings, 2)

	// One critical research vote escalates the synthesis.
	assert.Equal(t, domain.UrgencyCritical, result.Synthesis.Urgency)
	assert.InDelta(t, 0.7, result.Synthesis.Confidence, 0.0001)
	assert.Equal(t, []string{"Hyperkalemia", "Renal insufficiency"}, result.Synthesis.PossibleDiagnoses)

	task, ok := orchestrator.Task(result.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateSynthesized, task.State)

	require.Len(t, store.saved, 1)
	assert.Equal(t, result.ID, store.saved[0].ID)
}

func TestOrchestrator_ResearchFailureDegrades(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		result: providerResult("primary", domain.UrgencyMedium, 0.8, "Anemia"),
	}
	research1 := &stubProvider{
		name: "research-1",
		err:  domain.NewProviderError("research-1", "deadline exceeded", context.DeadlineExceeded),
	}
	research2 := &stubProvider{
		name:   "research-2",
		result: providerResult("research-2", domain.UrgencyLow, 0.6, "Iron deficiency"),
	}

	orchestrator := NewOrchestrator(testLogger(), primary,
		[]domain.AnalysisProvider{research1, research2}, nil, NewTaskRegistry(testLogger()))

	result, err := orchestrator.Analyze(context.Background(), testParams())
	require.NoError(t, err)

	// The failed research provider is absent, the surviving one is kept.
	assert.Len(t, result.ResearchFindings, 1)
	assert.Equal(t, "research-2", result.ResearchFindings[0].Provider)
	assert.Equal(t, domain.UrgencyMedium, result.Synthesis.Urgency)
	assert.InDelta(t, 0.7, result.Synthesis.Confidence, 0.0001)
}

func TestOrchestrator_AllResearchFails(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		result: providerResult("primary", domain.UrgencyLow, 0.8, "Normal study"),
	}
	failure := errors.New("boom")
	research1 := &stubProvider{name: "research-1", err: failure}
	research2 := &stubProvider{name: "research-2", err: failure}

	orchestrator := NewOrchestrator(testLogger(), primary,
		[]domain.AnalysisProvider{research1, research2}, nil, NewTaskRegistry(testLogger()))

	result, err := orchestrator.Analyze(context.Background(), testParams())
	require.NoError(t, err)

	assert.NotNil(t, result.ResearchFindings)
	assert.Empty(t, result.ResearchFindings)
	assert.Equal(t, []string{"Normal study"}, result.Synthesis.PossibleDiagnoses)
	assert.InDelta(t, 0.8, result.Synthesis.Confidence, 0.0001)
}

func TestOrchestrator_PrimaryFailureFailsRequest(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		err:  domain.NewProviderError("primary", "connection refused", nil),
	}
	research := &stubProvider{
		name:   "research-1",
		result: providerResult("research-1", domain.UrgencyHigh, 0.9, "Hyperkalemia"),
	}
	tasks := NewTaskRegistry(testLogger())

	orchestrator := NewOrchestrator(testLogger(), primary,
		[]domain.AnalysisProvider{research}, nil, tasks)

	result, err := orchestrator.Analyze(context.Background(), testParams())
	require.Error(t, err)
	assert.Nil(t, result)

	var providerErr *domain.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "primary", providerErr.Provider)

	// The research provider was still called; settle-all waits for every
	// outcome even when the primary has already failed.
	assert.Equal(t, 1, research.callCount())
}

func TestOrchestrator_ProvidersRunConcurrently(t *testing.T) {
	delay := 150 * time.Millisecond
	primary := &stubProvider{
		name:   "primary",
		delay:  delay,
		result: providerResult("primary", domain.UrgencyLow, 0.8),
	}
	research1 := &stubProvider{
		name:   "research-1",
		delay:  delay,
		result: providerResult("research-1", domain.UrgencyLow, 0.8),
	}
	research2 := &stubProvider{
		name:   "research-2",
		delay:  delay,
		result: providerResult("research-2", domain.UrgencyLow, 0.8),
	}

	orchestrator := NewOrchestrator(testLogger(), primary,
		[]domain.AnalysisProvider{research1, research2}, nil, nil)

	started := time.Now()
	_, err := orchestrator.Analyze(context.Background(), testParams())
	elapsed := time.Since(started)

	require.NoError(t, err)
	// Bounded by the slowest single call, never the sum of all three.
	assert.Less(t, elapsed, 3*delay)
}

func TestOrchestrator_ContextCancellation(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		delay:  5 * time.Second,
		result: providerResult("primary", domain.UrgencyLow, 0.8),
	}

	orchestrator := NewOrchestrator(testLogger(), primary, nil, nil, NewTaskRegistry(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := orchestrator.Analyze(ctx, testParams())
	require.Error(t, err)

	var providerErr *domain.ProviderError
	assert.ErrorAs(t, err, &providerErr)
}

func TestOrchestrator_RejectsMissingExtraction(t *testing.T) {
	orchestrator := NewOrchestrator(testLogger(), &stubProvider{name: "primary"}, nil, nil, nil)

	_, err := orchestrator.Analyze(context.Background(), nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = orchestrator.Analyze(context.Background(), &AnalyzeParams{})
	require.ErrorAs(t, err, &validationErr)
}

func TestOrchestrator_StoreFailureDoesNotFailAnalysis(t *testing.T) {
	primary := &stubProvider{
		name:   "primary",
		result: providerResult("primary", domain.UrgencyLow, 0.8, "Normal study"),
	}
	store := &recordingStore{err: errors.New("disk full")}

	orchestrator := NewOrchestrator(testLogger(), primary, nil, store, nil)

	result, err := orchestrator.Analyze(context.Background(), testParams())
	require.NoError(t, err)
	assert.NotNil(t, result)
}
