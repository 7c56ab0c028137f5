// Package analysis coordinates concurrent provider calls over one extraction
// result and synthesizes their outputs into a single clinical recommendation
// set. The orchestrator is the only concurrency-bearing component of the
// pipeline: every other stage is sequential.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Orchestrator dispatches one analysis request concurrently to the primary
// provider and the research providers with settle-all semantics: it waits for
// every call to reach a terminal state before proceeding with whichever
// succeeded. The primary provider is structurally required; research
// providers degrade the result when absent but never fail it.
type Orchestrator struct {
	log         *logrus.Logger
	primary     domain.AnalysisProvider
	research    []domain.AnalysisProvider
	synthesizer *Synthesizer
	store       domain.ResultStore
	tasks       *TaskRegistry
}

// NewOrchestrator creates an orchestrator over the given providers. store may
// be nil when persistence is handled elsewhere.
func NewOrchestrator(
	logger *logrus.Logger,
	primary domain.AnalysisProvider,
	research []domain.AnalysisProvider,
	store domain.ResultStore,
	tasks *TaskRegistry,
) *Orchestrator {
	return &Orchestrator{
		log:         logger,
		primary:     primary,
		research:    research,
		synthesizer: NewSynthesizer(logger),
		store:       store,
		tasks:       tasks,
	}
}

// AnalyzeParams carries the orchestration inputs.
type AnalyzeParams struct {
	Extraction   *domain.LabExtractionResult
	Patient      domain.PatientContext
	DocumentText string
}

// settled is one provider call's terminal outcome, published exactly once.
type settled struct {
	provider string
	research bool
	result   *domain.ProviderAnalysisResult
	err      error
}

// Analyze runs the full orchestration for one document. Cancellation of ctx
// propagates to all in-flight provider calls; a canceled call is treated
// identically to a failed one. Since all calls carry their own timeout, total
// wall-clock time is bounded by the slowest single call, never the sum.
func (o *Orchestrator) Analyze(ctx context.Context, params *AnalyzeParams) (*domain.CoordinatedAnalysisResult, error) {
	if params == nil || params.Extraction == nil {
		return nil, &domain.ValidationError{Field: "extraction", Message: "extraction result is required"}
	}

	requestID := uuid.New().String()
	started := time.Now()

	if o.tasks != nil {
		o.tasks.Create(requestID)
	}

	o.log.WithFields(logrus.Fields{
		"request_id":    requestID,
		"extraction_id": params.Extraction.ID,
		"values":        len(params.Extraction.Values),
		"providers":     1 + len(o.research),
	}).Info("Starting coordinated analysis")

	results := make(chan settled, 1+len(o.research))
	var wg sync.WaitGroup

	// Each task receives its own request value; no task writes to data
	// another task reads.
	dispatch := func(provider domain.AnalysisProvider, research bool) {
		defer wg.Done()
		req := o.buildRequest(requestID, params)
		result, err := provider.Analyze(ctx, req)
		results <- settled{
			provider: provider.Name(),
			research: research,
			result:   result,
			err:      err,
		}
	}

	wg.Add(1 + len(o.research))
	go dispatch(o.primary, false)
	for _, provider := range o.research {
		go dispatch(provider, true)
	}

	o.transition(requestID, domain.StateDispatched)

	wg.Wait()
	close(results)

	var primaryResult *domain.ProviderAnalysisResult
	var primaryErr error
	var researchResults []*domain.ProviderAnalysisResult
	researchFailures := 0

	for outcome := range results {
		if outcome.err != nil {
			o.log.WithError(outcome.err).WithFields(logrus.Fields{
				"request_id": requestID,
				"provider":   outcome.provider,
				"research":   outcome.research,
			}).Warn("Provider call failed")

			if outcome.research {
				researchFailures++
			} else {
				primaryErr = outcome.err
			}
			continue
		}

		if outcome.research {
			researchResults = append(researchResults, outcome.result)
		} else {
			primaryResult = outcome.result
		}
	}

	if primaryResult == nil {
		if primaryErr == nil {
			primaryErr = domain.NewProviderError(o.primary.Name(), "no result returned", nil)
		}
		o.fail(requestID, primaryErr.Error())
		return nil, fmt.Errorf("coordinated analysis %s failed: %w", requestID, primaryErr)
	}

	if researchFailures > 0 {
		o.transition(requestID, domain.StatePartial)
	} else {
		o.transition(requestID, domain.StateComplete)
	}

	synthesis, err := o.synthesizer.Synthesize(primaryResult, researchResults)
	if err != nil {
		o.fail(requestID, err.Error())
		return nil, fmt.Errorf("synthesizing analysis %s: %w", requestID, err)
	}

	if researchResults == nil {
		researchResults = []*domain.ProviderAnalysisResult{}
	}

	coordinated := &domain.CoordinatedAnalysisResult{
		ID:               requestID,
		ExtractionID:     params.Extraction.ID,
		Primary:          primaryResult,
		ResearchFindings: researchResults,
		Synthesis:        synthesis,
		CreatedAt:        time.Now().UTC(),
	}

	if o.store != nil {
		if err := o.store.SaveAnalysis(ctx, coordinated); err != nil {
			o.log.WithError(err).WithField("request_id", requestID).
				Error("Failed to persist coordinated analysis")
		}
	}

	if o.tasks != nil {
		o.tasks.Complete(requestID, coordinated)
	}

	o.log.WithFields(logrus.Fields{
		"request_id":       requestID,
		"urgency":          synthesis.Urgency,
		"confidence":       synthesis.Confidence,
		"research_results": len(researchResults),
		"research_failed":  researchFailures,
		"processing_time":  time.Since(started),
	}).Info("Coordinated analysis completed")

	return coordinated, nil
}

// Task returns the pollable status for an analysis request.
func (o *Orchestrator) Task(id string) (Task, bool) {
	if o.tasks == nil {
		return Task{}, false
	}
	return o.tasks.Get(id)
}

// buildRequest creates one provider's private view of the request. Prior
// findings from the primary would be attached here when available; since all
// calls start together, research providers normally receive none.
func (o *Orchestrator) buildRequest(requestID string, params *AnalyzeParams) *domain.AnalysisRequest {
	return &domain.AnalysisRequest{
		RequestID:    requestID,
		DocumentText: params.DocumentText,
		Extraction:   params.Extraction,
		Patient:      params.Patient,
	}
}

func (o *Orchestrator) transition(id string, state domain.AnalysisState) {
	if o.tasks != nil {
		o.tasks.Transition(id, state)
	}
}

func (o *Orchestrator) fail(id, reason string) {
	if o.tasks != nil {
		o.tasks.Fail(id, reason)
	}
}
