package domain

import "context"

// ReferenceRangeLookup classifies a numeric value against the reference range
// for a test. Implementations are read-only and safe for concurrent use.
// Lookup failure means insufficient data, not an error in the pipeline sense:
// callers receive a LookupError and default to a neutral flag.
type ReferenceRangeLookup interface {
	Classify(testName string, value float64) (*RangeClassification, error)
}

// AnalysisProvider is the uniform contract every analysis collaborator
// satisfies. Analyze must honor ctx cancellation and deadlines; failures are
// reported as *ProviderError.
type AnalysisProvider interface {
	Name() string
	Analyze(ctx context.Context, req *AnalysisRequest) (*ProviderAnalysisResult, error)
}

// ResultStore persists the two pipeline outputs. Extraction results are
// written value-by-value; coordinated results as one primary record plus
// zero-or-more research records.
type ResultStore interface {
	SaveExtraction(ctx context.Context, result *LabExtractionResult) error
	SaveAnalysis(ctx context.Context, result *CoordinatedAnalysisResult) error
	Close() error
}
