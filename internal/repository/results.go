// Package repository persists extraction and analysis results in Postgres.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// ResultRepository implements domain.ResultStore on a pgx connection pool.
type ResultRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *pgxpool.Pool, logger *logrus.Logger) *ResultRepository {
	return &ResultRepository{db: db, log: logger}
}

// SaveExtraction stores the extraction header and its values value-by-value
// inside one transaction.
func (r *ResultRepository) SaveExtraction(ctx context.Context, result *domain.LabExtractionResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning extraction transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	notes, err := json.Marshal(result.ProcessingNotes)
	if err != nil {
		return fmt.Errorf("encoding processing notes: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lab_extractions (
			id, lab_name, report_date, patient_name, patient_id,
			confidence, processing_notes, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.ID,
		result.Metadata.LabName,
		result.Metadata.ReportDate,
		result.Metadata.PatientName,
		result.Metadata.PatientID,
		result.Confidence,
		notes,
		result.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting extraction: %w", err)
	}

	for _, value := range result.Values {
		if err := insertValue(ctx, tx, result.ID, value); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing extraction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"extraction_id": result.ID,
		"values":        len(result.Values),
	}).Info("Extraction result persisted")

	return nil
}

func insertValue(ctx context.Context, tx pgx.Tx, extractionID string, value domain.ExtractedLabValue) error {
	var rangeText string
	var rangeLow, rangeHigh *float64
	if value.ReferenceRange != nil {
		rangeText = value.ReferenceRange.Text
		rangeLow = value.ReferenceRange.Low
		rangeHigh = value.ReferenceRange.High
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO lab_values (
			id, extraction_id, test_name, raw_value, numeric_value, censor,
			unit, range_text, range_low, range_high, abnormal_flag, critical,
			confidence, source_line, source_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.New().String(),
		extractionID,
		value.TestName,
		value.RawValue,
		value.NumericValue,
		string(value.Censor),
		value.Unit,
		rangeText,
		rangeLow,
		rangeHigh,
		value.AbnormalFlag.String(),
		value.Critical,
		value.Confidence,
		value.Line,
		value.SourceText,
	)
	if err != nil {
		return fmt.Errorf("inserting lab value %q: %w", value.TestName, err)
	}
	return nil
}

// SaveAnalysis stores the coordinated result as one primary analysis record
// plus zero-or-more research records.
func (r *ResultRepository) SaveAnalysis(ctx context.Context, result *domain.CoordinatedAnalysisResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning analysis transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	synthesis, err := json.Marshal(result.Synthesis)
	if err != nil {
		return fmt.Errorf("encoding synthesis: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_results (
			id, extraction_id, synthesis, urgency, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID,
		result.ExtractionID,
		synthesis,
		result.Synthesis.Urgency.String(),
		result.Synthesis.Confidence,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting analysis result: %w", err)
	}

	if err := insertProviderRecord(ctx, tx, result.ID, result.Primary, true); err != nil {
		return err
	}
	for _, research := range result.ResearchFindings {
		if err := insertProviderRecord(ctx, tx, result.ID, research, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing analysis: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"analysis_id":      result.ID,
		"research_records": len(result.ResearchFindings),
		"urgency":          result.Synthesis.Urgency,
	}).Info("Coordinated analysis persisted")

	return nil
}

func insertProviderRecord(ctx context.Context, tx pgx.Tx, analysisID string, record *domain.ProviderAnalysisResult, primary bool) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding provider record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO provider_records (
			id, analysis_id, provider, analysis_kind, is_primary,
			urgency, confidence, payload, processing_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(),
		analysisID,
		record.Provider,
		record.AnalysisKind,
		primary,
		record.Urgency.String(),
		record.Confidence,
		payload,
		record.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting provider record for %s: %w", record.Provider, err)
	}
	return nil
}

// Close satisfies domain.ResultStore; the pool is owned by the caller.
func (r *ResultRepository) Close() error {
	return nil
}
