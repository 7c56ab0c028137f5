// Package store provides a lightweight SQLite result store for deployments
// without Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/lab-analysis-server/internal/domain"
)

// SQLiteStore implements domain.ResultStore using an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite result store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lab_extractions (
		id TEXT PRIMARY KEY,
		lab_name TEXT DEFAULT '',
		report_date TEXT DEFAULT '',
		patient_name TEXT DEFAULT '',
		patient_id TEXT DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		processing_notes TEXT DEFAULT '[]',
		extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS lab_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		extraction_id TEXT NOT NULL REFERENCES lab_extractions(id),
		test_name TEXT NOT NULL,
		raw_value TEXT NOT NULL,
		numeric_value REAL,
		censor TEXT NOT NULL DEFAULT '',
		unit TEXT DEFAULT '',
		range_text TEXT DEFAULT '',
		range_low REAL,
		range_high REAL,
		abnormal_flag TEXT NOT NULL DEFAULT '',
		critical INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		source_line INTEGER NOT NULL,
		source_text TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS analysis_results (
		id TEXT PRIMARY KEY,
		extraction_id TEXT DEFAULT '',
		synthesis TEXT NOT NULL,
		urgency TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS provider_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL REFERENCES analysis_results(id),
		provider TEXT NOT NULL,
		analysis_kind TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		urgency TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		processing_time_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_lab_values_extraction ON lab_values(extraction_id);
	CREATE INDEX IF NOT EXISTS idx_lab_values_test_name ON lab_values(test_name);
	CREATE INDEX IF NOT EXISTS idx_provider_records_analysis ON provider_records(analysis_id);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveExtraction stores an extraction header and its values in one transaction.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, result *domain.LabExtractionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	notes, err := json.Marshal(result.ProcessingNotes)
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lab_extractions (
			id, lab_name, report_date, patient_name, patient_id,
			confidence, processing_notes, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.Metadata.LabName,
		result.Metadata.ReportDate,
		result.Metadata.PatientName,
		result.Metadata.PatientID,
		result.Confidence,
		string(notes),
		result.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert extraction: %w", err)
	}

	for _, value := range result.Values {
		var rangeText string
		var rangeLow, rangeHigh *float64
		if value.ReferenceRange != nil {
			rangeText = value.ReferenceRange.Text
			rangeLow = value.ReferenceRange.Low
			rangeHigh = value.ReferenceRange.High
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO lab_values (
				extraction_id, test_name, raw_value, numeric_value, censor,
				unit, range_text, range_low, range_high, abnormal_flag,
				critical, confidence, source_line, source_text
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ID,
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
			return fmt.Errorf("failed to insert value %q: %w", value.TestName, err)
		}
	}

	return tx.Commit()
}

// SaveAnalysis stores a coordinated result with its per-provider records.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, result *domain.CoordinatedAnalysisResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	synthesis, err := json.Marshal(result.Synthesis)
	if err != nil {
		return fmt.Errorf("failed to encode synthesis: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_results (
			id, extraction_id, synthesis, urgency, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.ExtractionID,
		string(synthesis),
		result.Synthesis.Urgency.String(),
		result.Synthesis.Confidence,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	records := []*domain.ProviderAnalysisResult{result.Primary}
	records = append(records, result.ResearchFindings...)
	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode provider record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO provider_records (
				analysis_id, provider, analysis_kind, is_primary,
				urgency, confidence, payload, processing_time_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ID,
			record.Provider,
			record.AnalysisKind,
			i == 0,
			record.Urgency.String(),
			record.Confidence,
			string(payload),
			record.ProcessingTime.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert provider record for %s: %w", record.Provider, err)
		}
	}

	return tx.Commit()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// GetAnalysis retrieves a stored synthesis by analysis ID.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*domain.FinalRecommendations, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT synthesis FROM analysis_results WHERE id = ? LIMIT 1", id)

	synthesis, err := scanSynthesis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return synthesis, nil
}

func scanSynthesis(s scanner) (*domain.FinalRecommendations, error) {
	var raw string
	if err := s.Scan(&raw); err != nil {
		return nil, err
	}
	var synthesis domain.FinalRecommendations
	if err := json.Unmarshal([]byte(raw), &synthesis); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis: %w", err)
	}
	return &synthesis, nil
}

// CountExtractions returns the total number of stored extractions.
func (s *SQLiteStore) CountExtractions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lab_extractions").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
