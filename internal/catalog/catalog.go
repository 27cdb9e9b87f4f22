// Package catalog records indexing jobs and the field indexes they produce,
// so downstream query nodes can find complete indexes without scanning
// output directories.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Schema is portable between PostgreSQL and SQLite. Times are unix
// milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS index_jobs (
		job_id      TEXT PRIMARY KEY,
		output_dir  TEXT NOT NULL,
		layout      TEXT NOT NULL,
		status      TEXT NOT NULL,
		counters    TEXT,
		error       TEXT,
		started_at  BIGINT NOT NULL,
		finished_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS field_indexes (
		job_id      TEXT NOT NULL,
		part        INTEGER NOT NULL,
		field       TEXT NOT NULL,
		base_path   TEXT NOT NULL,
		terms       BIGINT NOT NULL,
		documents   BIGINT NOT NULL,
		occurrences BIGINT NOT NULL,
		postings    BIGINT NOT NULL,
		closed_at   BIGINT NOT NULL,
		PRIMARY KEY (job_id, part, field)
	)`,
}

// Job is one row of index_jobs.
type Job struct {
	ID         string
	OutputDir  string
	Layout     string
	Status     string
	Counters   map[string]int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// FieldIndex is one row of field_indexes.
type FieldIndex struct {
	JobID string
	Part  int
	index.Summary
	ClosedAt time.Time
}

type Store struct {
	db     *database.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *database.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("catalog"),
		now:    time.Now,
	}
}

// Migrate creates the catalog tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating catalog: %w", err)
		}
	}
	return nil
}

// StartJob registers a running job.
func (s *Store) StartJob(ctx context.Context, jobID, outputDir, layout string) error {
	_, err := s.db.DB.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO index_jobs (job_id, output_dir, layout, status, started_at) VALUES (?, ?, ?, ?, ?)`),
		jobID, outputDir, layout, StatusRunning, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("registering job %s: %w", jobID, err)
	}
	s.logger.Info("job registered", "job_id", jobID, "output_dir", outputDir)
	return nil
}

// RecordFields stores the closed field indexes of one merge task in a
// single transaction.
func (s *Store) RecordFields(ctx context.Context, jobID string, part int, summaries []index.Summary) error {
	closedAt := s.now().UnixMilli()
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.db.Rebind(
			`INSERT INTO field_indexes (job_id, part, field, base_path, terms, documents, occurrences, postings, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sum := range summaries {
			if _, err := stmt.ExecContext(ctx, jobID, part, sum.Field, sum.Base,
				sum.Terms, sum.Documents, sum.Occurrences, sum.Postings, closedAt); err != nil {
				return fmt.Errorf("field %s: %w", sum.Field, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording field indexes of job %s part %d: %w", jobID, part, err)
	}
	return nil
}

// FinishJob stores the final status and counters of a job.
func (s *Store) FinishJob(ctx context.Context, jobID string, counters map[string]int64, jobErr error) error {
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshaling counters: %w", err)
	}
	status, msg := StatusSucceeded, ""
	if jobErr != nil {
		status, msg = StatusFailed, jobErr.Error()
	}
	res, err := s.db.DB.ExecContext(ctx,
		s.db.Rebind(`UPDATE index_jobs SET status = ?, counters = ?, error = ?, finished_at = ? WHERE job_id = ?`),
		status, string(data), msg, s.now().UnixMilli(), jobID,
	)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing job %s: job not registered", jobID)
	}
	return nil
}

// GetJob loads a job. Returns nil, nil if it does not exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var (
		j                 Job
		counters, errText sql.NullString
		started           int64
		finished          sql.NullInt64
	)
	err := s.db.DB.QueryRowContext(ctx,
		s.db.Rebind(`SELECT job_id, output_dir, layout, status, counters, error, started_at, finished_at FROM index_jobs WHERE job_id = ?`),
		jobID,
	).Scan(&j.ID, &j.OutputDir, &j.Layout, &j.Status, &counters, &errText, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", jobID, err)
	}
	j.Error = errText.String
	j.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		j.FinishedAt = time.UnixMilli(finished.Int64)
	}
	if counters.Valid && counters.String != "" {
		if err := json.Unmarshal([]byte(counters.String), &j.Counters); err != nil {
			return nil, fmt.Errorf("unmarshaling counters of job %s: %w", jobID, err)
		}
	}
	return &j, nil
}

// Fields lists the field indexes of a job ordered by part and field.
func (s *Store) Fields(ctx context.Context, jobID string) ([]FieldIndex, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		s.db.Rebind(`SELECT part, field, base_path, terms, documents, occurrences, postings, closed_at
		 FROM field_indexes WHERE job_id = ? ORDER BY part, field`),
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing field indexes of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []FieldIndex
	for rows.Next() {
		fi := FieldIndex{JobID: jobID}
		var closed int64
		if err := rows.Scan(&fi.Part, &fi.Field, &fi.Base, &fi.Terms, &fi.Documents, &fi.Occurrences, &fi.Postings, &closed); err != nil {
			return nil, fmt.Errorf("scanning field index row: %w", err)
		}
		fi.ClosedAt = time.UnixMilli(closed)
		out = append(out, fi)
	}
	return out, rows.Err()
}
