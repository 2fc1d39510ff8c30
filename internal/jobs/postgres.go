package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the jobs table DDL, applied by EnsureSchema on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS processing_jobs (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    session_id      TEXT NOT NULL,
    document_id     TEXT NOT NULL,
    status          TEXT NOT NULL,
    progress        INT NOT NULL DEFAULT 0,
    stage           TEXT NOT NULL DEFAULT '',
    attempts        INT NOT NULL DEFAULT 0,
    max_attempts    INT NOT NULL DEFAULT 3,
    force_regen     BOOLEAN NOT NULL DEFAULT FALSE,
    gen_thumbs      BOOLEAN NOT NULL DEFAULT FALSE,
    result_key      TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_session_kind ON processing_jobs (session_id, kind, created_at DESC);
`

// PostgresStore persists jobs in PostgreSQL so status survives restarts and
// multiple API instances can share one queue's history.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres establishes a connection pool and verifies it.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies the jobs table DDL.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply jobs schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, kind, session_id, document_id, status, progress, stage,
	attempts, max_attempts, force_regen, gen_thumbs, result_key, failure_reason,
	error_message, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Kind, &j.SessionID, &j.DocumentID, &j.Status,
		&j.Progress, &j.Stage, &j.Attempts, &j.MaxAttempts, &j.ForceRegenerate,
		&j.GenerateThumbnails, &j.ResultKey, &j.FailureReason, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, kind, session_id, document_id, status,
		     progress, stage, attempts, max_attempts, force_regen, gen_thumbs,
		     result_key, failure_reason, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.Kind, job.SessionID, job.DocumentID, job.Status,
		job.Progress, job.Stage, job.Attempts, job.MaxAttempts,
		job.ForceRegenerate, job.GenerateThumbnails, job.ResultKey,
		job.FailureReason, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = $2, attempts = attempts + 1, started_at = NOW(),
		     updated_at = NOW(), failure_reason = '', error_message = ''
		 WHERE id = $1 AND status = $3
		 RETURNING `+jobColumns,
		id, StatusProcessing, StatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, s.transitionError(ctx, id, StatusProcessing)
	}
	return job, err
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, resultKey string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $2, progress = 100, stage = 'completed', result_key = $3,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, StatusCompleted, resultKey, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, StatusCompleted)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, reason Reason, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $2, failure_reason = $3, error_message = $4,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ($5, $6)`,
		id, StatusFailed, reason, message, StatusProcessing, StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, StatusFailed)
	}
	return nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = $2, progress = 0, stage = '', completed_at = NULL,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING `+jobColumns,
		id, StatusQueued, StatusFailed)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, s.transitionError(ctx, id, StatusQueued)
	}
	return job, err
}

func (s *PostgresStore) SetProgress(ctx context.Context, id string, progress int, stage string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET progress = $2, stage = $3, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ($4, $5) AND progress <= $2`,
		id, progress, stage, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, sessionID string, kind Kind) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE session_id = $1 AND kind = $2
		 ORDER BY created_at DESC LIMIT 1`,
		sessionID, kind)
	return scanJob(row)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// transitionError distinguishes a missing job from an illegal transition
// when a guarded update matched no rows.
func (s *PostgresStore) transitionError(ctx context.Context, id string, to Status) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
}
