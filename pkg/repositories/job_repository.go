package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// JobRepository provides data access for jobs and their append-only logs.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Job, error)

	// UpdateStatus transitions a job. Transitions are monotonic: once a job
	// is terminal any further update fails with ErrJobTerminal. The terminal
	// transition sets finished_at exactly once.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, result map[string]any) error

	// AppendLog writes one log entry. Entries are never updated or deleted.
	AppendLog(ctx context.Context, entry *models.JobLogEntry) error

	// ListLogs returns a job's log entries in creation order.
	ListLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLogEntry, error)
}

type jobRepository struct {
	db *database.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *database.DB) JobRepository {
	return &jobRepository{db: db}
}

var _ JobRepository = (*jobRepository)(nil)

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json payload: %w", err)
	}
	return data, nil
}

func unmarshalMap(data []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json payload: %w", err)
	}
	return m, nil
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if !job.Status.IsValid() {
		return fmt.Errorf("create job: invalid status %q", job.Status)
	}
	job.StartedAt = time.Now()

	requestJSON, err := marshalMap(job.Request)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO tdm_jobs (id, workflow_id, operation, status, request, result, started_at)
		VALUES ($1, $2, $3, $4, $5, '{}', $6)`

	_, err = r.db.Exec(ctx, query,
		job.ID, job.WorkflowID, job.Operation, job.Status, requestJSON, job.StartedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	const query = `
		SELECT id, workflow_id, operation, status, request, result, started_at, finished_at
		FROM tdm_jobs
		WHERE id = $1`

	return r.scanJob(r.db.QueryRow(ctx, query, id))
}

func (r *jobRepository) scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job         models.Job
		requestJSON []byte
		resultJSON  []byte
	)
	err := row.Scan(&job.ID, &job.WorkflowID, &job.Operation, &job.Status,
		&requestJSON, &resultJSON, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.Request, err = unmarshalMap(requestJSON); err != nil {
		return nil, err
	}
	if job.Result, err = unmarshalMap(resultJSON); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Job, error) {
	const query = `
		SELECT id, workflow_id, operation, status, request, result, started_at, finished_at
		FROM tdm_jobs
		WHERE workflow_id = $1
		ORDER BY started_at`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by workflow: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, result map[string]any) error {
	if !status.IsValid() {
		return fmt.Errorf("update job status: invalid status %q", status)
	}

	resultJSON, err := marshalMap(result)
	if err != nil {
		return err
	}

	// The WHERE clause excludes terminal rows so a completed or failed job
	// can never transition again, and finished_at is written only once.
	var query string
	if status.IsTerminal() {
		query = `
			UPDATE tdm_jobs
			SET status = $2, result = $3, finished_at = NOW()
			WHERE id = $1 AND status NOT IN ('completed', 'failed')`
	} else {
		query = `
			UPDATE tdm_jobs
			SET status = $2, result = $3
			WHERE id = $1 AND status NOT IN ('completed', 'failed')`
	}

	tag, err := r.db.Exec(ctx, query, id, status, resultJSON)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job does not exist or it already reached a terminal
		// status. Distinguish so callers can report the right error.
		var current models.JobStatus
		err := r.db.QueryRow(ctx, "SELECT status FROM tdm_jobs WHERE id = $1", id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		return fmt.Errorf("job %s is %s: %w", id, current, apperrors.ErrJobTerminal)
	}
	return nil
}

func (r *jobRepository) AppendLog(ctx context.Context, entry *models.JobLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}
	entry.CreatedAt = time.Now()

	detailsJSON, err := marshalMap(entry.Details)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO tdm_job_logs (id, job_id, step, level, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.JobID, entry.Step, entry.Level, entry.Message, detailsJSON, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func (r *jobRepository) ListLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLogEntry, error) {
	const query = `
		SELECT id, job_id, step, level, message, details, created_at
		FROM tdm_job_logs
		WHERE job_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.JobLogEntry
	for rows.Next() {
		var (
			e           models.JobLogEntry
			detailsJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Step, &e.Level, &e.Message, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		if e.Details, err = unmarshalMap(detailsJSON); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
