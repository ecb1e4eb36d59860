package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"handyhub/internal/geo"
	"handyhub/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, customer_id, worker_id, category, description, address,
	latitude, longitude, urgency, scheduled_at, status,
	accepted_at, en_route_at, started_at, completed_at, cancelled_at,
	created_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.WorkerID, &j.Category, &j.Description, &j.Address,
		&j.Latitude, &j.Longitude, &j.Urgency, &j.ScheduledAt, &j.Status,
		&j.AcceptedAt, &j.EnRouteAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	CustomerID  string
	Category    string
	Description string
	Address     string
	Latitude    float64
	Longitude   float64
	Urgency     string
	ScheduledAt *time.Time
}

// CreateJob inserts a pending job together with its initial history row in one
// transaction.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, customer_id, category, description, address, latitude, longitude, urgency, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, id, p.CustomerID, p.Category, p.Description, p.Address, p.Latitude, p.Longitude, p.Urgency, p.ScheduledAt, models.StatusPending, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_status_history (job_id, from_status, to_status, actor_id, recorded_at)
		VALUES ($1, NULL, $2, $3, $4)
	`, id, models.StatusPending, p.CustomerID, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert initial history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:          id,
		CustomerID:  p.CustomerID,
		Category:    p.Category,
		Description: p.Description,
		Address:     p.Address,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Urgency:     p.Urgency,
		ScheduledAt: p.ScheduledAt,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FetchJob returns the job or nil when no row exists.
func (s *Store) FetchJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// TransitionParams describes a conditional status update. ExpectedStatus and
// ExpectedWorkerID form the compare part of the compare-and-swap; SetWorkerID
// is only non-nil when moving into accepted.
type TransitionParams struct {
	JobID            string
	ExpectedStatus   string
	ExpectedWorkerID *string
	NewStatus        string
	SetWorkerID      *string
}

// ConditionalUpdateJobStatus performs the status write as a single CAS: the
// update only lands if the row still has the expected status and worker
// binding. It returns nil when zero rows matched, which callers must treat as
// a lost race, never as success. The per-status timestamp is stamped in the
// same statement so it is set exactly once, when the status is first entered.
func (s *Store) ConditionalUpdateJobStatus(ctx context.Context, p TransitionParams) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = $2,
			worker_id = COALESCE($3, worker_id),
			accepted_at = CASE WHEN $2 = 'accepted' THEN NOW() ELSE accepted_at END,
			en_route_at = CASE WHEN $2 = 'en_route' THEN NOW() ELSE en_route_at END,
			started_at = CASE WHEN $2 = 'in_progress' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1
		  AND status = $4
		  AND (($5::text IS NULL AND worker_id IS NULL) OR worker_id = $5)
		RETURNING `+jobColumns,
		p.JobID, p.NewStatus, p.SetWorkerID, p.ExpectedStatus, p.ExpectedWorkerID)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conditional update job: %w", err)
	}
	return &j, nil
}

// InsertStatusHistory appends one audit row. History is append-only.
func (s *Store) InsertStatusHistory(ctx context.Context, h models.StatusHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_status_history (job_id, from_status, to_status, actor_id, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, h.JobID, h.FromStatus, h.ToStatus, h.ActorID)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns the audit trail for a job, oldest first.
func (s *Store) ListStatusHistory(ctx context.Context, jobID string) ([]models.StatusHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, from_status, to_status, actor_id, recorded_at
		FROM job_status_history WHERE job_id = $1 ORDER BY recorded_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		if err := rows.Scan(&h.JobID, &h.FromStatus, &h.ToStatus, &h.ActorID, &h.Recorded); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateWorkerAvailability sets the availability snapshot. Last write wins
// against concurrent transition side effects.
func (s *Store) UpdateWorkerAvailability(ctx context.Context, workerID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workers SET availability_status = $2, updated_at = NOW() WHERE id = $1
	`, workerID, status)
	if err != nil {
		return fmt.Errorf("update worker availability: %w", err)
	}
	return nil
}

// IncrementWorkerCompletedCount bumps the lifetime completed-job counter.
func (s *Store) IncrementWorkerCompletedCount(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workers SET completed_jobs = completed_jobs + 1, updated_at = NOW() WHERE id = $1
	`, workerID)
	if err != nil {
		return fmt.Errorf("increment completed count: %w", err)
	}
	return nil
}

// RecordLocationPing updates the worker's location snapshot and appends to the
// raw ping log. The log is audit-only; matching never reads it.
func (s *Store) RecordLocationPing(ctx context.Context, workerID string, lat, lng float64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE workers SET latitude = $2, longitude = $3, located_at = NOW(), updated_at = NOW() WHERE id = $1
	`, workerID, lat, lng); err != nil {
		return fmt.Errorf("update worker location: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO location_pings (worker_id, latitude, longitude, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, workerID, lat, lng); err != nil {
		return fmt.Errorf("insert location ping: %w", err)
	}
	return tx.Commit(ctx)
}

// QueryJobsInBoundingBox returns unassigned pending jobs inside the box. The
// box is the cheap pre-filter; the caller applies the exact distance cut.
func (s *Store) QueryJobsInBoundingBox(ctx context.Context, box geo.BoundingBox) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND worker_id IS NULL
		  AND latitude BETWEEN $2 AND $3
		  AND longitude BETWEEN $4 AND $5
	`, models.StatusPending, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("query jobs in box: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// QueryWorkersInBoundingBox returns online workers inside the box holding at
// least one skill matching the category.
func (s *Store) QueryWorkersInBoundingBox(ctx context.Context, box geo.BoundingBox, category string) ([]models.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.name, w.availability_status, w.latitude, w.longitude, w.completed_jobs, w.located_at
		FROM workers w
		WHERE w.availability_status = $1
		  AND w.latitude BETWEEN $2 AND $3
		  AND w.longitude BETWEEN $4 AND $5
		  AND EXISTS (SELECT 1 FROM worker_skills ws WHERE ws.worker_id = w.id AND ws.category = $6)
	`, models.AvailabilityOnline, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, category)
	if err != nil {
		return nil, fmt.Errorf("query workers in box: %w", err)
	}
	defer rows.Close()

	var out []models.Worker
	for rows.Next() {
		var w models.Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.Availability, &w.Latitude, &w.Longitude, &w.CompletedJobs, &w.LocatedAt); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertMessage persists one chat message and returns it.
func (s *Store) InsertMessage(ctx context.Context, jobID, senderID, body string) (models.Message, error) {
	m := models.Message{
		ID:        uuid.New().String(),
		JobID:     jobID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_messages (id, job_id, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.JobID, m.SenderID, m.Body, m.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns a job's chat history, oldest first.
func (s *Store) ListMessages(ctx context.Context, jobID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, sender_id, body, created_at
		FROM job_messages WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.JobID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertPhoto records an uploaded job photo.
func (s *Store) InsertPhoto(ctx context.Context, p models.Photo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_photos (id, job_id, uploader_id, url, thumbnail_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.JobID, p.UploaderID, p.URL, p.ThumbnailURL, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}
