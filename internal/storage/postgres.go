package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnstream/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQueryTimeout = 30 * time.Second

// PostgresConfig tunes the pgx connection pool backing the repository.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	ApplicationName string
}

// PostgresRepository is the Postgres-backed Repository. The claim transition
// is a single statement using FOR UPDATE SKIP LOCKED, so any number of worker
// processes can poll the same database without double-claiming a job.
type PostgresRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresRepository opens the connection pool and ensures the schema
// exists.
func NewPostgresRepository(cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, queryTimeout: timeout}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) ensureSchema() error {
	ctx, cancel := r.queryContext()
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			raw_storage_key TEXT NOT NULL DEFAULT '',
			hls_storage_key TEXT NOT NULL DEFAULT '',
			thumbnail_key TEXT NOT NULL DEFAULT '',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcoding_jobs (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES videos (id),
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS transcoding_jobs_pending_idx
			ON transcoding_jobs (created_at, id) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS transcoding_jobs_video_idx
			ON transcoding_jobs (video_id)`,
	}
	for _, statement := range statements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.queryTimeout)
}

// Close drains the pool, honouring the context deadline.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) EnqueueJob(videoID string) (models.TranscodingJob, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	id, err := generateID()
	if err != nil {
		return models.TranscodingJob{}, err
	}
	job := models.TranscodingJob{
		ID:        id,
		VideoID:   videoID,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.pool.Exec(ctx,
		"INSERT INTO transcoding_jobs (id, video_id, status, created_at) VALUES ($1, $2, $3, $4)",
		job.ID, job.VideoID, string(job.Status), job.CreatedAt)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("enqueue job for video %s: %w", videoID, err)
	}
	return job, nil
}

// ClaimNextJob moves the oldest pending job to in_progress and returns it.
// The nested SELECT with FOR UPDATE SKIP LOCKED makes the whole claim one
// atomic statement; concurrent pollers skip rows another claimant already
// locked instead of blocking on them.
func (r *PostgresRepository) ClaimNextJob() (models.TranscodingJob, bool, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE transcoding_jobs
		SET status = 'in_progress', started_at = $1
		WHERE id = (
			SELECT id FROM transcoding_jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, video_id, status, error_message, created_at, started_at, completed_at`,
		time.Now().UTC())

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TranscodingJob{}, false, nil
	}
	if err != nil {
		return models.TranscodingJob{}, false, fmt.Errorf("claim next job: %w", err)
	}
	return job, true, nil
}

func (r *PostgresRepository) MarkJobCompleted(jobID string) error {
	return r.finishJob(jobID, models.JobCompleted, "")
}

func (r *PostgresRepository) MarkJobFailed(jobID, message string) error {
	return r.finishJob(jobID, models.JobFailed, message)
}

// finishJob only matches in_progress rows; missing jobs and terminal rows are
// left untouched.
func (r *PostgresRepository) finishJob(jobID string, status models.JobStatus, message string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	_, err := r.pool.Exec(ctx,
		"UPDATE transcoding_jobs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4 AND status = 'in_progress'",
		string(status), message, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	return nil
}

func (r *PostgresRepository) GetJob(id string) (models.TranscodingJob, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx,
		"SELECT id, video_id, status, error_message, created_at, started_at, completed_at FROM transcoding_jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if err != nil {
		return models.TranscodingJob{}, false
	}
	return job, true
}

func (r *PostgresRepository) ListJobs(videoID string) ([]models.TranscodingJob, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := "SELECT id, video_id, status, error_message, created_at, started_at, completed_at FROM transcoding_jobs"
	args := []any{}
	if videoID != "" {
		query += " WHERE video_id = $1"
		args = append(args, videoID)
	}
	query += " ORDER BY created_at, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.TranscodingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (r *PostgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	now := time.Now().UTC()
	video := models.Video{
		ID:            id,
		OwnerID:       params.OwnerID,
		Title:         params.Title,
		Description:   params.Description,
		Status:        models.VideoDraft,
		RawStorageKey: params.RawStorageKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = r.pool.Exec(ctx,
		"INSERT INTO videos (id, owner_id, title, description, status, raw_storage_key, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		video.ID, video.OwnerID, video.Title, video.Description, string(video.Status), video.RawStorageKey, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *PostgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	video, err := r.getVideo(ctx, id)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *PostgresRepository) getVideo(ctx context.Context, id string) (models.Video, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT id, owner_id, title, description, status, raw_storage_key, hls_storage_key, thumbnail_key, duration_seconds, error, created_at, updated_at FROM videos WHERE id = $1", id)
	var video models.Video
	var status string
	err := row.Scan(&video.ID, &video.OwnerID, &video.Title, &video.Description, &status,
		&video.RawStorageKey, &video.HLSStorageKey, &video.ThumbnailKey,
		&video.DurationSeconds, &video.Error, &video.CreatedAt, &video.UpdatedAt)
	if err != nil {
		return models.Video{}, err
	}
	video.Status = models.VideoStatus(status)
	return video, nil
}

func (r *PostgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	assignments := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	next := 2
	appendSet := func(column string, value any) {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}
	if update.Status != nil {
		appendSet("status", string(*update.Status))
	}
	if update.RawStorageKey != nil {
		appendSet("raw_storage_key", *update.RawStorageKey)
	}
	if update.HLSStorageKey != nil {
		appendSet("hls_storage_key", *update.HLSStorageKey)
	}
	if update.ThumbnailKey != nil {
		appendSet("thumbnail_key", *update.ThumbnailKey)
	}
	if update.DurationSeconds != nil {
		appendSet("duration_seconds", *update.DurationSeconds)
	}
	if update.Error != nil {
		appendSet("error", *update.Error)
	}

	query := fmt.Sprintf("UPDATE videos SET %s WHERE id = $%d", strings.Join(assignments, ", "), next)
	args = append(args, id)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.Video{}, fmt.Errorf("update video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.Video{}, ErrVideoNotFound
	}
	video, err := r.getVideo(ctx, id)
	if err != nil {
		return models.Video{}, fmt.Errorf("reload video %s: %w", id, err)
	}
	return video, nil
}

// SetVideoUploaded records the raw upload key once the upload surface has
// landed the file in the raw bucket.
func (r *PostgresRepository) SetVideoUploaded(id, rawKey string) (models.Video, error) {
	return r.UpdateVideo(id, VideoUpdate{RawStorageKey: &rawKey})
}

func scanJob(row pgx.Row) (models.TranscodingJob, error) {
	var job models.TranscodingJob
	var status string
	err := row.Scan(&job.ID, &job.VideoID, &status, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return models.TranscodingJob{}, err
	}
	job.Status = models.JobStatus(status)
	return job, nil
}
