package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// PodcastStore implements podcast.Repository and jobqueue.Reconciler,
// grounded on the teacher's mercury_config.go upsert idiom generalized to a
// status/progress state machine (spec.md §3 PodcastJob invariants: status
// monotonic, progress_pct non-decreasing, COMPLETED implies audio_url set,
// FAILED implies error set).
type PodcastStore struct {
	pool *pgxpool.Pool
}

// NewPodcastStore creates a PodcastStore.
func NewPodcastStore(pool *pgxpool.Pool) *PodcastStore {
	return &PodcastStore{pool: pool}
}

// ErrJobNotFound is returned when a job ID has no matching row.
var ErrJobNotFound = fmt.Errorf("repository: podcast job not found")

// Create inserts a new QUEUED job.
func (r *PodcastStore) Create(ctx context.Context, job *model.PodcastJob) error {
	now := time.Now().UTC()
	job.Status = model.PodcastQueued
	job.ProgressPct = 0
	err := r.pool.QueryRow(ctx, `
		INSERT INTO podcast_jobs (id, user_id, collection_id, title, duration_bucket, host_voice, expert_voice, format, status, progress_pct, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
		RETURNING id, created_at, updated_at`,
		job.UserID, job.CollectionID, job.Title, string(job.DurationBucket), job.HostVoice, job.ExpertVoice, string(job.Format), string(job.Status), now,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.PodcastStore.Create: %w", err)
	}
	return nil
}

// Get loads a job by ID.
func (r *PodcastStore) Get(ctx context.Context, jobID string) (*model.PodcastJob, error) {
	j := &model.PodcastJob{}
	var duration, format, status, step string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, collection_id, title, duration_bucket, host_voice, expert_voice, format, status,
		       progress_pct, COALESCE(current_step, ''), COALESCE(audio_url, ''), COALESCE(audio_size, 0),
		       COALESCE(transcript, ''), COALESCE(error, ''), created_at, updated_at, completed_at
		FROM podcast_jobs WHERE id = $1`, jobID,
	).Scan(&j.ID, &j.UserID, &j.CollectionID, &j.Title, &duration, &j.HostVoice, &j.ExpertVoice, &format, &status,
		&j.ProgressPct, &step, &j.AudioURL, &j.AudioSize, &j.Transcript, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository.PodcastStore.Get: %w", err)
	}
	j.DurationBucket = model.DurationBucket(duration)
	j.Format = model.PodcastFormat(format)
	j.Status = model.PodcastStatus(status)
	j.CurrentStep = model.PodcastStep(step)
	return j, nil
}

// UpdateProgress advances a job into GENERATING at pct/step. Both progress
// and current_step only move forward: a stale throttled update arriving
// after a later one is dropped rather than overwriting it.
func (r *PodcastStore) UpdateProgress(ctx context.Context, jobID string, pct int, step model.PodcastStep) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE podcast_jobs
		SET status = $2, progress_pct = $3, current_step = $4, updated_at = $5
		WHERE id = $1 AND progress_pct <= $3`,
		jobID, string(model.PodcastGenerating), pct, string(step), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository.PodcastStore.UpdateProgress: %w", err)
	}
	return nil
}

// Complete marks a job COMPLETED with its finished artifact.
func (r *PodcastStore) Complete(ctx context.Context, jobID, audioURL, transcript string, audioSize int64) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE podcast_jobs
		SET status = $2, progress_pct = 100, audio_url = $3, audio_size = $4, transcript = $5, updated_at = $6, completed_at = $6
		WHERE id = $1`,
		jobID, string(model.PodcastCompleted), audioURL, audioSize, transcript, now)
	if err != nil {
		return fmt.Errorf("repository.PodcastStore.Complete: %w", err)
	}
	return nil
}

// Fail marks a job FAILED with reason. No partial audio_url is ever set by
// this path (spec.md §3: FAILED implies any partial artifact is released,
// never linked from the row).
func (r *PodcastStore) Fail(ctx context.Context, jobID, reason string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE podcast_jobs SET status = $2, error = $3, updated_at = $4, completed_at = $4 WHERE id = $1`,
		jobID, string(model.PodcastFailed), reason, now)
	if err != nil {
		return fmt.Errorf("repository.PodcastStore.Fail: %w", err)
	}
	return nil
}

// Cancel transitions a job to CANCELLED, running the same terminal path as
// Fail (spec.md §5: cancellation runs the same cleanup as FAILED).
func (r *PodcastStore) Cancel(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE podcast_jobs SET status = $2, updated_at = $3, completed_at = $3 WHERE id = $1`,
		jobID, string(model.PodcastCancelled), now)
	if err != nil {
		return fmt.Errorf("repository.PodcastStore.Cancel: %w", err)
	}
	return nil
}

// CountActiveByUser returns how many of userID's jobs are QUEUED or
// GENERATING, for the per-user concurrency cap at submission (spec.md
// §4.11 "concurrent per-user generations below max_concurrent_per_user").
func (r *PodcastStore) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM podcast_jobs
		WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, string(model.PodcastQueued), string(model.PodcastGenerating),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository.PodcastStore.CountActiveByUser: %w", err)
	}
	return n, nil
}

// FailOrphanedJobs implements jobqueue.Reconciler: any job left QUEUED or
// GENERATING at process start belonged to a worker that never finished
// (spec.md §4.12 restart reconciliation).
func (r *PodcastStore) FailOrphanedJobs(ctx context.Context, reason string) (int, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE podcast_jobs SET status = $1, error = $2, updated_at = $3, completed_at = $3
		WHERE status IN ($4, $5)`,
		string(model.PodcastFailed), reason, now, string(model.PodcastQueued), string(model.PodcastGenerating))
	if err != nil {
		return 0, fmt.Errorf("repository.PodcastStore.FailOrphanedJobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
