package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// VoiceStore resolves a job's HostVoice/ExpertVoice reference into a
// provider voice ID, and persists cloned-voice records. A voiceRef is
// either a UUID naming a user's cloned Voice row, or a bare preset name
// (e.g. "alloy") passed straight through to the TTS provider (spec.md
// §4.11 "host_voice, expert_voice").
type VoiceStore struct {
	pool *pgxpool.Pool
}

// NewVoiceStore creates a VoiceStore.
func NewVoiceStore(pool *pgxpool.Pool) *VoiceStore {
	return &VoiceStore{pool: pool}
}

// Resolve implements podcast.VoiceResolver.
func (r *VoiceStore) Resolve(ctx context.Context, userID, voiceRef string) (string, error) {
	if !looksLikeUUID(voiceRef) {
		return voiceRef, nil
	}

	var v model.Voice
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT provider_voice_id, status FROM voices WHERE id = $1 AND user_id = $2`,
		voiceRef, userID,
	).Scan(&v.ProviderVoiceID, &status)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("repository.VoiceStore.Resolve: voice %s not found for user", voiceRef)
	}
	if err != nil {
		return "", fmt.Errorf("repository.VoiceStore.Resolve: %w", err)
	}
	if model.VoiceStatus(status) != model.VoiceReady {
		return "", fmt.Errorf("repository.VoiceStore.Resolve: voice %s is not READY (status=%s)", voiceRef, status)
	}

	if _, err := r.pool.Exec(ctx, `UPDATE voices SET times_used = times_used + 1, updated_at = $2 WHERE id = $1`, voiceRef, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("repository.VoiceStore.Resolve: record usage: %w", err)
	}
	return v.ProviderVoiceID, nil
}

// ValidateRef checks that voiceRef is either a bare preset name (passed
// through untouched) or a UUID naming a READY voice owned by userID,
// without recording usage. Used at podcast submission time (spec.md §4.11
// "voice IDs must validate"), distinct from Resolve which is called once
// per turn during synthesis and does bump times_used.
func (r *VoiceStore) ValidateRef(ctx context.Context, userID, voiceRef string) error {
	if !looksLikeUUID(voiceRef) {
		return nil
	}
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM voices WHERE id = $1 AND user_id = $2`, voiceRef, userID).Scan(&status)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("repository.VoiceStore.ValidateRef: voice %s not found for user", voiceRef)
	}
	if err != nil {
		return fmt.Errorf("repository.VoiceStore.ValidateRef: %w", err)
	}
	if model.VoiceStatus(status) != model.VoiceReady {
		return fmt.Errorf("repository.VoiceStore.ValidateRef: voice %s is not READY (status=%s)", voiceRef, status)
	}
	return nil
}

// Create inserts a new voice in UPLOADING status, pending provider-side
// clone processing.
func (r *VoiceStore) Create(ctx context.Context, v *model.Voice) error {
	now := time.Now().UTC()
	v.Status = model.VoiceUploading
	err := r.pool.QueryRow(ctx, `
		INSERT INTO voices (id, user_id, name, status, provider_name, sample_ref, times_used, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 0, $6, $6)
		RETURNING id, created_at, updated_at`,
		v.UserID, v.Name, string(v.Status), v.ProviderName, v.SampleRef, now,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.VoiceStore.Create: %w", err)
	}
	return nil
}

// MarkReady records the provider's returned voice ID once cloning finishes.
func (r *VoiceStore) MarkReady(ctx context.Context, voiceID, providerVoiceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE voices SET status = $2, provider_voice_id = $3, updated_at = $4 WHERE id = $1`,
		voiceID, string(model.VoiceReady), providerVoiceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository.VoiceStore.MarkReady: %w", err)
	}
	return nil
}

// MarkFailed records a failed clone attempt.
func (r *VoiceStore) MarkFailed(ctx context.Context, voiceID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE voices SET status = $2, updated_at = $3 WHERE id = $1`,
		voiceID, string(model.VoiceFailed), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository.VoiceStore.MarkFailed: %w", err)
	}
	return nil
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	return strings.Count(s, "-") == 4
}
