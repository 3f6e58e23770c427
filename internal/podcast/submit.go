package podcast

import (
	"context"
	"fmt"

	"github.com/connexus-ai/aegis-query/internal/apperr"
	"github.com/connexus-ai/aegis-query/internal/model"
)

// minDocuments is the floor on a collection's indexed document count below
// which a podcast cannot be produced (spec.md §4.11 "collection must have
// >= min_documents", §8 boundary: "Podcast with duration=5 and zero
// retrieved chunks transitions to FAILED with validation").
const minDocuments = 1

// defaultMaxConcurrentPerUser bounds how many of a user's jobs may be
// QUEUED or GENERATING at once (spec.md §4.11, default 3).
const defaultMaxConcurrentPerUser = 3

// CollectionCounter reports how many documents a collection currently has
// at least one chunk for (C2's aggregate view).
type CollectionCounter interface {
	CountByCollection(ctx context.Context, collectionID string) (int, error)
}

// VoiceValidator checks a voice reference without consuming it (distinct
// from VoiceResolver.Resolve, which runs once per turn during synthesis).
type VoiceValidator interface {
	ValidateRef(ctx context.Context, userID, voiceRef string) error
}

// ActiveJobCounter reports how many non-terminal jobs a user currently has.
type ActiveJobCounter interface {
	CountActiveByUser(ctx context.Context, userID string) (int, error)
}

// SubmitRequest is the validated input to Submit.
type SubmitRequest struct {
	UserID       string
	CollectionID string
	Title        string
	Duration     int // minutes: 5, 15, 30, or 60
	Format       model.PodcastFormat
	HostVoice    string
	ExpertVoice  string
}

// Submitter validates a podcast generation request synchronously, per
// spec.md §4.11 "Validation at submission": collection size, voice
// references, and per-user concurrency all fail fast with a structured
// validation error rather than enqueueing a job doomed to fail later.
type Submitter struct {
	collections         CollectionCounter
	voices              VoiceValidator
	jobs                ActiveJobCounter
	maxConcurrentPerUser int
}

// NewSubmitter creates a Submitter. maxConcurrentPerUser <= 0 uses the
// spec default of 3.
func NewSubmitter(collections CollectionCounter, voices VoiceValidator, jobs ActiveJobCounter, maxConcurrentPerUser int) *Submitter {
	if maxConcurrentPerUser <= 0 {
		maxConcurrentPerUser = defaultMaxConcurrentPerUser
	}
	return &Submitter{collections: collections, voices: voices, jobs: jobs, maxConcurrentPerUser: maxConcurrentPerUser}
}

var validFormats = map[model.PodcastFormat]struct{}{
	model.FormatMP3: {}, model.FormatWAV: {}, model.FormatOGG: {}, model.FormatFLAC: {},
}

var validDurations = map[int]struct{}{5: {}, 15: {}, 30: {}, 60: {}}

// Validate checks req and returns an *apperr.Error of KindValidation on any
// failure; a nil return means the job may be enqueued.
func (s *Submitter) Validate(ctx context.Context, req SubmitRequest) error {
	if _, ok := validDurations[req.Duration]; !ok {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("duration must be one of 5, 15, 30, 60 minutes, got %d", req.Duration), nil)
	}
	if _, ok := validFormats[req.Format]; !ok {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported format %q", req.Format), nil)
	}
	if req.HostVoice == "" || req.ExpertVoice == "" {
		return apperr.New(apperr.KindValidation, "host_voice and expert_voice are required", nil)
	}

	count, err := s.collections.CountByCollection(ctx, req.CollectionID)
	if err != nil {
		return apperr.New(apperr.KindInternal, "check collection size", err)
	}
	if count < minDocuments {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("collection has %d documents, at least %d required", count, minDocuments), nil)
	}

	if err := s.voices.ValidateRef(ctx, req.UserID, req.HostVoice); err != nil {
		return apperr.New(apperr.KindValidation, "invalid host_voice", err)
	}
	if err := s.voices.ValidateRef(ctx, req.UserID, req.ExpertVoice); err != nil {
		return apperr.New(apperr.KindValidation, "invalid expert_voice", err)
	}

	active, err := s.jobs.CountActiveByUser(ctx, req.UserID)
	if err != nil {
		return apperr.New(apperr.KindInternal, "check active job count", err)
	}
	if active >= s.maxConcurrentPerUser {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("user already has %d concurrent podcast generations running", active), nil)
	}

	return nil
}
