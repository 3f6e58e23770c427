// Podcast exposes job submission, status polling, and byte-range audio
// serving for C11/C12 (spec.md §6).
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/aegis-query/internal/apperr"
	"github.com/connexus-ai/aegis-query/internal/authctx"
	"github.com/connexus-ai/aegis-query/internal/jobqueue"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/podcast"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

// PodcastRepository is the persistence boundary podcast endpoints need.
type PodcastRepository interface {
	Create(ctx context.Context, job *model.PodcastJob) error
	Get(ctx context.Context, jobID string) (*model.PodcastJob, error)
	Cancel(ctx context.Context, jobID string) error
}

// AudioDownloader reads the stored artifact back for range serving.
type AudioDownloader interface {
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// generatePodcastRequest matches PodcastGenerateRequest (spec.md §6).
type generatePodcastRequest struct {
	CollectionID  string              `json:"collectionId"`
	Duration      int                 `json:"duration"`
	Format        model.PodcastFormat `json:"format"`
	HostVoice     string              `json:"hostVoice"`
	ExpertVoice   string              `json:"expertVoice"`
	IncludeIntro  bool                `json:"includeIntro,omitempty"`
	IncludeOutro  bool                `json:"includeOutro,omitempty"`
	Title         string              `json:"title,omitempty"`
}

// GeneratePodcast handles POST /api/podcasts: validates synchronously
// (spec.md §4.11) then enqueues GENERATING work onto the job queue.
func GeneratePodcast(submitter *podcast.Submitter, repo PodcastRepository, queue *jobqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authctx.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req generatePodcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		title := req.Title
		if title == "" {
			title = "Untitled podcast"
		}
		bucket := model.DurationBucketFor(req.Duration)

		submitReq := podcast.SubmitRequest{
			UserID: userID, CollectionID: req.CollectionID, Title: title,
			Duration: req.Duration, Format: req.Format, HostVoice: req.HostVoice, ExpertVoice: req.ExpertVoice,
		}
		if err := submitter.Validate(r.Context(), submitReq); err != nil {
			writeValidationErr(w, err)
			return
		}

		job := &model.PodcastJob{
			UserID: userID, CollectionID: req.CollectionID, Title: title,
			DurationBucket: bucket, HostVoice: req.HostVoice, ExpertVoice: req.ExpertVoice, Format: req.Format,
		}
		if err := repo.Create(r.Context(), job); err != nil {
			slog.Error("[HANDLER] create podcast job failed", "error", err)
			http.Error(w, "failed to create job", http.StatusInternalServerError)
			return
		}

		jobID := job.ID
		if err := queue.Submit(jobID, jobqueue.ThrottledProgress(func(p jobqueue.Progress) {
			slog.Debug("[PODCAST] progress", "job_id", p.JobID, "pct", p.Percent, "stage", p.Stage)
		})); err != nil {
			slog.Error("[HANDLER] podcast queue full", "error", err)
			http.Error(w, "podcast job queue is full, try again shortly", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusAccepted, statusResponse(job))
	}
}

// PodcastStatus handles GET /api/podcasts/{jobID}.
func PodcastStatus(repo PodcastRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := repo.Get(r.Context(), jobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load job", http.StatusInternalServerError)
			return
		}
		if job.UserID != authctx.UserID(r.Context()) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse(job))
	}
}

// CancelPodcast handles POST /api/podcasts/{jobID}/cancel: cooperative
// cancellation runs the same cleanup path as FAILED (spec.md §5).
func CancelPodcast(repo PodcastRepository, queue *jobqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := repo.Get(r.Context(), jobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load job", http.StatusInternalServerError)
			return
		}
		if job.UserID != authctx.UserID(r.Context()) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		queue.Cancel(jobID)
		if err := repo.Cancel(r.Context(), jobID); err != nil {
			http.Error(w, "failed to cancel job", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PodcastAudio handles GET /api/podcasts/{jobID}/audio: byte-range serving
// per RFC 7233 (spec.md §6). http.ServeContent implements the Accept-Ranges
// negotiation, 206/416 status codes, and Content-Range header directly, so
// this handler only needs to fetch the bytes and hand them off.
func PodcastAudio(repo PodcastRepository, storage AudioDownloader, bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := repo.Get(r.Context(), jobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load job", http.StatusInternalServerError)
			return
		}
		if job.UserID != authctx.UserID(r.Context()) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if job.Status != model.PodcastCompleted || job.AudioURL == "" {
			http.Error(w, "audio not available", http.StatusNotFound)
			return
		}

		object := audioObjectKey(job)
		data, err := storage.Download(r.Context(), bucket, object)
		if err != nil {
			slog.Error("[HANDLER] download podcast audio failed", "error", err)
			http.Error(w, "failed to read audio", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeForFormat(job.Format))
		http.ServeContent(w, r, object, job.UpdatedAt, bytes.NewReader(data))
	}
}

func audioObjectKey(job *model.PodcastJob) string {
	return "podcasts/" + job.UserID + "/" + job.ID + "." + string(job.Format)
}

func contentTypeForFormat(f model.PodcastFormat) string {
	switch f {
	case model.FormatWAV:
		return "audio/wav"
	case model.FormatOGG:
		return "audio/ogg"
	case model.FormatFLAC:
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}

// statusResponse shapes PodcastStatusResponse (spec.md §6).
func statusResponse(job *model.PodcastJob) map[string]interface{} {
	resp := map[string]interface{}{
		"jobId":       job.ID,
		"status":      job.Status,
		"progressPct": job.ProgressPct,
		"timestamps": map[string]interface{}{
			"createdAt": job.CreatedAt,
			"updatedAt": job.UpdatedAt,
		},
	}
	if job.CurrentStep != "" {
		resp["currentStep"] = job.CurrentStep
	}
	if job.AudioURL != "" {
		resp["audioUrl"] = job.AudioURL
		resp["audioSizeBytes"] = job.AudioSize
	}
	if job.Transcript != "" {
		resp["transcript"] = job.Transcript
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.CompletedAt != nil {
		tstamps := resp["timestamps"].(map[string]interface{})
		tstamps["completedAt"] = *job.CompletedAt
	}
	return resp
}

func writeValidationErr(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindValidation {
		http.Error(w, ae.Error(), http.StatusUnprocessableEntity)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
