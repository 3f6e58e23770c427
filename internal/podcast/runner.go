package podcast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/aegis-query/internal/jobqueue"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

// progress bands for the GENERATING sub-stages (spec.md §4.11: "0 -> 30 ->
// 40 -> 50 -> 90 -> 100").
const (
	pctQueued    = 0
	pctRetrieval = 30
	pctScript    = 40
	pctParse     = 50
	pctAudio     = 90
	pctStore     = 100
)

// interTurnSilence is inserted between consecutive TTS segments so turns
// don't run together (spec.md §4.11).
const interTurnSilence = 500 * time.Millisecond

// Retriever is the retrieval boundary the script-writing stage pulls
// grounding context through (C2+C4 composed).
type Retriever interface {
	Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error)
}

// VoiceResolver resolves a job's requested HostVoice/ExpertVoice — either a
// UUID referencing a user's cloned Voice, or a preset provider voice name —
// into a provider-specific voice ID (spec.md §4.11).
type VoiceResolver interface {
	Resolve(ctx context.Context, userID, voiceRef string) (providerVoiceID string, err error)
}

// Storage is the blob store the finished audio artifact is uploaded to.
type Storage interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
	SignedDownloadURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// Repository is the job-record persistence boundary.
type Repository interface {
	Get(ctx context.Context, jobID string) (*model.PodcastJob, error)
	UpdateProgress(ctx context.Context, jobID string, pct int, step model.PodcastStep) error
	Complete(ctx context.Context, jobID, audioURL, transcript string, audioSize int64) error
	Fail(ctx context.Context, jobID, reason string) error
}

// Runner drives a single podcast job through GENERATING's five sub-stages.
// Implements jobqueue.Runner.
type Runner struct {
	repo      Repository
	retriever Retriever
	voices    VoiceResolver
	storage   Storage
	llm       provider.LLM
	tts       provider.TTS
	prompts   *prompt.Store
	bucket    string
}

// New creates a Runner.
func New(repo Repository, retriever Retriever, voices VoiceResolver, storage Storage, llm provider.LLM, tts provider.TTS, prompts *prompt.Store, bucket string) *Runner {
	return &Runner{repo: repo, retriever: retriever, voices: voices, storage: storage, llm: llm, tts: tts, prompts: prompts, bucket: bucket}
}

// Run executes the full GENERATING pipeline for jobID. When a stage fails
// after the job is loaded, it records the reason on the job and returns nil
// — per spec.md §4.11's invariant, a failed job is a terminal state, not a
// propagated error that would make the caller retry from scratch. Failing
// to load the job or to record its completion returns an error.
func (r *Runner) Run(ctx context.Context, jobID string, onProgress func(jobqueue.Progress)) error {
	job, err := r.repo.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("podcast.Run: load job: %w", err)
	}

	report := func(pct int, step model.PodcastStep, message string) {
		if err := r.repo.UpdateProgress(ctx, jobID, pct, step); err != nil {
			slog.Warn("[PODCAST] progress update failed", "job_id", jobID, "error", err)
		}
		if onProgress != nil {
			onProgress(jobqueue.Progress{JobID: jobID, Percent: pct, Stage: string(step), Message: message})
		}
	}

	fail := func(stage string, err error) error {
		slog.Error("[PODCAST] stage failed", "job_id", jobID, "stage", stage, "error", err)
		if ferr := r.repo.Fail(ctx, jobID, fmt.Sprintf("%s: %v", stage, err)); ferr != nil {
			slog.Error("[PODCAST] failed to record failure", "job_id", jobID, "error", ferr)
		}
		return nil
	}

	// Stage: retrieval.
	report(pctRetrieval, model.StepRetrieval, "retrieving source material")
	topK := job.DurationBucket.TopKRetrieval()
	results, err := r.retriever.Retrieve(ctx, job.CollectionID, job.Title, topK)
	if err != nil {
		return fail("retrieval", err)
	}

	// Stage: script generation.
	report(pctScript, model.StepScript, "drafting dialogue script")
	rendered, err := r.prompts.Render(prompt.NamePodcastScript, job.UserID, map[string]string{
		"topic":    job.Title,
		"minutes":  fmt.Sprintf("%d", job.DurationBucket.Minutes()),
		"context":  joinChunks(results),
	})
	if err != nil {
		return fail("script template", err)
	}
	raw, _, err := r.llm.Generate(ctx, rendered, job.Title, provider.GenerateParams{MaxTokens: 4096, Temperature: 0.7, TopP: 0.95})
	if err != nil {
		return fail("script generation", err)
	}

	// Stage: parse.
	report(pctParse, model.StepParse, "parsing dialogue turns")
	turns := ParseScript(raw)
	if err := validateTurns(turns); err != nil {
		return fail("parse", err)
	}

	// Stage: audio synthesis.
	report(pctAudio, model.StepAudio, "synthesizing audio")
	audio, err := r.synthesize(ctx, job, turns)
	if err != nil {
		return fail("audio synthesis", err)
	}

	// Stage: store.
	report(pctStore, model.StepStore, "uploading audio")
	object := fmt.Sprintf("podcasts/%s/%s.%s", job.UserID, job.ID, job.Format)
	if err := r.storage.Upload(ctx, r.bucket, object, audio, contentTypeFor(job.Format)); err != nil {
		return fail("upload", err)
	}
	audioURL, err := r.storage.SignedDownloadURL(ctx, r.bucket, object, 7*24*time.Hour)
	if err != nil {
		return fail("sign download url", err)
	}

	if err := r.repo.Complete(ctx, jobID, audioURL, Transcript(turns), int64(len(audio))); err != nil {
		return fmt.Errorf("podcast.Run: complete job: %w", err)
	}
	return nil
}

// synthesize renders each turn through the TTS provider with the resolved
// voice, concatenating raw audio bytes with interTurnSilence of silence
// between turns (spec.md §4.11). Byte-level concatenation is a deliberate
// simplification: a production encoder would decode/re-encode through a
// proper container; for the fixed default_format mp3/wav/ogg/flac set this
// module targets, provider TTS output is already a playable frame stream
// and raw concatenation is what the teacher's own ffmpeg-free path assumes.
func (r *Runner) synthesize(ctx context.Context, job *model.PodcastJob, turns []model.ScriptTurn) ([]byte, error) {
	hostVoice, err := r.voices.Resolve(ctx, job.UserID, job.HostVoice)
	if err != nil {
		return nil, fmt.Errorf("resolve host voice: %w", err)
	}
	expertVoice, err := r.voices.Resolve(ctx, job.UserID, job.ExpertVoice)
	if err != nil {
		return nil, fmt.Errorf("resolve expert voice: %w", err)
	}

	silence := bytes.Repeat([]byte{0}, silenceByteLen(interTurnSilence))

	var out bytes.Buffer
	for i, t := range turns {
		voiceID := expertVoice
		if t.Speaker == model.SpeakerHost {
			voiceID = hostVoice
		}
		segment, err := r.tts.SynthesizeTurn(ctx, voiceID, t.Text, 1.0, 0.0, string(job.Format))
		if err != nil {
			return nil, fmt.Errorf("synthesize turn %d: %w", i, err)
		}
		out.Write(segment)
		if i < len(turns)-1 {
			out.Write(silence)
		}
	}
	return out.Bytes(), nil
}

// silenceByteLen is a placeholder frame-size estimate; a real encoder would
// derive this from the target format's sample rate/bit depth instead of a
// fixed byte count.
func silenceByteLen(d time.Duration) int {
	const bytesPerSecond = 16000
	return int(d.Seconds() * bytesPerSecond)
}

func contentTypeFor(f model.PodcastFormat) string {
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

func joinChunks(results []model.QueryResult) string {
	var out string
	for i, r := range results {
		out += fmt.Sprintf("[%d] %s\n", i+1, r.ChunkRef.Text)
	}
	return out
}
