package podcast

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/jobqueue"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

type fakeRepo struct {
	job           *model.PodcastJob
	completed     bool
	completeURL   string
	completeSize  int64
	failed        bool
	failReason    string
	progressCalls []model.PodcastStep
}

func (f *fakeRepo) Get(ctx context.Context, jobID string) (*model.PodcastJob, error) {
	if f.job == nil {
		return nil, errors.New("not found")
	}
	return f.job, nil
}
func (f *fakeRepo) UpdateProgress(ctx context.Context, jobID string, pct int, step model.PodcastStep) error {
	f.progressCalls = append(f.progressCalls, step)
	return nil
}
func (f *fakeRepo) Complete(ctx context.Context, jobID, audioURL, transcript string, audioSize int64) error {
	f.completed = true
	f.completeURL = audioURL
	f.completeSize = audioSize
	return nil
}
func (f *fakeRepo) Fail(ctx context.Context, jobID, reason string) error {
	f.failed = true
	f.failReason = reason
	return nil
}

type fakeRetriever struct {
	results []model.QueryResult
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error) {
	return f.results, f.err
}

type fakeVoiceResolver struct{}

func (fakeVoiceResolver) Resolve(ctx context.Context, userID, voiceRef string) (string, error) {
	return "resolved-" + voiceRef, nil
}

type fakeStorage struct {
	uploaded    []byte
	uploadErr   error
	signedURL   string
	signErr     error
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	f.uploaded = data
	return f.uploadErr
}
func (f *fakeStorage) SignedDownloadURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	return f.signedURL, f.signErr
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (string, model.LLMUsage, error) {
	return f.response, model.LLMUsage{}, f.err
}
func (f *fakeLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (<-chan string, <-chan error) {
	panic("not used in tests")
}
func (f *fakeLLM) ModelID() string { return "test-model" }

type fakeTTS struct {
	err error
}

func (f *fakeTTS) Clone(ctx context.Context, sampleBytes []byte, name, description string) (string, error) {
	return "", nil
}
func (f *fakeTTS) SynthesizeTurn(ctx context.Context, voiceID, text string, speed, pitch float64, format string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(text), nil
}
func (f *fakeTTS) DeleteVoice(ctx context.Context, providerVoiceID string) error { return nil }
func (f *fakeTTS) Name() string                                                { return "fake-tts" }

func testPromptStore(t *testing.T) *prompt.Store {
	t.Helper()
	dir := t.TempDir()
	names := []prompt.Name{
		prompt.NameRAGGeneration, prompt.NameCoTClassify, prompt.NameCoTDecompose,
		prompt.NameCoTSynthesize, prompt.NameQueryRewrite, prompt.NamePodcastScript,
		prompt.NameQuestionSuggestion,
	}
	for _, n := range names {
		body := "{{topic}} {{minutes}} {{context}}"
		if n != prompt.NamePodcastScript {
			body = string(n) + ": {{question}}"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(n)+".txt"), []byte(body), 0o644))
	}
	store, err := prompt.NewStore(dir)
	require.NoError(t, err)
	return store
}

func testJob() *model.PodcastJob {
	return &model.PodcastJob{
		ID:             "job-1",
		UserID:         "user-1",
		CollectionID:   "coll-1",
		Title:          "IBM earnings",
		DurationBucket: model.DurationShort,
		HostVoice:      "preset-host",
		ExpertVoice:    "preset-expert",
		Format:         model.FormatMP3,
	}
}

const validScript = "HOST: Welcome to the show.\nEXPERT: Thanks for having me, let's dig in."

func TestRun_HappyPathCompletesJobWithAudio(t *testing.T) {
	repo := &fakeRepo{job: testJob()}
	runner := New(repo, &fakeRetriever{results: []model.QueryResult{{ChunkRef: model.Chunk{Text: "revenue rose"}}}},
		fakeVoiceResolver{}, &fakeStorage{signedURL: "https://example.com/audio.mp3"},
		&fakeLLM{response: validScript}, &fakeTTS{}, testPromptStore(t), "bucket")

	var progress []jobqueue.Progress
	err := runner.Run(context.Background(), "job-1", func(p jobqueue.Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.True(t, repo.completed)
	assert.False(t, repo.failed)
	assert.Equal(t, "https://example.com/audio.mp3", repo.completeURL)
	assert.Greater(t, repo.completeSize, int64(0))
	require.Len(t, progress, 5)
	assert.Equal(t, "store", progress[4].Stage)
	assert.Equal(t, 100, progress[4].Percent)
}

func TestRun_RetrievalFailureMarksJobFailedNotPropagated(t *testing.T) {
	repo := &fakeRepo{job: testJob()}
	runner := New(repo, &fakeRetriever{err: errors.New("vector store down")},
		fakeVoiceResolver{}, &fakeStorage{}, &fakeLLM{response: validScript}, &fakeTTS{}, testPromptStore(t), "bucket")

	err := runner.Run(context.Background(), "job-1", nil)
	require.NoError(t, err, "a terminal FAILED state must not be a propagated error")
	assert.True(t, repo.failed)
	assert.Contains(t, repo.failReason, "retrieval")
}

func TestRun_ScriptWithOnlyOneSpeakerFailsAtParseStage(t *testing.T) {
	repo := &fakeRepo{job: testJob()}
	runner := New(repo, &fakeRetriever{}, fakeVoiceResolver{}, &fakeStorage{},
		&fakeLLM{response: "HOST: Only one speaker here."}, &fakeTTS{}, testPromptStore(t), "bucket")

	err := runner.Run(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.True(t, repo.failed)
	assert.Contains(t, repo.failReason, "parse")
}

func TestRun_TTSFailureMarksJobFailedAtAudioStage(t *testing.T) {
	repo := &fakeRepo{job: testJob()}
	runner := New(repo, &fakeRetriever{}, fakeVoiceResolver{}, &fakeStorage{},
		&fakeLLM{response: validScript}, &fakeTTS{err: errors.New("tts quota exceeded")}, testPromptStore(t), "bucket")

	err := runner.Run(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.True(t, repo.failed)
	assert.Contains(t, repo.failReason, "audio synthesis")
}

func TestRun_UploadFailureMarksJobFailedAtStoreStage(t *testing.T) {
	repo := &fakeRepo{job: testJob()}
	runner := New(repo, &fakeRetriever{}, fakeVoiceResolver{}, &fakeStorage{uploadErr: errors.New("bucket unavailable")},
		&fakeLLM{response: validScript}, &fakeTTS{}, testPromptStore(t), "bucket")

	err := runner.Run(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.True(t, repo.failed)
	assert.Contains(t, repo.failReason, "upload")
}

func TestRun_UnknownJobIDPropagatesLoadError(t *testing.T) {
	repo := &fakeRepo{}
	runner := New(repo, &fakeRetriever{}, fakeVoiceResolver{}, &fakeStorage{}, &fakeLLM{}, &fakeTTS{}, testPromptStore(t), "bucket")

	err := runner.Run(context.Background(), "missing-job", nil)
	assert.Error(t, err)
}
