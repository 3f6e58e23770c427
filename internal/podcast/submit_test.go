package podcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/connexus-ai/aegis-query/internal/apperr"
	"github.com/connexus-ai/aegis-query/internal/model"
)

type fakeCollectionCounter struct {
	count int
	err   error
}

func (f *fakeCollectionCounter) CountByCollection(ctx context.Context, collectionID string) (int, error) {
	return f.count, f.err
}

type fakeVoiceValidator struct {
	invalid map[string]bool
}

func (f *fakeVoiceValidator) ValidateRef(ctx context.Context, userID, voiceRef string) error {
	if f.invalid[voiceRef] {
		return errors.New("voice not found")
	}
	return nil
}

type fakeActiveJobCounter struct {
	count int
	err   error
}

func (f *fakeActiveJobCounter) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	return f.count, f.err
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		UserID: "user-1", CollectionID: "coll-1", Title: "t",
		Duration: 15, Format: model.FormatMP3,
		HostVoice: "host-1", ExpertVoice: "expert-1",
	}
}

func TestValidate_AcceptsWellFormedRequest(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{count: 0}, 3)
	assert.NoError(t, s.Validate(context.Background(), validRequest()))
}

func TestValidate_RejectsNonStandardDuration(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{}, 3)
	req := validRequest()
	req.Duration = 20
	err := s.Validate(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_RejectsUnsupportedFormat(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{}, 3)
	req := validRequest()
	req.Format = "m4a"
	err := s.Validate(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_RejectsMissingVoices(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{}, 3)
	req := validRequest()
	req.ExpertVoice = ""
	err := s.Validate(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_RejectsCollectionBelowMinDocuments(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 0}, &fakeVoiceValidator{}, &fakeActiveJobCounter{}, 3)
	err := s.Validate(context.Background(), validRequest())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_CollectionLookupErrorIsInternalNotValidation(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{err: errors.New("db down")}, &fakeVoiceValidator{}, &fakeActiveJobCounter{}, 3)
	err := s.Validate(context.Background(), validRequest())
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestValidate_RejectsInvalidHostVoice(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{invalid: map[string]bool{"host-1": true}}, &fakeActiveJobCounter{}, 3)
	err := s.Validate(context.Background(), validRequest())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_RejectsAtConcurrencyCeiling(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{count: 3}, 3)
	err := s.Validate(context.Background(), validRequest())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidate_AllowsBelowConcurrencyCeiling(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{count: 2}, 3)
	assert.NoError(t, s.Validate(context.Background(), validRequest()))
}

func TestNewSubmitter_DefaultsMaxConcurrencyWhenNonPositive(t *testing.T) {
	s := NewSubmitter(&fakeCollectionCounter{count: 5}, &fakeVoiceValidator{}, &fakeActiveJobCounter{count: 3}, 0)
	err := s.Validate(context.Background(), validRequest())
	assert.True(t, apperr.Is(err, apperr.KindValidation), "3 active jobs should hit the default ceiling of 3")
}
