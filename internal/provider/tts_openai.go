package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/connexus-ai/aegis-query/internal/apperr"
)

// OpenAITTS implements the TTS capability contract using OpenAI's
// text-to-speech API. OpenAI offers only a fixed catalogue of preset voices
// ("alloy", "echo", "nova", ...) — it has no voice-cloning endpoint, so
// Clone/DeleteVoice are unsupported and return validation errors rather than
// silently no-opping.
type OpenAITTS struct {
	client  openai.Client
	modelID string
}

// NewOpenAITTS creates an OpenAITTS provider.
func NewOpenAITTS(apiKey, modelID string) *OpenAITTS {
	return &OpenAITTS{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		modelID: modelID,
	}
}

func (o *OpenAITTS) Name() string { return "openai" }

// SynthesizeTurn renders text with a preset voice. speed is passed through;
// pitch has no OpenAI equivalent and is ignored.
func (o *OpenAITTS) SynthesizeTurn(ctx context.Context, voiceID, text string, speed, pitch float64, format string) ([]byte, error) {
	return withRetry(ctx, "SynthesizeTurn", func() ([]byte, error) {
		params := openai.AudioSpeechNewParams{
			Model:          openai.SpeechModel(o.modelID),
			Input:          text,
			Voice:          openai.AudioSpeechNewParamsVoice(voiceID),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
		}
		if speed > 0 {
			params.Speed = openai.Float(speed)
		}
		resp, err := o.client.Audio.Speech.New(ctx, params)
		if err != nil {
			return nil, classifyOpenAIErr(ctx, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("provider.OpenAITTS: read audio: %w", err)
		}
		return data, nil
	})
}

func (o *OpenAITTS) Clone(ctx context.Context, sampleBytes []byte, name, description string) (string, error) {
	return "", apperr.New(apperr.KindValidation, "provider.OpenAITTS: voice cloning is not supported by this provider", nil)
}

func (o *OpenAITTS) DeleteVoice(ctx context.Context, providerVoiceID string) error {
	return apperr.New(apperr.KindValidation, "provider.OpenAITTS: voice deletion is not supported by this provider", nil)
}

// Validate performs a tiny synthesis call to confirm the API key works.
func (o *OpenAITTS) Validate(ctx context.Context) error {
	audio, err := o.SynthesizeTurn(ctx, "nova", "ok", 1.0, 0, "mp3")
	if err != nil {
		return fmt.Errorf("provider.OpenAITTS.Validate: %w", err)
	}
	if len(bytes.TrimSpace(audio)) == 0 {
		return fmt.Errorf("provider.OpenAITTS.Validate: empty audio returned")
	}
	return nil
}
