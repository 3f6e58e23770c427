package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// ElevenLabsTTS implements the TTS capability contract against the
// ElevenLabs REST API. ElevenLabs supports custom voice cloning from a
// short audio sample, unlike the OpenAI preset-only provider — the
// multipart-upload clone call and per-voice synthesize/delete endpoints
// follow the same clone/synthesize/delete REST shape the corpus's local
// Coqui XTTS provider uses for its /clone_speaker and /tts_to_audio/ calls.
type ElevenLabsTTS struct {
	apiKey     string
	httpClient *http.Client
}

// NewElevenLabsTTS creates an ElevenLabsTTS provider.
func NewElevenLabsTTS(apiKey string) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ElevenLabsTTS) Name() string { return "elevenlabs" }

type elevenLabsAddVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// Clone uploads a voice sample and returns the provider's voice id.
func (e *ElevenLabsTTS) Clone(ctx context.Context, sampleBytes []byte, name, description string) (string, error) {
	return withRetry(ctx, "Clone", func() (string, error) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		if err := w.WriteField("name", name); err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: write name field: %w", err)
		}
		if description != "" {
			if err := w.WriteField("description", description); err != nil {
				return "", fmt.Errorf("provider.ElevenLabsTTS: write description field: %w", err)
			}
		}
		fw, err := w.CreateFormFile("files", "sample.wav")
		if err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: create form file: %w", err)
		}
		if _, err := fw.Write(sampleBytes); err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: write sample bytes: %w", err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, elevenLabsBaseURL+"/voices/add", &body)
		if err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: request: %w", err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return "", ClassifyTransportError(ctx, err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return "", ClassifyHTTPStatus(resp.StatusCode, string(respBody))
		}

		var parsed elevenLabsAddVoiceResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("provider.ElevenLabsTTS: decode clone response: %w", err)
		}
		return parsed.VoiceID, nil
	})
}

type elevenLabsTTSRequest struct {
	Text          string                     `json:"text"`
	VoiceSettings elevenLabsVoiceSettingsReq `json:"voice_settings"`
}

type elevenLabsVoiceSettingsReq struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// SynthesizeTurn renders text with the given custom voice id. ElevenLabs has
// no separate pitch parameter; it is folded into stability as a rough proxy.
func (e *ElevenLabsTTS) SynthesizeTurn(ctx context.Context, voiceID, text string, speed, pitch float64, format string) ([]byte, error) {
	return withRetry(ctx, "SynthesizeTurn", func() ([]byte, error) {
		reqBody := elevenLabsTTSRequest{
			Text: text,
			VoiceSettings: elevenLabsVoiceSettingsReq{
				Stability:       clamp01(0.5 + pitch/2),
				SimilarityBoost: 0.75,
				Speed:           speed,
			},
		}
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("provider.ElevenLabsTTS: marshal: %w", err)
		}

		url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", elevenLabsBaseURL, voiceID, outputFormatFor(format))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("provider.ElevenLabsTTS: request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, ClassifyTransportError(ctx, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("provider.ElevenLabsTTS: read audio: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, ClassifyHTTPStatus(resp.StatusCode, string(data))
		}
		return data, nil
	})
}

// DeleteVoice removes a cloned voice from the ElevenLabs account.
func (e *ElevenLabsTTS) DeleteVoice(ctx context.Context, providerVoiceID string) error {
	_, err := withRetry(ctx, "DeleteVoice", func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, elevenLabsBaseURL+"/voices/"+providerVoiceID, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("provider.ElevenLabsTTS: request: %w", err)
		}
		req.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return struct{}{}, ClassifyTransportError(ctx, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return struct{}{}, ClassifyHTTPStatus(resp.StatusCode, string(body))
		}
		return struct{}{}, nil
	})
	return err
}

// Validate confirms the API key by listing voices.
func (e *ElevenLabsTTS) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, elevenLabsBaseURL+"/voices", nil)
	if err != nil {
		return fmt.Errorf("provider.ElevenLabsTTS.Validate: request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyHTTPStatus(resp.StatusCode, string(body))
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func outputFormatFor(format string) string {
	switch format {
	case "wav":
		return "pcm_44100"
	case "ogg":
		return "mp3_44100_128" // ElevenLabs has no native ogg output; stitched turns are re-encoded at store time.
	default:
		return "mp3_44100_128"
	}
}
