package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsProvider converts text through the ElevenLabs REST API.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewElevenLabsProvider builds a provider with the given API key.
func NewElevenLabsProvider(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name identifies the provider.
func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// Convert synthesizes audio via POST /v1/text-to-speech/{voice_id}.
func (p *ElevenLabsProvider) Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConvertResult, error) {
	body := map[string]any{
		"text":     req.Text,
		"model_id": req.ModelID,
	}
	if req.VoiceSettings != nil {
		body["voice_settings"] = req.VoiceSettings
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode convert request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		p.baseURL, url.PathEscape(req.VoiceID), url.QueryEscape(req.OutputFormat))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build convert request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("convert: status %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	// The API does not return a character count; it bills by input length.
	chars := domain.EstimateCharacters(req.Text)
	return &domain.ConvertResult{
		Audio:         audio,
		MimeType:      MimeFromFormat(req.OutputFormat),
		OutputFormat:  req.OutputFormat,
		ProviderChars: &chars,
	}, nil
}

// ListVoices fetches the account's voices via GET /v1/voices.
func (p *ElevenLabsProvider) ListVoices(ctx context.Context) ([]domain.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("build voices request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list voices: status %d", resp.StatusCode)
	}

	var payload struct {
		Voices []struct {
			VoiceID  string `json:"voice_id"`
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}

	voices := make([]domain.Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		if v.VoiceID == "" {
			continue
		}
		name := v.Name
		if name == "" {
			name = "unknown"
		}
		voices = append(voices, domain.Voice{VoiceID: v.VoiceID, Name: name, Category: v.Category})
	}
	return voices, nil
}
