// Package tts implements conversion providers behind
// domain.ConversionProvider: a deterministic mock for development and tests,
// and an ElevenLabs REST client for production.
package tts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// MimeFromFormat maps a provider output format to a MIME type.
func MimeFromFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "wav"):
		return "audio/wav"
	case strings.HasPrefix(format, "pcm"):
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

// MockProvider fakes conversion with latency proportional to text length.
// The audio bytes are unique per call so content hashes differ.
type MockProvider struct{}

// NewMockProvider returns the mock provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name identifies the provider.
func (p *MockProvider) Name() string { return "mock" }

// Convert produces fake WAV bytes after a simulated synthesis delay.
func (p *MockProvider) Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConvertResult, error) {
	latency := time.Duration(300+2*len(req.Text)) * time.Millisecond
	if latency > 2*time.Second {
		latency = 2 * time.Second
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("mock audio nonce: %w", err)
	}
	snippet := req.Text
	if len(snippet) > 120 {
		snippet = snippet[:120]
	}
	audio := []byte(fmt.Sprintf("FAKE_WAV_DATA::%d-%d-%s::%s",
		time.Now().UnixMilli(), len(req.Text), hex.EncodeToString(nonce), snippet))

	chars := domain.EstimateCharacters(req.Text)
	return &domain.ConvertResult{
		Audio:         audio,
		MimeType:      "audio/wav",
		OutputFormat:  "wav_mock",
		ProviderChars: &chars,
	}, nil
}

// ListVoices returns the fixed mock voice set.
func (p *MockProvider) ListVoices(ctx context.Context) ([]domain.Voice, error) {
	return []domain.Voice{
		{VoiceID: "mock-neutral", Name: "Mock Neutral"},
		{VoiceID: "mock-energetic", Name: "Mock Energetic"},
		{VoiceID: "mock-calm", Name: "Mock Calm"},
	}, nil
}
