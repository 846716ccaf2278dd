package tts

import (
	"context"
	"testing"

	"github.com/speaknet/speakd/internal/domain"
)

func TestMimeFromFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3_44100_128", "audio/mpeg"},
		{"wav_mock", "audio/wav"},
		{"pcm_16000", "audio/L16"},
		{"ogg_vorbis", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := MimeFromFormat(tt.format); got != tt.want {
				t.Errorf("MimeFromFormat(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}

func TestMockProvider_Convert(t *testing.T) {
	p := NewMockProvider()

	res, err := p.Convert(context.Background(), requestFor("hello"))
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	if len(res.Audio) == 0 {
		t.Error("audio should not be empty")
	}
	if res.MimeType != "audio/wav" {
		t.Errorf("mime = %q, want audio/wav", res.MimeType)
	}
	if res.ProviderChars == nil || *res.ProviderChars != 5 {
		t.Errorf("providerChars = %v, want 5", res.ProviderChars)
	}

	// Two conversions of the same text must not collide byte-for-byte.
	res2, err := p.Convert(context.Background(), requestFor("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Audio) == string(res2.Audio) {
		t.Error("mock audio should be unique per call")
	}
}

func TestMockProvider_ConvertHonorsContext(t *testing.T) {
	p := NewMockProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Convert(ctx, requestFor("hello")); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMockProvider_ListVoices(t *testing.T) {
	voices, err := NewMockProvider().ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error: %v", err)
	}
	if len(voices) != 3 {
		t.Errorf("len(voices) = %d, want 3", len(voices))
	}
	for _, v := range voices {
		if v.VoiceID == "" || v.Name == "" {
			t.Errorf("voice %+v missing id or name", v)
		}
	}
}

func requestFor(text string) domain.ConvertRequest {
	return domain.ConvertRequest{
		Text:         text,
		VoiceID:      "mock-neutral",
		ModelID:      "mock-model",
		OutputFormat: "wav_mock",
	}
}
