package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ConversionProvider abstracts the text-to-audio backend.
type ConversionProvider interface {
	// Name identifies the provider in logs and responses.
	Name() string

	// Convert synthesizes audio for the request.
	Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error)

	// ListVoices returns the voices available to callers.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// ConvertRequest is the provider-facing slice of a job's request snapshot.
type ConvertRequest struct {
	Text          string
	VoiceID       string
	ModelID       string
	OutputFormat  string
	VoiceSettings *VoiceSettings
}

// ConvertResult carries the synthesized audio. ProviderChars is the
// provider-reported character count; nil means the provider did not report
// one and the caller falls back to its own estimate.
type ConvertResult struct {
	Audio         []byte
	MimeType      string
	OutputFormat  string
	ProviderChars *int64
}

// ArtifactStore abstracts durable audio artifact storage.
type ArtifactStore interface {
	// UploadAudio persists the bytes under the job's id and returns where to
	// download them, how big they are, and their content hash.
	UploadAudio(ctx context.Context, jobID, outputFormat, mimeType string, audio []byte) (*Artifact, error)

	// CleanupExpired removes artifacts older than the retention window and
	// returns how many were deleted.
	CleanupExpired(ctx context.Context, retentionHours int) (int, error)
}

// Artifact describes a stored audio file.
type Artifact struct {
	DownloadURL string
	SizeBytes   int64
	SHA256      string
}

// WorkQueue is an at-least-once delivery queue keyed by job id.
//
// Enqueue is idempotent per id. Receive leases one item to the caller;
// until Ack is called the item may be redelivered after its lease expires.
// The core's correctness never depends on exactly-once delivery — duplicate
// deliveries are absorbed by the queued->running acquire guard.
type WorkQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	Receive(ctx context.Context) (jobID string, err error)
	Ack(ctx context.Context, jobID string) error
	Close() error
}
