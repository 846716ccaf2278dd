// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring — it depends on nothing.
package domain

import (
	"time"
	"unicode/utf8"
)

// ─── TTS Job Types ──────────────────────────────────────────────────────────

// JobStatus is the lifecycle of an asynchronous conversion job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// VoiceSettings are optional provider tuning knobs, stored verbatim with the
// request snapshot.
type VoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
}

// JobRequest is the immutable request snapshot captured at job creation.
type JobRequest struct {
	Text          string         `json:"text"`
	TextLength    int            `json:"text_length"`
	VoiceID       string         `json:"voice_id"`
	ModelID       string         `json:"model_id"`
	OutputFormat  string         `json:"output_format"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

// JobUsage tracks the character accounting for a job. ReservedChars is fixed
// at creation; ActualChars and RefundedChars are set once at completion.
type JobUsage struct {
	EstimatedChars int64  `json:"estimated_chars"`
	ReservedChars  int64  `json:"reserved_chars"`
	ActualChars    *int64 `json:"actual_chars,omitempty"`
	RefundedChars  *int64 `json:"refunded_chars,omitempty"`
}

// JobResult describes the stored audio artifact of a successful job.
type JobResult struct {
	DownloadURL string `json:"download_url"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
}

// JobError captures why a job failed.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TTSJob is the persisted job record. Jobs are never deleted (audit trail);
// completion fields are write-once.
type TTSJob struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Status      JobStatus  `json:"status"`
	Request     JobRequest `json:"request"`
	Usage       JobUsage   `json:"usage"`
	Result      *JobResult `json:"result,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobExecutionInput is what a worker reads fresh from the store before
// executing. The queue payload is never trusted as the source of truth.
type JobExecutionInput struct {
	ID             string
	AgentID        string
	Text           string
	VoiceID        string
	ModelID        string
	OutputFormat   string
	VoiceSettings  *VoiceSettings
	EstimatedChars int64
	ReservedChars  int64
}

// JobStats counts jobs per lifecycle status.
type JobStats struct {
	Total   int64 `json:"total"`
	Queued  int64 `json:"queued"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// Voice is one entry of a provider's voice listing.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// EstimateCharacters returns the billable character count for a text.
// Counted in runes so multibyte scripts are not overbilled.
func EstimateCharacters(text string) int64 {
	return int64(utf8.RuneCountInString(text))
}
