// Package jobs implements the asynchronous TTS pipeline: submission with an
// up-front credit reservation, queue dispatch to a bounded worker pool, and
// settlement of the reservation against actual usage.
package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/observability"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// MaxTextLength caps a single job's input text, in characters.
const MaxTextLength = 5000

// Service handles job submission and retrieval.
type Service struct {
	db     *sqlite.DB
	ledger *ledger.Service
	queue  domain.WorkQueue
}

// NewService creates the job service.
func NewService(db *sqlite.DB, ledger *ledger.Service, queue domain.WorkQueue) *Service {
	return &Service{db: db, ledger: ledger, queue: queue}
}

// CreateJobInput is a submission request. Empty VoiceID, ModelID and
// OutputFormat fall back to server defaults before reaching here.
type CreateJobInput struct {
	Text          string
	VoiceID       string
	ModelID       string
	OutputFormat  string
	VoiceSettings *domain.VoiceSettings
}

// CreateJobResult is the submission outcome. InsufficientCredits is a
// deterministic rejection, not an error: nothing was persisted or charged.
type CreateJobResult struct {
	Job                 *domain.TTSJob
	InsufficientCredits bool
	RequiredChars       int64
	CharactersRemaining int64
}

// ValidateText checks submission text against the size cap.
func ValidateText(text string) error {
	if text == "" {
		return fmt.Errorf("text is required")
	}
	if n := domain.EstimateCharacters(text); n > MaxTextLength {
		return fmt.Errorf("text is too long: %d characters, max %d", n, MaxTextLength)
	}
	return nil
}

// CreateJob reserves characters for the text and enqueues the job. The
// reservation happens before the job row exists, so a queued job always has
// its characters already held.
func (s *Service) CreateJob(ctx context.Context, agentID string, in CreateJobInput) (*CreateJobResult, error) {
	if agentID == "" {
		return nil, domain.ErrAgentRequired
	}
	if err := ValidateText(in.Text); err != nil {
		return nil, err
	}

	estimated := domain.EstimateCharacters(in.Text)
	reserve, err := s.ledger.Reserve(ctx, agentID, estimated)
	if err != nil {
		return nil, err
	}
	if !reserve.Ok {
		return &CreateJobResult{
			InsufficientCredits: true,
			RequiredChars:       estimated,
			CharactersRemaining: reserve.CharactersRemaining,
		}, nil
	}

	job := &domain.TTSJob{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Status:  domain.JobQueued,
		Request: domain.JobRequest{
			Text:          in.Text,
			TextLength:    int(estimated),
			VoiceID:       in.VoiceID,
			ModelID:       in.ModelID,
			OutputFormat:  in.OutputFormat,
			VoiceSettings: in.VoiceSettings,
		},
		Usage: domain.JobUsage{
			EstimatedChars: estimated,
			ReservedChars:  estimated,
		},
	}

	if err := s.db.InsertJob(ctx, job); err != nil {
		if _, rerr := s.ledger.Refund(ctx, agentID, estimated); rerr != nil {
			log.Printf("[jobs] refund after failed insert for %s: %v", agentID, rerr)
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		if _, rerr := s.ledger.Refund(ctx, agentID, estimated); rerr != nil {
			log.Printf("[jobs] refund after failed enqueue for %s: %v", agentID, rerr)
		}
		if _, ferr := s.db.FailJob(ctx, job.ID, "QUEUE_ERROR", err.Error()); ferr != nil {
			log.Printf("[jobs] mark job %s failed: %v", job.ID, ferr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	observability.JobsSubmitted.Inc()
	return &CreateJobResult{
		Job:                 job,
		RequiredChars:       estimated,
		CharactersRemaining: reserve.CharactersRemaining,
	}, nil
}

// GetJob returns a job, enforcing ownership.
func (s *Service) GetJob(ctx context.Context, agentID, jobID string) (*domain.TTSJob, error) {
	job, err := s.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AgentID != agentID {
		return nil, domain.ErrNotJobOwner
	}
	return job, nil
}

// ListJobs returns the agent's most recent jobs.
func (s *Service) ListJobs(ctx context.Context, agentID string, limit int) ([]*domain.TTSJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.db.ListJobsByAgent(ctx, agentID, limit)
}

// Stats counts jobs per lifecycle status.
func (s *Service) Stats(ctx context.Context) (*domain.JobStats, error) {
	return s.db.JobCounts(ctx)
}
