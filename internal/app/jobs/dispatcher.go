package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/observability"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// DispatcherConfig controls the worker pool and its maintenance loops.
type DispatcherConfig struct {
	Concurrency     int           // max jobs in flight (default: 4)
	StaleJobTimeout time.Duration // running longer than this is presumed crashed (default: 10m)
	SweepInterval   time.Duration // how often to reclaim stale jobs (default: 1m)
	CleanupInterval time.Duration // how often to expire artifacts (default: 1h)
	RetentionHours  int           // artifact retention window (default: 24)
}

// DefaultDispatcherConfig returns safe worker defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Concurrency:     4,
		StaleJobTimeout: 10 * time.Minute,
		SweepInterval:   time.Minute,
		CleanupInterval: time.Hour,
		RetentionHours:  24,
	}
}

// Dispatcher pulls job ids off the queue and drives them through conversion,
// artifact storage, and credit settlement. Concurrency is bounded by a
// semaphore channel; queue redeliveries are absorbed by the store's
// queued -> running acquire guard.
type Dispatcher struct {
	cfg       DispatcherConfig
	db        *sqlite.DB
	queue     domain.WorkQueue
	ledger    *ledger.Service
	provider  domain.ConversionProvider
	artifacts domain.ArtifactStore
	tracer    *observability.Tracer
	sem       chan struct{}
}

// NewDispatcher creates a dispatcher. A nil tracer disables span recording.
func NewDispatcher(cfg DispatcherConfig, db *sqlite.DB, queue domain.WorkQueue,
	ledger *ledger.Service, provider domain.ConversionProvider,
	artifacts domain.ArtifactStore, tracer *observability.Tracer) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultDispatcherConfig().Concurrency
	}
	if tracer == nil {
		tracer = observability.NewTracer(observability.TracerConfig{Enabled: false})
	}
	return &Dispatcher{
		cfg:       cfg,
		db:        db,
		queue:     queue,
		ledger:    ledger,
		provider:  provider,
		artifacts: artifacts,
		tracer:    tracer,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Run consumes the queue until ctx is canceled. It blocks; callers run it in
// a goroutine. The stale sweep and artifact cleanup loops run alongside.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("[dispatcher] starting, concurrency=%d provider=%s",
		d.cfg.Concurrency, d.provider.Name())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.sweepLoop(ctx) }()
	go func() { defer wg.Done(); d.cleanupLoop(ctx) }()

	for {
		jobID, err := d.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("[dispatcher] receive: %v", err)
			continue
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.handle(ctx, id)
		}(jobID)
	}
	wg.Wait()
	log.Printf("[dispatcher] stopped")
}

// handle processes one queue delivery and acks it. Every outcome acks: a
// failed job is recorded as failed, not retried forever.
func (d *Dispatcher) handle(ctx context.Context, jobID string) {
	d.Process(ctx, jobID)
	if err := d.queue.Ack(ctx, jobID); err != nil {
		log.Printf("[dispatcher] ack %s: %v", jobID, err)
	}
	if depth, err := d.db.QueueDepth(ctx); err == nil {
		observability.QueueDepth.Set(float64(depth))
	}
}

// Process runs a single job through the full lifecycle. A delivery that
// loses the queued -> running acquire exits silently: someone else already
// owns the job, or it already finished.
func (d *Dispatcher) Process(ctx context.Context, jobID string) {
	input, err := d.db.GetJobExecutionInput(ctx, jobID)
	if err != nil {
		if err != domain.ErrJobNotFound {
			log.Printf("[dispatcher] load job %s: %v", jobID, err)
		}
		return
	}

	won, err := d.db.AcquireJob(ctx, jobID)
	if err != nil {
		log.Printf("[dispatcher] acquire job %s: %v", jobID, err)
		return
	}
	if !won {
		return
	}

	start := time.Now()
	span := d.tracer.StartSpan(ctx, "job.process", map[string]string{"job_id": jobID})
	log.Printf("[dispatcher] processing job %s (%d chars)", jobID, input.EstimatedChars)

	converted, err := d.provider.Convert(ctx, domain.ConvertRequest{
		Text:          input.Text,
		VoiceID:       input.VoiceID,
		ModelID:       input.ModelID,
		OutputFormat:  input.OutputFormat,
		VoiceSettings: input.VoiceSettings,
	})
	if err != nil {
		d.fail(ctx, input, err)
		d.tracer.EndSpan(span, err)
		return
	}

	artifact, err := d.artifacts.UploadAudio(ctx, jobID, converted.OutputFormat, converted.MimeType, converted.Audio)
	if err != nil {
		d.fail(ctx, input, err)
		d.tracer.EndSpan(span, err)
		return
	}

	actualChars := input.EstimatedChars
	if converted.ProviderChars != nil {
		actualChars = *converted.ProviderChars
	}
	refundedChars := input.ReservedChars - actualChars
	if refundedChars < 0 {
		refundedChars = 0
	}

	// The write-once completion guard fences the ledger: only the caller that
	// wins the transition settles the reservation. A slow worker racing a
	// reclaimed execution loses here and never touches the balance.
	applied, err := d.db.CompleteJob(ctx, jobID, domain.JobResult{
		DownloadURL: artifact.DownloadURL,
		MimeType:    converted.MimeType,
		SizeBytes:   artifact.SizeBytes,
		SHA256:      artifact.SHA256,
	}, actualChars, refundedChars)
	if err != nil {
		log.Printf("[dispatcher] complete job %s: %v", jobID, err)
		d.tracer.EndSpan(span, err)
		return
	}
	if !applied {
		// Completion already written by another worker; its settlement stands.
		d.tracer.EndSpan(span, nil)
		return
	}

	if _, err := d.ledger.ReconcileReserved(ctx, input.AgentID, input.ReservedChars, actualChars); err != nil {
		log.Printf("[dispatcher] reconcile job %s: %v", jobID, err)
	}

	observability.JobsCompleted.WithLabelValues(string(domain.JobDone)).Inc()
	observability.JobDuration.Observe(time.Since(start).Seconds())
	d.tracer.EndSpan(span, nil)
	log.Printf("[dispatcher] job %s done, actual=%d refunded=%d",
		jobID, actualChars, refundedChars)
}

// fail records the failure and refunds the full reservation. The guarded
// transition runs first so only the caller that won it refunds; a refund
// error is logged, never allowed to mask the job failure itself.
func (d *Dispatcher) fail(ctx context.Context, input *domain.JobExecutionInput, cause error) {
	applied, err := d.db.FailJob(ctx, input.ID, "PROVIDER_ERROR", cause.Error())
	if err != nil {
		log.Printf("[dispatcher] mark job %s failed: %v", input.ID, err)
		return
	}
	if !applied {
		return
	}
	if _, err := d.ledger.Refund(ctx, input.AgentID, input.ReservedChars); err != nil {
		log.Printf("[dispatcher] refund %d chars to %s: %v", input.ReservedChars, input.AgentID, err)
	}
	observability.JobsCompleted.WithLabelValues(string(domain.JobFailed)).Inc()
	log.Printf("[dispatcher] job %s failed: %v", input.ID, cause)
}

// sweepLoop periodically reclaims jobs stuck in running after a worker
// crash, returning them to the queue.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	if d.cfg.SweepInterval <= 0 || d.cfg.StaleJobTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := d.db.RequeueStale(ctx, d.cfg.StaleJobTimeout)
		if err != nil {
			log.Printf("[dispatcher] stale sweep: %v", err)
			continue
		}
		for _, id := range ids {
			if err := d.queue.Enqueue(ctx, id); err != nil {
				log.Printf("[dispatcher] re-enqueue stale job %s: %v", id, err)
				continue
			}
			observability.JobsRequeued.Inc()
			log.Printf("[dispatcher] requeued stale job %s", id)
		}
	}
}

// cleanupLoop expires audio artifacts past the retention window.
func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	if d.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		deleted, err := d.artifacts.CleanupExpired(ctx, d.cfg.RetentionHours)
		if err != nil {
			log.Printf("[dispatcher] artifact cleanup: %v", err)
			continue
		}
		if deleted > 0 {
			observability.ArtifactsDeleted.Add(float64(deleted))
			log.Printf("[dispatcher] cleaned %d expired artifacts", deleted)
		}
	}
}
