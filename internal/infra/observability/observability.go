// Package observability exposes Prometheus metrics for the credit ledger,
// order reconciliation, and the TTS job pipeline. Everything registers via
// promauto so the /metrics endpoint picks it up with zero wiring.
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Trace Spans ────────────────────────────────────────────────────────────

// Span records one unit of work (an HTTP request, a job execution).
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Tracer keeps recent spans in an in-memory ring for inspection. It is a
// deliberately small stand-in for a full tracing SDK.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span; the caller must pass it to EndSpan when done.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}

	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

type contextKey string

const (
	traceIDKey contextKey = "speakd-trace-id"
	spanIDKey  contextKey = "speakd-span-id"
)

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context carrying the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a short unique ID (not cryptographically secure).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ─── Credit Metrics ─────────────────────────────────────────────────────────

// CreditsReserved tracks characters reserved at job submission.
var CreditsReserved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "credits",
	Name:      "reserved_chars_total",
	Help:      "Total characters reserved from agent balances.",
})

// CreditsRefunded tracks characters returned to balances.
var CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "credits",
	Name:      "refunded_chars_total",
	Help:      "Total characters refunded after reconciliation or job failure.",
})

// CreditsGranted tracks characters credited from paid orders.
var CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "credits",
	Name:      "granted_chars_total",
	Help:      "Total characters credited from paid credit orders.",
})

// ReservationsRejected counts reservations refused for insufficient balance.
var ReservationsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "credits",
	Name:      "reservations_rejected_total",
	Help:      "Total reservations rejected because the balance was too low.",
})

// ─── Order Metrics ──────────────────────────────────────────────────────────

// OrdersCreated counts credit orders opened at checkout.
var OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "orders",
	Name:      "created_total",
	Help:      "Total credit orders created.",
})

// OrdersCredited counts orders whose grant was applied.
var OrdersCredited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "orders",
	Name:      "credited_total",
	Help:      "Total credit orders credited to a balance.",
})

// WebhookEvents counts gateway webhook deliveries by outcome.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "orders",
	Name:      "webhook_events_total",
	Help:      "Total payment webhook deliveries by outcome.",
}, []string{"outcome"})

// ─── Job Metrics ────────────────────────────────────────────────────────────

// JobsSubmitted counts accepted TTS jobs.
var JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "jobs",
	Name:      "submitted_total",
	Help:      "Total TTS jobs accepted for processing.",
})

// JobsCompleted counts jobs by final status.
var JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "jobs",
	Name:      "completed_total",
	Help:      "Total TTS jobs finished, by final status.",
}, []string{"status"})

// JobsRequeued counts stale running jobs returned to the queue.
var JobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "jobs",
	Name:      "requeued_total",
	Help:      "Total stale running jobs requeued by the sweeper.",
})

// JobDuration tracks end-to-end processing time per job.
var JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "speakd",
	Subsystem: "jobs",
	Name:      "duration_seconds",
	Help:      "TTS job processing duration in seconds.",
	Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
})

// QueueDepth tracks the current number of queued deliveries.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "speakd",
	Subsystem: "jobs",
	Name:      "queue_depth",
	Help:      "Current number of pending queue deliveries.",
})

// ─── Artifact Metrics ───────────────────────────────────────────────────────

// ArtifactsDeleted counts artifacts removed by retention cleanup.
var ArtifactsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "speakd",
	Subsystem: "artifacts",
	Name:      "deleted_total",
	Help:      "Total audio artifacts removed past the retention window.",
})
