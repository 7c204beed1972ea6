// Package filler implements the Filler Loop (C5): the database-to-broker
// bridge that claims queued jobs, reaps expired ones, and publishes the
// rest under a strict broker-depth ceiling.
package filler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openlora/gpu-fleet/internal/adapter/observability"
	"github.com/openlora/gpu-fleet/internal/domain"
)

// Config configures a Loop.
type Config struct {
	NodeID              string
	Queue               string
	QueueSizeCeiling    int
	JobDiscardThreshold time.Duration
	PollPeriod          time.Duration
	InterPublishPause   time.Duration
}

// Loop is the filler's claim -> validate -> publish pipeline.
type Loop struct {
	cfg    Config
	jobs   domain.JobRepository
	broker domain.BrokerQueue
}

// New constructs a Loop.
func New(cfg Config, jobs domain.JobRepository, broker domain.BrokerQueue) *Loop {
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = 10 * time.Second
	}
	if cfg.InterPublishPause <= 0 {
		cfg.InterPublishPause = 2 * time.Second
	}
	return &Loop{cfg: cfg, jobs: jobs, broker: broker}
}

// Run polls every cfg.PollPeriod until ctx is cancelled, draining the
// queued backlog under the depth ceiling on each tick.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollPeriod)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("filler loop stopping", slog.String("node_id", l.cfg.NodeID))
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick drains the queue while broker depth stays below the ceiling,
// stopping early once claim_next_queued reports no job available.
func (l *Loop) tick(ctx context.Context) {
	tracer := otel.Tracer("filler.loop")
	ctx, span := tracer.Start(ctx, "filler.tick")
	defer span.End()

	for {
		depth, err := l.broker.Depth(ctx, l.cfg.Queue)
		if err != nil {
			slog.Error("filler failed to read broker depth", slog.Any("error", err))
			return
		}
		observability.RecordBrokerDepth(l.cfg.Queue, depth)
		if depth >= l.cfg.QueueSizeCeiling {
			return
		}

		job, err := l.jobs.ClaimNextQueued(ctx, l.cfg.NodeID)
		if err != nil {
			slog.Error("filler failed to claim job", slog.Any("error", err))
			return
		}
		if job == nil {
			return
		}
		observability.RecordClaim(l.cfg.NodeID)

		l.processClaim(ctx, job)

		time.Sleep(l.cfg.InterPublishPause)
	}
}

// processClaim applies TTL validation to a freshly claimed job, then
// either reaps it or publishes it. Publish failures are not reverted:
// the row remains assigned without a broker message (see the design
// notes on open question 2 for why MarkTerminal is attempted instead).
func (l *Loop) processClaim(ctx context.Context, job *domain.Job) {
	tracer := otel.Tracer("filler.loop")
	ctx, span := tracer.Start(ctx, "filler.processClaim")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	age := time.Now().UTC().Sub(job.CreatedAt)
	if age > l.cfg.JobDiscardThreshold {
		span.SetAttributes(attribute.Bool("job.expired", true))
		observability.RecordExpired(l.cfg.NodeID)
		meta := domain.MergeMetadata(job.ExecutionMetadata, map[string]any{"error": "expired"})
		if err := l.jobs.MarkTerminal(ctx, job.ID, domain.JobStopped, meta); err != nil {
			slog.Error("filler failed to mark expired job stopped", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		return
	}

	body, err := domain.EncodeJob(*job)
	if err != nil {
		slog.Error("filler failed to encode job", slog.String("job_id", job.ID), slog.Any("error", err))
		observability.RecordPublishFailed(l.cfg.NodeID)
		meta := domain.MergeMetadata(job.ExecutionMetadata, map[string]any{"error": "encode failed: " + err.Error()})
		if mErr := l.jobs.MarkTerminal(ctx, job.ID, domain.JobFailed, meta); mErr != nil {
			slog.Error("filler failed to mark encode failure", slog.String("job_id", job.ID), slog.Any("error", mErr))
		}
		return
	}

	if err := l.broker.Publish(ctx, l.cfg.Queue, body, job.ID); err != nil {
		slog.Error("filler failed to publish job", slog.String("job_id", job.ID), slog.Any("error", err))
		observability.RecordPublishFailed(l.cfg.NodeID)
		meta := domain.MergeMetadata(job.ExecutionMetadata, map[string]any{"error": "publish failed: " + err.Error()})
		if mErr := l.jobs.MarkTerminal(ctx, job.ID, domain.JobFailed, meta); mErr != nil {
			slog.Error("filler failed to compensate publish failure", slog.String("job_id", job.ID), slog.Any("error", mErr))
		}
		return
	}
	observability.RecordPublished(l.cfg.NodeID)
}
