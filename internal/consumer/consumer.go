// Package consumer implements the Consumer Loop (C6): decode, dispatch,
// moderate, generate, persist, and finalize one message at a time.
package consumer

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlora/gpu-fleet/internal/adapter/observability"
	"github.com/openlora/gpu-fleet/internal/domain"
)

// ImagesBucket is the blob bucket every generated image is uploaded to.
const ImagesBucket = "images"

var validate = validator.New()

// Config configures a Loop.
type Config struct {
	NodeID   string
	NodeGPU  string
	Queue    string
	DedupTTL time.Duration
}

// Loop wires the external collaborators (Generator, BlobStore,
// Moderator, DedupCache) around the DB and broker gateways.
type Loop struct {
	cfg       Config
	jobs      domain.JobRepository
	generator domain.Generator
	blobs     domain.BlobStore
	moderator domain.Moderator
	dedup     domain.DedupCache
}

// New constructs a Loop. dedup may be nil, in which case the
// processing-mark step is skipped (degraded mode; see the design notes
// on open question 5).
func New(cfg Config, jobs domain.JobRepository, generator domain.Generator, blobs domain.BlobStore, moderator domain.Moderator, dedup domain.DedupCache) *Loop {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Loop{cfg: cfg, jobs: jobs, generator: generator, blobs: blobs, moderator: moderator, dedup: dedup}
}

// Handle is the domain.Delivery handler passed to BrokerQueue.Subscribe.
// It owns the full ack/nack discipline: success acks, any Stage 1-3
// failure marks the job failed and nacks without requeue.
func (l *Loop) Handle(ctx domain.Context, d domain.Delivery) error {
	tracer := otel.Tracer("consumer.loop")
	ctx, span := tracer.Start(ctx, "consumer.Handle")
	defer span.End()

	start := time.Now()

	job, err := domain.DecodeJob(d.Body())
	if err != nil {
		slog.Error("consumer failed to decode message", slog.Any("error", err))
		l.nack(d)
		return err
	}
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.type", string(job.JobType)))
	observability.RecordConsumed(l.cfg.NodeID, string(job.JobType))

	if l.dedup != nil {
		firstSeen, dErr := l.dedup.MarkProcessing(ctx, job.ID, l.cfg.DedupTTL)
		if dErr != nil {
			slog.Warn("dedup cache unavailable, proceeding without redelivery guard", slog.String("job_id", job.ID), slog.Any("error", dErr))
		} else if !firstSeen {
			slog.Info("duplicate delivery suppressed", slog.String("job_id", job.ID))
			l.nack(d)
			return nil
		}
	}

	images, err := l.run(ctx, job)
	if err != nil {
		l.fail(ctx, job, start, err)
		l.nack(d)
		return err
	}

	if err := l.jobs.InsertImages(ctx, job.ID, images); err != nil {
		l.fail(ctx, job, start, fmt.Errorf("persist images: %w", err))
		l.nack(d)
		return err
	}

	totalRuntime := int64(0)
	for _, img := range images {
		totalRuntime += img.RuntimeMS
	}
	metadata := domain.MergeMetadata(job.ExecutionMetadata, map[string]any{
		"gpu":     l.cfg.NodeGPU,
		"node_id": l.cfg.NodeID,
		"runtime": totalRuntime,
	})
	if err := l.jobs.MarkTerminal(ctx, job.ID, domain.JobSucceeded, metadata); err != nil {
		slog.Error("consumer failed to mark job succeeded", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	if err := d.Ack(); err != nil {
		slog.Error("consumer failed to ack delivery", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	observability.RecordAcked(l.cfg.NodeID)
	return nil
}

// run executes stages 1-2: dispatch, moderation, generation, upload.
// It returns the ImageRecord set ready for InsertImages.
func (l *Loop) run(ctx domain.Context, job domain.Job) ([]domain.ImageRecord, error) {
	switch job.JobType {
	case domain.JobTypeTextToImage, domain.JobTypeTextToPortrait:
	default:
		return nil, fmt.Errorf("invalid job type %q: %w", job.JobType, domain.ErrInvalidArgument)
	}

	if err := validate.Struct(job.Request); err != nil {
		return nil, fmt.Errorf("invalid generation request: %w: %w", err, domain.ErrInvalidArgument)
	}

	nsfwAllowed := false
	if job.JobType == domain.JobTypeTextToImage {
		allowed, err := l.jobs.IsTeamNSFWAllowed(ctx, job.Team)
		if err != nil {
			return nil, fmt.Errorf("team nsfw lookup: %w", err)
		}
		nsfwAllowed = allowed
	}

	result, err := l.moderator.Classify(ctx, job.Request.Prompt)
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}
	if result.IsGeneralBlocked() || (result.IsNSFWBlocked() && !nsfwAllowed) {
		observability.RecordModerationBlocked(l.cfg.NodeID, string(job.JobType))
		return nil, fmt.Errorf("prompt blocked by moderation: %w", domain.ErrModerationBlocked)
	}

	generated, err := l.generate(ctx, job)
	if err != nil {
		return nil, err
	}
	if len(generated) != job.Request.NumOptions {
		return nil, fmt.Errorf("generator returned %d images, want %d: %w", len(generated), job.Request.NumOptions, domain.ErrInternal)
	}

	images := make([]domain.ImageRecord, 0, len(generated))
	for _, g := range generated {
		filename, err := l.blobs.Upload(ctx, ImagesBucket, g.Bytes)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		images = append(images, domain.ImageRecord{Filename: filename, Seed: g.Seed, RuntimeMS: g.RuntimeMS})
	}
	return images, nil
}

// generate invokes the Generator once per requested option, using the
// request's fixed seed when present or a freshly generated one per
// iteration otherwise.
func (l *Loop) generate(ctx domain.Context, job domain.Job) ([]domain.GeneratedImage, error) {
	tracer := otel.Tracer("consumer.loop")
	results := make([]domain.GeneratedImage, 0, job.Request.NumOptions)
	for i := 0; i < job.Request.NumOptions; i++ {
		correlationID := ulid.Make().String()
		genCtx, span := tracer.Start(ctx, "consumer.generate",
			otelTraceAttr("generation.correlation_id", correlationID),
		)
		seed := nextSeed(job.Request.Seed)
		start := time.Now()
		img, err := l.generator.Generate(genCtx, job.Request, seed)
		span.End()
		if err != nil {
			return nil, fmt.Errorf("generate option %d (correlation_id=%s): %w", i, correlationID, err)
		}
		observability.RecordGeneratorRuntime(l.cfg.NodeID, string(job.JobType), time.Since(start).Seconds())
		results = append(results, img)
	}
	return results, nil
}

func otelTraceAttr(key, value string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String(key, value))
}

func nextSeed(fixed *int64) int64 {
	if fixed != nil {
		return *fixed
	}
	return rand.Int63()
}

func (l *Loop) fail(ctx domain.Context, job domain.Job, start time.Time, cause error) {
	slog.Error("consumer pipeline failed", slog.String("job_id", job.ID), slog.Any("error", cause))
	metadata := domain.MergeMetadata(job.ExecutionMetadata, map[string]any{
		"gpu":     l.cfg.NodeGPU,
		"node_id": l.cfg.NodeID,
		"runtime": time.Since(start).Milliseconds(),
		"error":   cause.Error(),
	})
	if err := l.jobs.MarkTerminal(ctx, job.ID, domain.JobFailed, metadata); err != nil {
		slog.Error("consumer failed to mark job failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (l *Loop) nack(d domain.Delivery) {
	if err := d.Nack(false); err != nil {
		slog.Error("consumer failed to nack delivery", slog.Any("error", err))
	}
	observability.RecordNacked(l.cfg.NodeID)
}
