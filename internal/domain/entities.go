// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Gateways and loops wrap the underlying
// cause with fmt.Errorf("op=...: %w", err) so callers can both log a
// stable operation tag and errors.Is against the taxonomy.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrModerationBlocked = errors.New("prompt blocked by moderation")
)

// JobType enumerates the kinds of generation work a Job can request.
type JobType string

// Job type values.
const (
	// JobTypeTextToImage generates one or more images from a prompt.
	JobTypeTextToImage JobType = "text-to-image"
	// JobTypeTextToPortrait generates portrait images, always moderated
	// as NSFW-disallowed regardless of the requesting team's flag.
	JobTypeTextToPortrait JobType = "text-to-portrait"
)

// JobStatus captures the lifecycle state of a dispatch job.
// Transitions: queued -> assigned -> {succeeded | failed | stopped}.
// running is a permitted, non-persisted intermediate.
type JobStatus string

// Job status values.
const (
	// JobQueued is the status when a job is awaiting a claim.
	JobQueued JobStatus = "queued"
	// JobAssigned is the status once a filler claims the job for a node.
	JobAssigned JobStatus = "assigned"
	// JobRunning is the ephemeral in-flight status during generation.
	JobRunning JobStatus = "running"
	// JobSucceeded is the status once images are generated and stored.
	JobSucceeded JobStatus = "succeeded"
	// JobFailed is the status on a runtime generation/upload/moderation error.
	JobFailed JobStatus = "failed"
	// JobStopped is the status for non-error, policy-driven terminations
	// such as TTL expiry.
	JobStopped JobStatus = "stopped"
)

// IsTerminal reports whether status is one of the final states.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobStopped
}

// Plugin refers to an externally stored LoRA weight by id, consumed by
// the Generator. Weight and Data are opaque to the core.
type Plugin struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
	Data   any    `json:"data,omitempty"`
}

// GenerationRequest is the producer-supplied payload describing the
// image(s) to generate.
type GenerationRequest struct {
	Prompt         string   `json:"prompt" validate:"required"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	NumOptions     int      `json:"num_options" validate:"required,gt=0"`
	Height         int      `json:"height" validate:"required,gt=0"`
	Width          int      `json:"width" validate:"required,gt=0"`
	Seed           *int64   `json:"seed,omitempty"`
	Plugins        []Plugin `json:"plugins"`
}

// ApplyDefaults fills in the documented defaults for a request decoded
// from producer input that omitted optional fields.
func (r *GenerationRequest) ApplyDefaults() {
	if r.NumOptions == 0 {
		r.NumOptions = 1
	}
	if r.Height == 0 {
		r.Height = 1024
	}
	if r.Width == 0 {
		r.Width = 1024
	}
	if r.Plugins == nil {
		r.Plugins = []Plugin{}
	}
}

// Job is the canonical job_queue row, also the broker wire shape once
// encoded (see codec.go).
type Job struct {
	// ID is the unique identifier for the job.
	ID string
	// JobType selects the generation pipeline to run.
	JobType JobType
	// Request is the decoded generation parameters.
	Request GenerationRequest
	// Status is the current lifecycle status of the job.
	Status JobStatus
	// Team is the owning team, used for NSFW permission lookups.
	Team string
	// CreatedAt is the timestamp when the job was enqueued.
	CreatedAt time.Time
	// ExecutionMetadata is a free-form record of node/gpu/runtime/error
	// fields accumulated as the job moves through the pipeline.
	ExecutionMetadata map[string]any
}

// MergeMetadata copies base into a new map and overlays fields on top,
// for callers that must supply MarkTerminal's full desired
// execution_metadata document rather than rely on a DB-side merge.
func MergeMetadata(base map[string]any, fields map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(fields))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// ImageRecord is one generated image awaiting persistence into the
// images table, keyed to its owning Job by the caller.
type ImageRecord struct {
	Filename  string
	Seed      int64
	RuntimeMS int64
}

// GeneratedImage is the Generator's output for a single execution.
type GeneratedImage struct {
	Bytes     []byte
	Seed      int64
	RuntimeMS int64
}

// ModerationResult mirrors the moderation provider's category flags.
type ModerationResult struct {
	Categories map[string]bool
}

// Moderation category keys the core reasons about. Sub-variants (e.g.
// harassment/threatening) are expected to already be folded into these
// boolean flags by the Moderator adapter.
const (
	CategoryHarassment    = "harassment"
	CategoryHate          = "hate"
	CategorySelfHarm      = "self_harm"
	CategorySexualMinors  = "sexual_minors"
	CategoryViolence      = "violence"
	CategoryViolenceGraph = "violence_graphic"
	CategorySexual        = "sexual"
)

var generalBlockCategories = []string{
	CategoryHarassment, CategoryHate, CategorySelfHarm,
	CategorySexualMinors, CategoryViolence, CategoryViolenceGraph,
}

// IsGeneralBlocked reports whether any always-blocked category is set.
func (m ModerationResult) IsGeneralBlocked() bool {
	for _, c := range generalBlockCategories {
		if m.Categories[c] {
			return true
		}
	}
	return false
}

// IsNSFWBlocked reports whether the sexual category is set; callers
// only consult this when the team/persona does not allow NSFW content.
func (m ModerationResult) IsNSFWBlocked() bool {
	return m.Categories[CategorySexual]
}

// Repositories (ports)

// JobRepository is the DB Gateway (C2): typed operations against
// job_queue, images, plugins, teams.
type JobRepository interface {
	// ClaimNextQueued atomically claims the oldest queued job for
	// nodeID, returning nil, nil when no row qualifies.
	ClaimNextQueued(ctx Context, nodeID string) (*Job, error)
	// MarkTerminal sets job_status and replaces execution_metadata.
	MarkTerminal(ctx Context, id string, status JobStatus, metadata map[string]any) error
	// InsertImages inserts one images row per record, all-or-nothing.
	InsertImages(ctx Context, jobID string, images []ImageRecord) error
	// IsTeamNSFWAllowed reports the team's NSFW permission flag.
	IsTeamNSFWAllowed(ctx Context, team string) (bool, error)
	// ListPluginIDs returns all known plugin ids.
	ListPluginIDs(ctx Context) ([]string, error)
}

// Delivery is a single broker message, ack'd or nack'd explicitly by
// the consumer once processing finishes.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

// BrokerQueue is the Broker Gateway (C3).
type BrokerQueue interface {
	DeclareQueue(ctx Context, name string) error
	Publish(ctx Context, name string, body []byte, messageID string) error
	Subscribe(ctx Context, name string, handler func(Context, Delivery) error) error
	Depth(ctx Context, name string) (int, error)
	Close() error
}

// Generator is the opaque image-generation backend (C7).
type Generator interface {
	Generate(ctx Context, req GenerationRequest, seed int64) (GeneratedImage, error)
}

// BlobStore is the opaque blob storage uploader (C7).
type BlobStore interface {
	Upload(ctx Context, bucket string, data []byte) (filename string, err error)
	Download(ctx Context, bucket string, filename string) ([]byte, error)
}

// Moderator is the opaque prompt-moderation service (C7).
type Moderator interface {
	Classify(ctx Context, prompt string) (ModerationResult, error)
}

// DedupCache guards against double-processing a redelivered message.
// MarkProcessing reports firstSeen=false when the job id was already
// marked by a prior, possibly still in-flight, delivery.
type DedupCache interface {
	MarkProcessing(ctx Context, jobID string, ttl time.Duration) (firstSeen bool, err error)
}

// Context is a type alias to stdlib context.Context for convenience
// across layers.
type Context = context.Context
