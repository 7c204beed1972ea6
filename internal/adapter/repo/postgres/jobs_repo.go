// Package postgres provides PostgreSQL database adapters.
//
// It implements the DB Gateway (C2): typed operations against
// job_queue, images, plugins and teams, with connection pooling and
// transaction support via pgx.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openlora/gpu-fleet/internal/domain"
)

// JobRepo implements domain.JobRepository against job_queue, images,
// plugins and teams using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// ClaimNextQueued atomically claims the oldest queued job for nodeID.
// It selects with FOR UPDATE SKIP LOCKED so concurrent fillers never
// claim the same row, and merges {node, assigned_at} into
// execution_metadata without clobbering existing keys.
func (r *JobRepo) ClaimNextQueued(ctx domain.Context, nodeID string) (*domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNextQueued")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "job_queue"),
	)

	q := `
UPDATE job_queue
SET job_status = $2,
    execution_metadata = COALESCE(execution_metadata, '{}'::jsonb)
        || jsonb_build_object('node', $1::text, 'assigned_at', now())
WHERE id = (
    SELECT id FROM job_queue
    WHERE job_status = $3
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, job_type, request_data, team, created_at, execution_metadata`

	row := r.Pool.QueryRow(ctx, q, nodeID, domain.JobAssigned, domain.JobQueued)

	var (
		id, jobType, team string
		requestData       []byte
		createdAt         time.Time
		executionMetadata []byte
	)
	if err := row.Scan(&id, &jobType, &requestData, &team, &createdAt, &executionMetadata); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=job.claim_next_queued: %w", err)
	}

	var req domain.GenerationRequest
	if err := json.Unmarshal(requestData, &req); err != nil {
		return nil, fmt.Errorf("op=job.claim_next_queued.decode_request: %w: %w", domain.ErrSchemaInvalid, err)
	}
	req.ApplyDefaults()

	meta, err := decodeMetadata(executionMetadata)
	if err != nil {
		return nil, fmt.Errorf("op=job.claim_next_queued.decode_metadata: %w", err)
	}

	return &domain.Job{
		ID:                id,
		JobType:           domain.JobType(jobType),
		Request:           req,
		Status:            domain.JobAssigned,
		Team:              team,
		CreatedAt:         createdAt,
		ExecutionMetadata: meta,
	}, nil
}

// MarkTerminal sets job_status and replaces execution_metadata
// wholesale; the caller owns merging any prior keys it wants kept.
func (r *JobRepo) MarkTerminal(ctx domain.Context, id string, status domain.JobStatus, metadata map[string]any) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkTerminal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "job_queue"),
		attribute.String("job.status", string(status)),
	)

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("op=job.mark_terminal.encode_metadata: %w", err)
	}

	q := `UPDATE job_queue
SET job_status = $2,
    execution_metadata = $3::jsonb
WHERE id = $1`

	tag, err := r.Pool.Exec(ctx, q, id, status, metaBytes)
	if err != nil {
		return fmt.Errorf("op=job.mark_terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("mark_terminal affected 0 rows", slog.String("job_id", id), slog.String("status", string(status)))
		return fmt.Errorf("op=job.mark_terminal: job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// InsertImages inserts one images row per record inside a single
// transaction: either all records land or the job is left with none,
// matching the all-or-nothing persistence invariant.
func (r *JobRepo) InsertImages(ctx domain.Context, jobID string, images []domain.ImageRecord) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.InsertImages")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "images"),
		attribute.Int("images.count", len(images)),
	)

	if len(images) == 0 {
		return nil
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=job.insert_images.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				slog.Error("failed to rollback insert_images transaction", slog.String("job_id", jobID), slog.Any("error", rbErr))
			}
		}
	}()

	const q = `INSERT INTO images (job_id, data, is_public) VALUES ($1, $2, $3)`
	for _, img := range images {
		data, mErr := json.Marshal(map[string]any{
			"filename": img.Filename,
			"seed":     img.Seed,
			"runtime":  img.RuntimeMS,
		})
		if mErr != nil {
			return fmt.Errorf("op=job.insert_images.encode: %w", mErr)
		}
		if _, err := tx.Exec(ctx, q, jobID, data, false); err != nil {
			return fmt.Errorf("op=job.insert_images: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.insert_images.commit: %w", err)
	}
	committed = true
	return nil
}

// IsTeamNSFWAllowed reports the team's NSFW permission flag. An
// unknown team defaults to false (conservative) rather than erroring,
// since a misconfigured/missing team row should not crash the pipeline.
func (r *JobRepo) IsTeamNSFWAllowed(ctx domain.Context, team string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.IsTeamNSFWAllowed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "teams"),
	)

	q := `SELECT nsfw_allowed FROM teams WHERE id = $1`
	row := r.Pool.QueryRow(ctx, q, team)
	var allowed bool
	if err := row.Scan(&allowed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("team not found for NSFW lookup, defaulting to disallowed", slog.String("team", team))
			return false, nil
		}
		return false, fmt.Errorf("op=job.is_team_nsfw_allowed: %w", err)
	}
	return allowed, nil
}

// ListPluginIDs returns every known plugin id, used to warm the local
// LoRA weight cache at consumer start.
func (r *JobRepo) ListPluginIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListPluginIDs")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "plugins"),
	)

	rows, err := r.Pool.Query(ctx, `SELECT id FROM plugins`)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_plugin_ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=job.list_plugin_ids.scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_plugin_ids.rows: %w", err)
	}
	return ids, nil
}

// decodeMetadata treats a NULL or empty execution_metadata column as
// an empty document rather than an error.
func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}
