// Package plugincache warms the local LoRA weight cache (SPEC_FULL.md
// S11.4) at consumer startup so the first job referencing a plugin
// does not pay a cold blob download mid-pipeline.
package plugincache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openlora/gpu-fleet/internal/domain"
)

// PluginsBucket is the blob bucket LoRA weights are stored under.
const PluginsBucket = "plugins"

// Warm downloads every known plugin id into dir, skipping ids that are
// already present on disk. A single plugin's download failure is
// logged and skipped; it does not abort warming the rest.
func Warm(ctx domain.Context, jobs domain.JobRepository, blobs domain.BlobStore, dir string) error {
	tracer := otel.Tracer("plugincache.warm")
	ctx, span := tracer.Start(ctx, "plugincache.Warm")
	defer span.End()

	ids, err := jobs.ListPluginIDs(ctx)
	if err != nil {
		return fmt.Errorf("op=plugincache.warm.list: %w", err)
	}
	span.SetAttributes(attribute.Int("plugincache.plugin_count", len(ids)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("op=plugincache.warm.mkdir: %w", err)
	}

	warmed := 0
	for _, id := range ids {
		path := filepath.Join(dir, id)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := blobs.Download(ctx, PluginsBucket, id)
		if err != nil {
			slog.Warn("plugin cache warm skipped a plugin", slog.String("plugin_id", id), slog.Any("error", err))
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Warn("plugin cache failed to write weight file", slog.String("plugin_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	span.SetAttributes(attribute.Int("plugincache.warmed_count", warmed))
	slog.Info("plugin cache warm complete", slog.Int("total", len(ids)), slog.Int("warmed", warmed))
	return nil
}
