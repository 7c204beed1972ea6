package observability

import (
	"log/slog"
	"os"

	"github.com/openlora/gpu-fleet/internal/config"
)

// SetupLogger configures a JSON slog logger honoring cfg.LoggingLevel,
// tagged with the process's service name and role.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LoggingLevel)
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
		slog.String("mode", string(cfg.Mode)),
		slog.String("node_id", cfg.NodeID),
	)
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
