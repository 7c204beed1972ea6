// Package retry implements the Retry/Reconnect Harness (C9): bounded
// exponential backoff around broker (re)connection attempts, shared by
// the filler and consumer loops so a dropped RabbitMQ connection does
// not spin the process in a tight loop.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config parameterizes the exponential backoff used for broker
// reconnect attempts.
type Config struct {
	InitialInterval     time.Duration `env:"RECONNECT_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval         time.Duration `env:"RECONNECT_MAX_INTERVAL" envDefault:"30s"`
	Multiplier          float64       `env:"RECONNECT_MULTIPLIER" envDefault:"2.0"`
	RandomizationFactor float64       `env:"RECONNECT_JITTER" envDefault:"0.2"`
	// MaxElapsedTime is zero by default: reconnect attempts continue
	// indefinitely until ctx is cancelled, since a broker outage has no
	// natural deadline the process should give up at.
	MaxElapsedTime time.Duration `env:"RECONNECT_MAX_ELAPSED_TIME" envDefault:"0s"`
}

// NewExponentialBackOff builds a cenkalti/backoff ExponentialBackOff
// from Config.
func (c Config) NewExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	b.MaxElapsedTime = c.MaxElapsedTime
	return b
}

// Reconnect retries op with exponential backoff until it succeeds or
// ctx is cancelled, logging each failed attempt. It is used to
// (re)establish the broker connection/channel without hand-rolled
// backoff math.
func Reconnect(ctx context.Context, cfg Config, component string, op func() error) error {
	b := backoff.WithContext(cfg.NewExponentialBackOff(), ctx)
	notify := func(err error, next time.Duration) {
		slog.Warn("reconnect attempt failed",
			slog.String("component", component),
			slog.Duration("next_attempt_in", next),
			slog.Any("error", err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("op=retry.reconnect.%s: %w", component, err)
	}
	return nil
}
