package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Runner runs Begin, Scan and SendChanged once per interval.
type Runner struct {
	target   Target
	sources  []Source
	interval time.Duration
	logger   *slog.Logger

	health []*sourceHealth
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(target Target, interval time.Duration, logger *slog.Logger, sources ...Source) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		target:   target,
		sources:  sources,
		interval: interval,
		logger:   logger.With(slog.String("component", "scan")),
	}
	for _, src := range sources {
		r.health = append(r.health, &sourceHealth{name: src.Name()})
	}
	return r
}

// Register adds every source's data items to the target.
func (r *Runner) Register() error {
	for _, src := range r.sources {
		if err := src.Register(r.target); err != nil {
			return fmt.Errorf("register %s: %w", src.Name(), err)
		}
	}
	return nil
}

// Run scans until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	names := make([]string, len(r.sources))
	for i, src := range r.sources {
		names[i] = src.Name()
	}
	r.logger.Info("scan loop started", slog.Any("sources", names), slog.Duration("interval", r.interval))

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scan loop stopped")
			return
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs one scan cycle and returns the number of lines sent. A failing
// source marks every item unavailable for the cycle.
func (r *Runner) Cycle(ctx context.Context) int {
	r.target.Begin()

	failed := false
	for i, src := range r.sources {
		err := r.scan(ctx, src)
		now := time.Now()
		if err != nil {
			failed = true
			switch n := r.health[i].recordFailure(err, now); n {
			case 1:
				r.logger.Warn("scan failed", slog.String("source", src.Name()), slog.Any("error", err))
			case FailedThreshold:
				r.logger.Error("source failed", slog.String("source", src.Name()), slog.Int("consecutive", n), slog.Any("error", err))
			default:
				r.logger.Debug("scan failed", slog.String("source", src.Name()), slog.Int("consecutive", n), slog.Any("error", err))
			}
			continue
		}
		if n := r.health[i].recordSuccess(now); n > 0 {
			r.logger.Info("scan recovered", slog.String("source", src.Name()), slog.Int("failed_cycles", n))
		}
	}
	if failed {
		r.target.MarkAllUnavailable()
	}

	return r.target.SendChanged()
}

// Health returns a snapshot of every source's scan health in source order.
func (r *Runner) Health() []Health {
	out := make([]Health, len(r.health))
	for i, h := range r.health {
		out[i] = h.snapshot()
	}
	return out
}

// scan calls src.Scan, turning a panic into an error.
func (r *Runner) scan(ctx context.Context, src Source) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s scan: %v", src.Name(), p)
		}
	}()
	return src.Scan(ctx)
}
