// Package sweeper runs the periodic cleanup sweeps for expired authorization
// states, sessions and revocation entries.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Target is one recurring sweep. Run reports how many entries it removed.
type Target struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Runner drives each target on its own ticker until the context is done.
// Sweeps only take per-entry locks, so running them alongside live traffic is
// safe.
type Runner struct {
	targets []Target
	logger  *zap.Logger
}

// NewRunner wires the runner.
func NewRunner(logger *zap.Logger, targets ...Target) *Runner {
	return &Runner{targets: targets, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range r.targets {
		g.Go(func() error {
			interval := target.Interval
			if interval <= 0 {
				interval = time.Minute
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					r.sweep(ctx, target)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) sweep(ctx context.Context, target Target) {
	removed, err := target.Run(ctx)
	if err != nil {
		r.logger.Warn("sweep failed", zap.String("target", target.Name), zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("sweep completed", zap.String("target", target.Name), zap.Int("removed", removed))
	}
}
