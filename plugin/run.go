package plugin

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run drives the background tasks until ctx is cancelled: new achievement
// detection, installation discovery and presence polling. Each task waits its
// interval after a run completes, so runs of one task never overlap.
func (p *Plugin) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.every(ctx, "achievements", p.intervals.Achievements, p.checkNewAchievements)
	})
	g.Go(func() error {
		return p.every(ctx, "discovery", p.intervals.Discovery, func(ctx context.Context) {
			if _, err := p.refreshInstances(ctx); err != nil {
				p.logger.Warn("installation discovery failed", "error", err)
			}
		})
	})
	g.Go(func() error {
		return p.every(ctx, "presence", p.intervals.Presence, func(ctx context.Context) {
			p.PollPresence(ctx)
		})
	})

	err := g.Wait()
	p.logger.Info("background tasks stopped")
	return err
}

func (p *Plugin) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := time.Now()
		fn(ctx)
		p.logger.Debug("task run", "task", name, "took", time.Since(start))
		timer.Reset(interval)
	}
}
