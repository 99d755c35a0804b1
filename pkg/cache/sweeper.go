package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Sweeper periodically purges expired entries from backends that keep them
// on disk after their TTL.
type Sweeper struct {
	purger  Purger
	cron    *cron.Cron
	running atomic.Bool
}

// NewSweeper creates a Sweeper for p. Specs use the five-field cron syntax.
func NewSweeper(p Purger) *Sweeper {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Sweeper{
		purger: p,
		cron:   cron.New(cron.WithParser(parser)),
	}
}

// Start schedules the sweep and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("job", "cache_sweep"), zap.String("spec", spec))
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	s.cron.Start()
	logger.Info("job scheduled")
	return nil
}

// Sweep runs one purge unless a previous one is still in progress.
func (s *Sweeper) Sweep(ctx context.Context) {
	logger := logutil.GetLogger(ctx).With(zap.String("job", "cache_sweep"))
	if !s.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	n, err := s.purger.Purge(ctx)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Info("job finished", zap.Int64("purged", n), zap.Duration("duration", time.Since(start)))
}

// Stop stops the scheduler and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
