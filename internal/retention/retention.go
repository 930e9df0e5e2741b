// Package retention is the timer-driven collaborator that promotes eligible
// soft-deleted messages to hard-deleted. The event store only exposes the
// state transition; scheduling, pacing and the cutoff policy live here, so
// the store itself never owns a timer.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"github.com/open-chat-labs/open-chat-sub009/pkg/config"
	"github.com/open-chat-labs/open-chat-sub009/pkg/events"
	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
	"github.com/open-chat-labs/open-chat-sub009/pkg/metrics"
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
)

type Sweeper struct {
	cfg     config.RetentionConfig
	store   *events.Store
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// Start launches the cron-scheduled sweeper. The returned cancel func stops
// it. Disabled config yields a no-op cancel.
func Start(ctx context.Context, cfg config.RetentionConfig, store *events.Store) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", cfg.Cron)
	}
	if _, err := time.ParseDuration(cfg.Period); err != nil {
		return nil, fmt.Errorf("invalid retention period %q: %w", cfg.Period, err)
	}

	ctx2, cancel := context.WithCancel(ctx)
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 100
	}
	sw := &Sweeper{
		cfg:     cfg,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		ctx:     ctx2,
		cancel:  cancel,
	}
	logger.Info("retention_enabled", "cron", cfg.Cron, "period", cfg.Period, "dry_run", cfg.DryRun)
	go sw.scheduleLoop()
	return cancel, nil
}

func (sw *Sweeper) scheduleLoop() {
	for {
		next, err := gronx.NextTickAfter(sw.cfg.Cron, time.Now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", sw.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-sw.ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			sw.runJob()
		case <-sw.ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) runJob() {
	sw.mu.Lock()
	if sw.running || sw.cfg.Paused {
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.mu.Unlock()
	defer func() {
		sw.mu.Lock()
		sw.running = false
		sw.mu.Unlock()
	}()

	if err := sw.RunOnce(); err != nil {
		logger.Error("retention_run_failed", "error", err)
	}
}

// RunOnce performs one sweep: every message soft-deleted longer ago than the
// configured period is hard-deleted, paced by the rate limiter and bounded by
// the batch size.
func (sw *Sweeper) RunOnce() error {
	period, err := time.ParseDuration(sw.cfg.Period)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-period).UnixNano()
	batch := sw.cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	purged := 0
	err = sw.store.IterSoftDeletedOlderThan(cutoff, func(scope events.Scope, midx models.MessageIndex, deletedTS int64) bool {
		if sw.cfg.DryRun {
			logger.Info("retention_would_purge", "scope", scope.String(), "message_index", midx, "deleted_ts", deletedTS)
			purged++
			return purged < batch
		}
		if err := sw.limiter.Wait(sw.ctx); err != nil {
			return false // canceled
		}
		if err := sw.store.HardDelete(scope, midx, time.Now().UnixNano()); err != nil {
			logger.Error("retention_purge_failed", "scope", scope.String(), "message_index", midx, "error", err)
			return true
		}
		metrics.RetentionPurged.Inc()
		purged++
		return purged < batch
	})
	if err != nil {
		return err
	}
	logger.Info("retention_sweep_done", "purged", purged, "dry_run", sw.cfg.DryRun)
	return nil
}
