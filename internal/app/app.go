// Package app wires one chatshard daemon: keyspace, event store, read
// coordinator, retention sweeper and the health/metrics listener.
package app

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub009/internal/retention"
	"github.com/open-chat-labs/open-chat-sub009/pkg/config"
	"github.com/open-chat-labs/open-chat-sub009/pkg/events"
	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
	"github.com/open-chat-labs/open-chat-sub009/pkg/outbox"
	"github.com/open-chat-labs/open-chat-sub009/pkg/reader"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/telemetry"
)

// App groups daemon state and components.
type App struct {
	cfg   *config.Config
	runID string

	db     *store.DB
	store  *events.Store
	reader *reader.Coordinator
	outbox *outbox.Channel

	retentionCancel context.CancelFunc
	drainCancel     context.CancelFunc
	httpCancel      context.CancelFunc
}

// New sets up resources that don't need a running context: keyspace, store,
// coordinator. Call Run to start the schedulers and listener.
func New(cfg *config.Config, version string) (*App, error) {
	runID := uuid.NewString()
	logger.Info("shard_starting", "run_id", runID, "version", version, "db_path", cfg.Store.Path)

	if cfg.Telemetry.Enabled {
		telemetry.Init(cfg.Telemetry.Dir, cfg.Telemetry.QueueCapacity, cfg.Telemetry.FlushInterval.Std())
	}

	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	logger.Info("system_logical_cores", "logical_cores", numCPU)

	db, err := store.Open(cfg.Store.Path, store.Options{
		DisableWAL: cfg.Store.DisableWAL,
		CacheBytes: int64(cfg.Store.CacheSize),
	})
	if err != nil {
		return nil, fmt.Errorf("open keyspace at %s: %w", cfg.Store.Path, err)
	}

	obx := outbox.NewChannel(cfg.Outbox.Capacity)
	st, err := events.Open(db, events.Options{
		HotTierSize: cfg.Store.HotTierSize,
		Sink:        obx,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}

	return &App{
		cfg:    cfg,
		runID:  runID,
		db:     db,
		store:  st,
		reader: reader.New(st),
		outbox: obx,
	}, nil
}

// Store exposes the shard's event store for embedding callers.
func (a *App) Store() *events.Store { return a.store }

// Reader exposes the shard's read coordinator for embedding callers.
func (a *App) Reader() *reader.Coordinator { return a.reader }

// Run starts the retention sweeper, the outbox drainer and the health
// listener, then blocks until ctx cancellation or a fatal listener error.
func (a *App) Run(ctx context.Context) error {
	cancel, err := retention.Start(ctx, a.cfg.Retention, a.store)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel

	drainCtx, drainCancel := context.WithCancel(ctx)
	a.drainCancel = drainCancel
	go a.drainOutbox(drainCtx)

	errCh := a.startHTTP(ctx)
	logger.Info("shard_ready", "run_id", a.runID, "addr", a.cfg.Addr())

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// drainOutbox forwards committed propagation events to the log. Real
// cross-shard delivery attaches here by consuming outbox.Channel instead.
func (a *App) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.outbox.C:
			logger.Debug("outbox_event", "kind", string(ev.Kind), "index", uint32(ev.Index), "members", len(ev.Members))
		}
	}
}

// Shutdown stops schedulers and the listener, then closes the keyspace.
func (a *App) Shutdown(ctx context.Context) error {
	if a.retentionCancel != nil {
		a.retentionCancel()
	}
	if a.drainCancel != nil {
		a.drainCancel()
	}
	if a.httpCancel != nil {
		a.httpCancel()
	}

	done := make(chan error, 1)
	go func() { done <- a.db.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("keyspace_close_failed", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Warn("shutdown_timed_out")
		return ctx.Err()
	}

	telemetry.Close()
	logger.Info("shard_stopped", "run_id", a.runID)
	logger.Sync()
	// give the async log writer a beat to flush
	time.Sleep(10 * time.Millisecond)
	return nil
}
