package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/candy-clash/internal/config"
	"github.com/candy-clash/internal/settlement"
)

// PeriodSource lists the periods a sweep should settle
type PeriodSource interface {
	ActivePeriodsEndedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Settler closes one period
type Settler interface {
	Settle(ctx context.Context, periodID string) (*settlement.Outcome, error)
}

// Sweeper periodically settles tournament periods whose window has passed.
// A sweep may race a manual settle on the same period; the settlement CAS
// guard makes the loser a no-op, so the sweeper never needs its own
// coordination.
type Sweeper struct {
	source  PeriodSource
	settler Settler
	config  *config.SweeperConfig
	logger  *slog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a new settlement sweeper
func NewSweeper(source PeriodSource, settler Settler, cfg *config.SweeperConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		source:  source,
		settler: settler,
		config:  cfg,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules the sweep
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		w.sweep(ctx)
	})
	if err != nil {
		return err
	}
	w.cron.Start()

	w.logger.Info("settlement sweeper started", "schedule", w.config.Schedule)
	return nil
}

// Stop stops the sweep, waiting for a running sweep to finish
func (w *Sweeper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()
	w.logger.Info("settlement sweeper stopped")
	return nil
}

// RunOnce runs a single sweep cycle (useful for manual triggers)
func (w *Sweeper) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}

// sweep settles every active period that has ended. A failed period is
// logged and the sweep continues; it will be retried on the next tick.
func (w *Sweeper) sweep(ctx context.Context) {
	startTime := time.Now()

	periodIDs, err := w.source.ActivePeriodsEndedBefore(ctx, time.Now().UTC())
	if err != nil {
		w.logger.Error("failed to list ended periods", "error", err)
		return
	}
	if len(periodIDs) == 0 {
		return
	}

	w.logger.Info("starting settlement sweep", "periods", len(periodIDs))

	settled := 0
	failed := 0
	for _, periodID := range periodIDs {
		outcome, err := w.settler.Settle(ctx, periodID)
		if err != nil {
			w.logger.Error("failed to settle period",
				"period_id", periodID,
				"error", err,
			)
			failed++
			continue
		}
		settled++
		if len(outcome.Warnings) > 0 {
			w.logger.Warn("period settled with warnings",
				"period_id", periodID,
				"warnings", outcome.Warnings,
			)
		}
	}

	w.logger.Info("settlement sweep completed",
		"duration", time.Since(startTime),
		"settled", settled,
		"failed", failed,
	)
}
