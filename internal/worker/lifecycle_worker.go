package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgercache/internal/amqp"
	"ledgercache/internal/balance"
	"ledgercache/internal/core"
)

// Triggers is the part of balance.Service the worker drives.
type Triggers interface {
	OnPeriodClose(ctx context.Context, period core.PeriodID) (balance.RecomputeResult, error)
	OnJournalPeriodClose(ctx context.Context, period core.PeriodID, journal core.JournalID) (balance.RecomputeResult, error)
	OnPeriodReopen(ctx context.Context, period core.PeriodID) (int64, error)
	OnManualDeletion(ctx context.Context, keys []core.Key, mode balance.DeleteMode) (balance.RecomputeResult, error)
	Sweep(ctx context.Context) (balance.RecomputeResult, error)
}

// LifecycleWorker applies period lifecycle messages to the balance cache.
type LifecycleWorker struct {
	triggers Triggers
	interval time.Duration
}

func NewLifecycleWorker(triggers Triggers, sweepInterval time.Duration) *LifecycleWorker {
	return &LifecycleWorker{
		triggers: triggers,
		interval: sweepInterval,
	}
}

// HandleMessage processes a single lifecycle message from AMQP.
//
// A period that is open again by the time a close message arrives yields
// core.ErrPeriodNotClosed. The message is stale, not failed: it is
// acknowledged and the next sweep catches up. Messages naming an unknown
// period or an invalid id are acknowledged too; redelivery cannot fix them.
func (w *LifecycleWorker) HandleMessage(ctx context.Context, msg *amqp.LifecycleMessage) error {
	slog.InfoContext(ctx, "Processing lifecycle message",
		"type", msg.Type,
		"period_id", msg.PeriodID,
		"journal_id", msg.JournalID,
		"keys", len(msg.Keys))

	var (
		res balance.RecomputeResult
		err error
	)
	switch msg.Type {
	case amqp.PeriodClosed:
		res, err = w.triggers.OnPeriodClose(ctx, msg.PeriodID)
	case amqp.JournalPeriodClosed:
		res, err = w.triggers.OnJournalPeriodClose(ctx, msg.PeriodID, msg.JournalID)
	case amqp.PeriodReopened:
		res.Purged, err = w.triggers.OnPeriodReopen(ctx, msg.PeriodID)
	case amqp.BalancesDeleted:
		mode := balance.SkipRecompute
		if msg.Recompute {
			mode = balance.RecomputeAfterDelete
		}
		res, err = w.triggers.OnManualDeletion(ctx, msg.CacheKeys(), mode)
	case amqp.SweepRequested:
		res, err = w.triggers.Sweep(ctx)
	default:
		return fmt.Errorf("%w: unknown type %q", amqp.ErrInvalidMessage, msg.Type)
	}

	switch {
	case errors.Is(err, core.ErrPeriodNotClosed):
		slog.WarnContext(ctx, "Skipping close of a period that is open again",
			"type", msg.Type, "period_id", msg.PeriodID, "error", err)
		return nil
	case errors.Is(err, core.ErrUnknownPeriod), errors.Is(err, core.ErrInvalidID):
		slog.WarnContext(ctx, "Dropping message that can never apply",
			"type", msg.Type, "period_id", msg.PeriodID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", msg.Type, err)
	}

	slog.InfoContext(ctx, "Lifecycle message applied",
		"type", msg.Type,
		"period_id", msg.PeriodID,
		"written", res.Written,
		"absorbed", res.Absorbed,
		"purged", res.Purged)
	return nil
}

// StartupSweep brings the cache up to date before consuming, recovering
// from messages missed while the worker was down.
func (w *LifecycleWorker) StartupSweep(ctx context.Context) error {
	res, err := w.triggers.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	slog.InfoContext(ctx, "Startup sweep completed",
		"periods", len(res.Periods),
		"written", res.Written,
		"purged", res.Purged)
	return nil
}

// RunSweeps sweeps on every tick until ctx is done. A failed sweep is
// logged and retried on the next tick.
func (w *LifecycleWorker) RunSweeps(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.triggers.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
			}
		}
	}
}
