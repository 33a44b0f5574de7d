package balance

import (
	"context"
	"fmt"
	"time"

	"ledgercache/internal/core"
)

// RecomputeRequest scopes a cache recomputation. A non-nil Journals slice
// is a journal-scoped close: the periods may still be open, only the named
// journals are written and only where their journal-period is closed.
type RecomputeRequest struct {
	Periods  []core.PeriodID
	Accounts []core.AccountID
	Journals []core.JournalID
}

type RecomputeResult struct {
	Written  int
	Absorbed int
	Purged   int64
	Periods  []core.PeriodID // periods that received rows
}

// Writer is the only component that inserts cache rows.
type Writer struct {
	periods     PeriodRegistry
	cache       CacheStore
	aggregator  *Aggregator
	detector    *Detector
	invalidator *Invalidator
	env         *env
}

// Recompute materializes the missing balances of the requested scope.
// Special periods are skipped. An open period without a journal override
// fails with core.ErrPeriodNotClosed before anything is written.
func (w *Writer) Recompute(ctx context.Context, req RecomputeRequest) (RecomputeResult, error) {
	var res RecomputeResult

	if len(req.Periods) == 0 {
		return res, core.ErrEmptyScope
	}
	ids := dedupe(req.Periods)
	periods, err := w.periods.Periods(ctx, ids)
	if err != nil {
		return res, err
	}

	override := req.Journals != nil
	var targets []core.PeriodID
	for _, id := range ids {
		p := periods[id]
		if p.Special {
			w.env.logger.DebugContext(ctx, "Skipping special period", "period_id", id)
			continue
		}
		if p.State != core.PeriodClosed && !override {
			return res, fmt.Errorf("%w: period %d", core.ErrPeriodNotClosed, id)
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 || (override && len(req.Journals) == 0) {
		return res, nil
	}

	// Entries carry the time their inputs were read. A journal-period
	// closed again while we aggregate then invalidates them.
	now := w.env.now()

	if res.Purged, err = w.invalidator.PurgeStale(ctx); err != nil {
		return res, err
	}

	missing, err := w.detector.Missing(ctx, targets)
	if err != nil {
		return res, err
	}

	for _, period := range targets {
		journals := journalsToWrite(missing.InPeriod(period), req)
		if len(journals) == 0 {
			continue
		}

		entries, err := w.aggregator.ComputeBalances(ctx, Scope{
			Periods:  []core.PeriodID{period},
			Accounts: req.Accounts,
			Journals: journals,
			Filter:   core.PostedOnly,
		})
		if err != nil {
			return res, fmt.Errorf("aggregate period %d: %w", period, err)
		}

		written, absorbed, err := w.write(ctx, entries, now)
		res.Written += written
		res.Absorbed += absorbed
		if written+absorbed > 0 {
			res.Periods = append(res.Periods, period)
			w.env.audit(ctx, w.cache, core.AuditRecompute, period, int64(written))
			w.env.notify(ctx, ChangeWritten, period, int64(written))
		}
		if err != nil {
			return res, err
		}

		w.env.logger.InfoContext(ctx, "Balances recomputed",
			"period_id", period, "journals", len(journals), "rows", written, "absorbed", absorbed)
	}

	return res, nil
}

// journalsToWrite keeps the journals of keys that pass the request filters.
func journalsToWrite(keys KeySet, req RecomputeRequest) []core.JournalID {
	var (
		wantAccount = idSet(req.Accounts)
		wantJournal = idSet(req.Journals)
		out         []core.JournalID
	)
	for _, k := range keys.Keys() {
		if wantAccount != nil {
			if _, ok := wantAccount[k.AccountID]; !ok {
				continue
			}
		}
		if wantJournal != nil {
			if _, ok := wantJournal[k.JournalID]; !ok {
				continue
			}
		}
		out = append(out, k.JournalID)
	}
	return dedupe(out)
}

// write stamps and stores entries one key per transaction.
func (w *Writer) write(ctx context.Context, entries []core.Entry, now time.Time) (written, absorbed int, err error) {
	for _, e := range entries {
		e.CreatedAt = now
		dup, err := w.cache.ReplaceEntry(ctx, e)
		if err != nil {
			return written, absorbed, fmt.Errorf("write balance %s: %w", e.Key, err)
		}
		if dup {
			absorbed++
			continue
		}
		written++
	}

	w.env.metrics.RowsWritten(written)
	w.env.metrics.DuplicatesAbsorbed(absorbed)
	return written, absorbed, nil
}

// idSet returns nil for a nil slice so callers can tell "no filter" apart.
func idSet[T comparable](ids []T) map[T]struct{} {
	if ids == nil {
		return nil
	}
	out := make(map[T]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
