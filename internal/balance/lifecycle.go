package balance

import (
	"context"
	"fmt"
	"time"

	"ledgercache/internal/core"
)

// DeleteMode tells OnManualDeletion whether to rebuild what it removed.
type DeleteMode int

const (
	RecomputeAfterDelete DeleteMode = iota
	SkipRecompute
)

func (m DeleteMode) String() string {
	if m == SkipRecompute {
		return "skip_recompute"
	}
	return "recompute"
}

// Triggers react to period lifecycle events.
type Triggers struct {
	periods     PeriodRegistry
	cache       CacheStore
	detector    *Detector
	invalidator *Invalidator
	writer      *Writer
	env         *env
}

// OnPeriodClose materializes the balances of a period that just closed.
func (t *Triggers) OnPeriodClose(ctx context.Context, period core.PeriodID) (RecomputeResult, error) {
	return t.writer.Recompute(ctx, RecomputeRequest{Periods: []core.PeriodID{period}})
}

// OnJournalPeriodClose materializes one journal of a period, which may
// itself still be open. The journal-period must have closed before now,
// otherwise core.ErrPeriodNotClosed is returned and nothing is written.
func (t *Triggers) OnJournalPeriodClose(ctx context.Context, period core.PeriodID, journal core.JournalID) (RecomputeResult, error) {
	p, err := t.periods.Period(ctx, period)
	if err != nil {
		return RecomputeResult{}, err
	}
	if p.Special {
		t.env.logger.DebugContext(ctx, "Skipping special period", "period_id", period)
		return RecomputeResult{}, nil
	}

	jp, err := t.periods.JournalPeriod(ctx, period, journal)
	if err != nil {
		return RecomputeResult{}, err
	}
	if !jp.Covers(t.env.now()) {
		return RecomputeResult{}, fmt.Errorf("%w: journal %d of period %d", core.ErrPeriodNotClosed, journal, period)
	}

	return t.writer.Recompute(ctx, RecomputeRequest{
		Periods:  []core.PeriodID{period},
		Journals: []core.JournalID{journal},
	})
}

// OnPeriodReopen drops every cache row of the period. Nothing is
// recomputed: the period is open again.
func (t *Triggers) OnPeriodReopen(ctx context.Context, period core.PeriodID) (int64, error) {
	n, err := t.cache.DeletePeriodEntries(ctx, period)
	if err != nil {
		return 0, fmt.Errorf("drop balances of period %d: %w", period, err)
	}

	t.env.metrics.RowsPurged(n)
	t.env.audit(ctx, t.cache, core.AuditReopen, period, n)
	if n > 0 {
		t.env.notify(ctx, ChangePurged, period, n)
	}
	t.env.logger.InfoContext(ctx, "Balances dropped on reopen", "period_id", period, "rows", n)
	return n, nil
}

// OnManualDeletion removes the given rows and, unless mode is
// SkipRecompute, recomputes their scope.
func (t *Triggers) OnManualDeletion(ctx context.Context, keys []core.Key, mode DeleteMode) (RecomputeResult, error) {
	var res RecomputeResult
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return res, err
		}
	}
	set := NewKeySet(keys...)
	if set.Len() == 0 {
		return res, nil
	}

	n, err := t.cache.DeleteEntries(ctx, set.Keys())
	if err != nil {
		return res, fmt.Errorf("delete balances: %w", err)
	}
	res.Purged = n

	t.env.metrics.RowsPurged(n)
	t.env.audit(ctx, t.cache, core.AuditManualPurge, 0, n)
	if n > 0 {
		t.env.notify(ctx, ChangePurged, 0, n)
	}
	t.env.logger.InfoContext(ctx, "Balances deleted", "rows", n, "mode", mode.String())

	if mode == SkipRecompute {
		return res, nil
	}

	for _, period := range set.Periods() {
		scope := set.InPeriod(period)
		r, err := t.writer.Recompute(ctx, RecomputeRequest{
			Periods:  []core.PeriodID{period},
			Accounts: scope.Accounts(),
			Journals: scope.Journals(),
		})
		res = res.merge(r)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Sweep purges stale rows and writes every missing balance of every
// closed journal-period.
func (t *Triggers) Sweep(ctx context.Context) (RecomputeResult, error) {
	start := time.Now()
	defer func() { t.env.metrics.SweepDuration(time.Since(start)) }()

	var res RecomputeResult
	purged, err := t.invalidator.PurgeStale(ctx)
	if err != nil {
		return res, err
	}
	res.Purged = purged

	missing, err := t.detector.Missing(ctx, nil)
	if err != nil {
		return res, err
	}
	if missing.Len() == 0 {
		t.env.logger.InfoContext(ctx, "balance cache is up to date")
		return res, nil
	}

	periods, err := t.periods.Periods(ctx, missing.Periods())
	if err != nil {
		return res, err
	}

	for _, id := range missing.Periods() {
		req := RecomputeRequest{Periods: []core.PeriodID{id}}
		if periods[id].State != core.PeriodClosed {
			// Only some journals of an open period are closed.
			req.Journals = missing.InPeriod(id).Journals()
		}
		r, err := t.writer.Recompute(ctx, req)
		res = res.merge(r)
		if err != nil {
			return res, err
		}
	}

	t.env.logger.InfoContext(ctx, "Sweep finished",
		"periods", len(res.Periods), "rows", res.Written, "purged", res.Purged)
	return res, nil
}

func (r RecomputeResult) merge(o RecomputeResult) RecomputeResult {
	return RecomputeResult{
		Written:  r.Written + o.Written,
		Absorbed: r.Absorbed + o.Absorbed,
		Purged:   r.Purged + o.Purged,
		Periods:  append(r.Periods, o.Periods...),
	}
}
