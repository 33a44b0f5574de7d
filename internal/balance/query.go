package balance

import (
	"context"
	"fmt"

	"ledgercache/internal/core"
)

// BalanceQuery asks for per-account totals over a set of periods.
type BalanceQuery struct {
	Accounts     []core.AccountID
	Periods      []core.PeriodID
	IncludeDraft bool
	Consolidate  bool
}

// QueryService is the read path. It never writes cache rows.
type QueryService struct {
	ledger       LedgerStore
	periods      PeriodRegistry
	cache        CacheStore
	aggregator   *Aggregator
	invalidator  *Invalidator
	consolidator *Consolidator
	env          *env
}

// GetBalances returns one line per requested account, in request order.
// Valid cache rows are used where present; everything else is computed
// live. Accounts without activity get an all-zero line.
func (s *QueryService) GetBalances(ctx context.Context, q BalanceQuery) ([]core.AccountBalance, error) {
	if len(q.Periods) == 0 {
		return nil, core.ErrEmptyScope
	}
	if len(q.Accounts) == 0 {
		return nil, nil
	}

	working := dedupe(q.Accounts)
	var descendants map[core.AccountID][]core.AccountID
	if q.Consolidate {
		var err error
		if working, descendants, err = s.consolidator.Expand(ctx, q.Accounts); err != nil {
			return nil, fmt.Errorf("expand accounts: %w", err)
		}
	}

	if _, err := s.invalidator.PurgeStale(ctx); err != nil {
		return nil, err
	}

	ids := dedupe(q.Periods)
	periods, err := s.periods.Periods(ctx, ids)
	if err != nil {
		return nil, err
	}

	totals := make(map[core.AccountID]core.Totals, len(working))
	add := func(entries []core.Entry) {
		for _, e := range entries {
			totals[e.AccountID] = totals[e.AccountID].Add(e.Totals)
		}
	}

	for _, id := range ids {
		p := periods[id]
		if p.Cacheable() {
			if err := s.mergeCached(ctx, id, working, add); err != nil {
				return nil, err
			}
		} else {
			live, err := s.aggregator.ComputeBalances(ctx, Scope{
				Periods:  []core.PeriodID{id},
				Accounts: working,
				Filter:   core.PostedOnly,
			})
			if err != nil {
				return nil, fmt.Errorf("aggregate period %d: %w", id, err)
			}
			s.env.metrics.LiveComputed(len(live))
			add(live)
		}

		if q.IncludeDraft {
			drafts, err := s.aggregator.ComputeBalances(ctx, Scope{
				Periods:  []core.PeriodID{id},
				Accounts: working,
				Filter:   core.DraftOnly,
			})
			if err != nil {
				return nil, fmt.Errorf("aggregate drafts of period %d: %w", id, err)
			}
			add(drafts)
		}
	}

	out := make([]core.AccountBalance, 0, len(q.Accounts))
	for _, acc := range q.Accounts {
		t := totals[acc]
		for _, d := range descendants[acc] {
			if dt, ok := totals[d]; ok {
				t = t.Add(dt)
			}
		}
		out = append(out, core.AccountBalance{AccountID: acc, Totals: t})
	}
	return out, nil
}

// mergeCached adds the valid cache rows of a closed period and computes the
// (account, journal) pairs they do not cover from the ledger.
func (s *QueryService) mergeCached(ctx context.Context, period core.PeriodID, accounts []core.AccountID, add func([]core.Entry)) error {
	cached, err := s.cache.ValidEntries(ctx, []core.PeriodID{period}, accounts)
	if err != nil {
		return fmt.Errorf("read cached balances: %w", err)
	}
	s.env.metrics.CacheHits(len(cached))
	add(cached)

	covered := make(map[core.Pair]struct{}, len(cached))
	for _, e := range cached {
		covered[core.Pair{AccountID: e.AccountID, JournalID: e.JournalID}] = struct{}{}
	}

	active, err := s.ledger.ActivePairs(ctx, period, core.LineQuery{Accounts: accounts, Filter: core.PostedOnly})
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	var (
		missing     = make(map[core.Pair]struct{})
		accMissing  []core.AccountID
		jrnlMissing []core.JournalID
	)
	for _, p := range active {
		if _, ok := covered[p]; ok {
			continue
		}
		missing[p] = struct{}{}
		accMissing = append(accMissing, p.AccountID)
		jrnlMissing = append(jrnlMissing, p.JournalID)
	}
	if len(missing) == 0 {
		return nil
	}

	live, err := s.aggregator.ComputeBalances(ctx, Scope{
		Periods:  []core.PeriodID{period},
		Accounts: dedupe(accMissing),
		Journals: dedupe(jrnlMissing),
		Filter:   core.PostedOnly,
	})
	if err != nil {
		return fmt.Errorf("aggregate missing balances of period %d: %w", period, err)
	}

	var used []core.Entry
	for _, e := range live {
		if _, ok := missing[core.Pair{AccountID: e.AccountID, JournalID: e.JournalID}]; ok {
			used = append(used, e)
		}
	}
	s.env.metrics.LiveComputed(len(used))
	add(used)
	return nil
}
