package balance

import (
	"context"
	"fmt"
	"sort"

	"ledgercache/internal/core"
)

// Scope selects what the Aggregator sums. Nil Accounts or Journals mean no
// filter; a non-nil empty slice selects nothing.
type Scope struct {
	Periods  []core.PeriodID
	Accounts []core.AccountID
	Journals []core.JournalID
	Filter   core.PostingFilter
}

func (s Scope) empty() bool {
	return len(s.Periods) == 0 ||
		(s.Accounts != nil && len(s.Accounts) == 0) ||
		(s.Journals != nil && len(s.Journals) == 0)
}

// Aggregator computes grouped sums over ledger lines.
type Aggregator struct {
	ledger LedgerStore
	cache  CacheStore
}

func NewAggregator(ledger LedgerStore, cache CacheStore) *Aggregator {
	return &Aggregator{ledger: ledger, cache: cache}
}

// ComputeBalances returns one entry per (period, account, journal) in scope,
// including zero-valued entries for pairs without matching lines:
//
//   - accounts and journals given: their cross product;
//   - accounts only: accounts x journals active or cached in the period;
//   - journals only: pairs active or cached in those journals;
//   - neither: the pairs active or cached in the period.
//
// An empty scope yields an empty result.
func (a *Aggregator) ComputeBalances(ctx context.Context, s Scope) ([]core.Entry, error) {
	if s.empty() {
		return nil, nil
	}

	sums, err := a.ledger.SumLines(ctx, core.LineQuery{
		Periods:  s.Periods,
		Accounts: s.Accounts,
		Journals: s.Journals,
		Filter:   s.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("sum lines: %w", err)
	}

	byKey := make(map[core.Key]core.Entry, len(sums))
	for _, e := range sums {
		byKey[e.Key] = e
	}

	for _, period := range dedupe(s.Periods) {
		pairs, err := a.scopePairs(ctx, period, s)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			k := p.Key(period)
			if _, ok := byKey[k]; !ok {
				byKey[k] = core.Entry{Key: k}
			}
		}
	}

	out := make([]core.Entry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// scopePairs lists the (account, journal) pairs the period must report.
func (a *Aggregator) scopePairs(ctx context.Context, period core.PeriodID, s Scope) ([]core.Pair, error) {
	if s.Accounts != nil && s.Journals != nil {
		return cross(s.Accounts, s.Journals), nil
	}

	if s.Accounts == nil && s.Journals != nil {
		return a.knownPairs(ctx, period, s.Filter, s.Journals)
	}

	known, err := a.knownPairs(ctx, period, s.Filter, nil)
	if err != nil {
		return nil, err
	}
	if s.Accounts == nil {
		return known, nil
	}

	journals := make([]core.JournalID, 0, len(known))
	for _, p := range known {
		journals = append(journals, p.JournalID)
	}
	return cross(s.Accounts, dedupe(journals)), nil
}

// knownPairs is the union of pairs with lines and pairs with cache rows,
// restricted to journals unless it is nil.
func (a *Aggregator) knownPairs(ctx context.Context, period core.PeriodID, filter core.PostingFilter, journals []core.JournalID) ([]core.Pair, error) {
	active, err := a.ledger.ActivePairs(ctx, period, core.LineQuery{Journals: journals, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("active pairs: %w", err)
	}
	cached, err := a.cache.CachedPairs(ctx, period, core.LineQuery{Journals: journals})
	if err != nil {
		return nil, fmt.Errorf("cached pairs: %w", err)
	}

	seen := make(map[core.Pair]struct{}, len(active)+len(cached))
	out := make([]core.Pair, 0, len(active)+len(cached))
	for _, p := range append(active, cached...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func cross(accounts []core.AccountID, journals []core.JournalID) []core.Pair {
	out := make([]core.Pair, 0, len(accounts)*len(journals))
	for _, acc := range dedupe(accounts) {
		for _, j := range dedupe(journals) {
			out = append(out, core.Pair{AccountID: acc, JournalID: j})
		}
	}
	return out
}

// dedupe returns the distinct ids in ascending order.
func dedupe[T ~int64](ids []T) []T {
	seen := make(map[T]struct{}, len(ids))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortEntries(es []core.Entry) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].Key, es[j].Key
		if a.PeriodID != b.PeriodID {
			return a.PeriodID < b.PeriodID
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.JournalID < b.JournalID
	})
}
