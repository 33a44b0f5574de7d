package balance

import (
	"context"
	"fmt"

	"ledgercache/internal/core"
)

// KeySet is a deduplicated set of cache keys.
type KeySet struct {
	keys []core.Key
	seen map[core.Key]struct{}
}

// NewKeySet builds a set from keys, dropping duplicates and keeping order.
func NewKeySet(keys ...core.Key) KeySet {
	var s KeySet
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s *KeySet) Add(k core.Key) {
	if s.seen == nil {
		s.seen = make(map[core.Key]struct{})
	}
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.keys = append(s.keys, k)
}

func (s KeySet) Len() int { return len(s.keys) }

// Keys returns the keys in insertion order.
func (s KeySet) Keys() []core.Key {
	return append([]core.Key(nil), s.keys...)
}

func (s KeySet) Periods() []core.PeriodID {
	out := make([]core.PeriodID, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.PeriodID)
	}
	return dedupe(out)
}

func (s KeySet) Accounts() []core.AccountID {
	out := make([]core.AccountID, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.AccountID)
	}
	return dedupe(out)
}

func (s KeySet) Journals() []core.JournalID {
	out := make([]core.JournalID, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.JournalID)
	}
	return dedupe(out)
}

// InPeriod returns the subset of keys belonging to one period.
func (s KeySet) InPeriod(period core.PeriodID) KeySet {
	var out KeySet
	for _, k := range s.keys {
		if k.PeriodID == period {
			out.Add(k)
		}
	}
	return out
}

// Detector finds ledger activity that has no valid cache entry.
type Detector struct {
	cache CacheStore
}

func NewDetector(cache CacheStore) *Detector {
	return &Detector{cache: cache}
}

// Missing returns every (period, account, journal) with posted lines in a
// closed journal-period of a non-special period and no valid cache entry.
// An empty periods slice searches all periods.
func (d *Detector) Missing(ctx context.Context, periods []core.PeriodID) (KeySet, error) {
	keys, err := d.cache.MissingKeys(ctx, periods)
	if err != nil {
		return KeySet{}, fmt.Errorf("detect missing balances: %w", err)
	}
	return NewKeySet(keys...), nil
}
