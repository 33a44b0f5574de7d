// Package balance maintains the materialized per-account balance cache:
// staleness detection, recomputation, invalidation on period lifecycle
// events and a read path that merges cached and live results.
package balance

import (
	"context"
	"time"

	"ledgercache/internal/core"
)

// LedgerStore is the read-only view of the ledger lines.
type LedgerStore interface {
	SumLines(ctx context.Context, q core.LineQuery) ([]core.Entry, error)
	ActivePairs(ctx context.Context, period core.PeriodID, q core.LineQuery) ([]core.Pair, error)
}

// PeriodRegistry exposes period and journal-period closing state.
type PeriodRegistry interface {
	Period(ctx context.Context, id core.PeriodID) (core.Period, error)
	Periods(ctx context.Context, ids []core.PeriodID) (map[core.PeriodID]core.Period, error)
	JournalPeriod(ctx context.Context, period core.PeriodID, journal core.JournalID) (core.JournalPeriod, error)
}

// AccountTree resolves direct children of an account, hierarchy and
// consolidation links alike.
type AccountTree interface {
	Children(ctx context.Context, id core.AccountID) ([]core.AccountID, error)
}

// CacheStore owns the balance_cache rows.
type CacheStore interface {
	MissingKeys(ctx context.Context, periods []core.PeriodID) ([]core.Key, error)
	DeleteStale(ctx context.Context) (int64, error)
	ReplaceEntry(ctx context.Context, e core.Entry) (absorbed bool, err error)
	DeleteEntries(ctx context.Context, keys []core.Key) (int64, error)
	DeletePeriodEntries(ctx context.Context, period core.PeriodID) (int64, error)
	ValidEntries(ctx context.Context, periods []core.PeriodID, accounts []core.AccountID) ([]core.Entry, error)
	CachedPairs(ctx context.Context, period core.PeriodID, q core.LineQuery) ([]core.Pair, error)
	RecordAudit(ctx context.Context, rec core.AuditRecord) error
}

// Store is everything the balance cache needs from persistence.
type Store interface {
	LedgerStore
	PeriodRegistry
	CacheStore
	AccountTree
}

// ChangeKind names a cache mutation announced to a Notifier.
type ChangeKind string

const (
	ChangeWritten ChangeKind = "balances.written"
	ChangePurged  ChangeKind = "balances.purged"
)

// ChangeEvent describes one committed cache mutation.
type ChangeEvent struct {
	Kind     ChangeKind
	PeriodID core.PeriodID // zero for cross-period purges
	Rows     int64
	Actor    string
	At       time.Time
}

// Notifier announces cache mutations to other systems. Failures are logged
// and never undo the mutation.
type Notifier interface {
	Notify(ctx context.Context, ev ChangeEvent) error
}

// Metrics receives cache instrumentation.
type Metrics interface {
	CacheHits(n int)
	LiveComputed(n int)
	RowsWritten(n int)
	DuplicatesAbsorbed(n int)
	RowsPurged(n int64)
	SweepDuration(d time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, ChangeEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) CacheHits(int)               {}
func (nopMetrics) LiveComputed(int)            {}
func (nopMetrics) RowsWritten(int)             {}
func (nopMetrics) DuplicatesAbsorbed(int)      {}
func (nopMetrics) RowsPurged(int64)            {}
func (nopMetrics) SweepDuration(time.Duration) {}
