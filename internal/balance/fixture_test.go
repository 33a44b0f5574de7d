package balance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/storage"
)

const (
	accA core.AccountID = 1
	accB core.AccountID = 2
	accC core.AccountID = 3
	accD core.AccountID = 4

	jSales     core.JournalID = 10
	jPurchases core.JournalID = 20

	pJan     core.PeriodID = 1
	pFeb     core.PeriodID = 2
	pOpening core.PeriodID = 3
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []ChangeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeKind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}

type countingMetrics struct {
	mu                             sync.Mutex
	hits, live, written, duplicate int
	purged                         int64
	sweeps                         int
}

func (m *countingMetrics) CacheHits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits += n
}

func (m *countingMetrics) LiveComputed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live += n
}

func (m *countingMetrics) RowsWritten(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written += n
}

func (m *countingMetrics) DuplicatesAbsorbed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicate += n
}

func (m *countingMetrics) RowsPurged(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged += n
}

func (m *countingMetrics) SweepDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	repo     *storage.Repository
	svc      *Service
	clock    *testClock
	notifier *recordingNotifier
	metrics  *countingMetrics
}

// newFixture builds a service over a fresh SQLite database holding accounts
// A-D, the sales and purchases journals, two open periods and a closed
// special opening period.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	f := &fixture{
		t:        t,
		ctx:      ctx,
		repo:     repo,
		clock:    &testClock{now: time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
	}
	f.useStore(repo)

	for _, a := range []core.Account{
		{ID: accA, Code: "A"},
		{ID: accB, Code: "B"},
		{ID: accC, Code: "C"},
		{ID: accD, Code: "D"},
	} {
		if err := repo.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}
	for _, j := range []core.Journal{{ID: jSales, Code: "SAL"}, {ID: jPurchases, Code: "PUR"}} {
		if err := repo.CreateJournal(ctx, j); err != nil {
			t.Fatalf("CreateJournal: %v", err)
		}
	}
	for _, p := range []core.Period{
		{ID: pJan, Name: "2024-01"},
		{ID: pFeb, Name: "2024-02"},
		{ID: pOpening, Name: "opening", Special: true, State: core.PeriodClosed},
	} {
		if err := repo.CreatePeriod(ctx, p); err != nil {
			t.Fatalf("CreatePeriod: %v", err)
		}
	}
	return f
}

// useStore rebuilds the service over store, keeping clock and fakes.
func (f *fixture) useStore(store Store, opts ...Option) {
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithNotifier(f.notifier),
		WithMetrics(f.metrics),
		WithActor("test"),
	}, opts...)
	f.svc = New(store, opts...)
}

// move posts a balanced two-line move: debit on one account, credit on the other.
func (f *fixture) move(period core.PeriodID, journal core.JournalID, debit, credit core.AccountID, cents int64, state core.PostingState) {
	f.t.Helper()
	err := f.repo.AppendLines(f.ctx, []core.LedgerLine{
		{AccountID: debit, PeriodID: period, JournalID: journal, Debit: core.Money{Cents: cents}, State: state},
		{AccountID: credit, PeriodID: period, JournalID: journal, Credit: core.Money{Cents: cents}, State: state},
	})
	if err != nil {
		f.t.Fatalf("AppendLines: %v", err)
	}
}

// closePeriod closes the period now and moves the clock past the close.
func (f *fixture) closePeriod(period core.PeriodID) {
	f.t.Helper()
	if err := f.repo.ClosePeriod(f.ctx, period, f.clock.Now()); err != nil {
		f.t.Fatalf("ClosePeriod: %v", err)
	}
	f.clock.Advance(time.Second)
}

func (f *fixture) closeJournal(period core.PeriodID, journal core.JournalID) {
	f.t.Helper()
	if err := f.repo.CloseJournalPeriod(f.ctx, period, journal, f.clock.Now()); err != nil {
		f.t.Fatalf("CloseJournalPeriod: %v", err)
	}
	f.clock.Advance(time.Second)
}

func (f *fixture) reopenPeriod(period core.PeriodID) {
	f.t.Helper()
	if err := f.repo.ReopenPeriod(f.ctx, period, f.clock.Now()); err != nil {
		f.t.Fatalf("ReopenPeriod: %v", err)
	}
	f.clock.Advance(time.Second)
}

func (f *fixture) entries(period core.PeriodID) map[core.Key]core.Entry {
	f.t.Helper()
	es, err := f.repo.Entries(f.ctx, period)
	if err != nil {
		f.t.Fatalf("Entries: %v", err)
	}
	out := make(map[core.Key]core.Entry, len(es))
	for _, e := range es {
		if _, dup := out[e.Key]; dup {
			f.t.Fatalf("duplicate cache row for %s", e.Key)
		}
		out[e.Key] = e
	}
	return out
}

func (f *fixture) balances(q BalanceQuery) map[core.AccountID]core.Totals {
	f.t.Helper()
	lines, err := f.svc.GetBalances(f.ctx, q)
	if err != nil {
		f.t.Fatalf("GetBalances: %v", err)
	}
	if len(lines) != len(q.Accounts) {
		f.t.Fatalf("GetBalances returned %d lines for %d accounts", len(lines), len(q.Accounts))
	}
	out := make(map[core.AccountID]core.Totals, len(lines))
	for i, l := range lines {
		if l.AccountID != q.Accounts[i] {
			f.t.Fatalf("line %d is account %d, want %d", i, l.AccountID, q.Accounts[i])
		}
		out[l.AccountID] = l.Totals
	}
	return out
}

func key(a core.AccountID, p core.PeriodID, j core.JournalID) core.Key {
	return core.Key{AccountID: a, PeriodID: p, JournalID: j}
}

func totals(debit, credit int64) core.Totals {
	return core.NewTotals(core.Money{Cents: debit}, core.Money{Cents: credit}, core.Money{})
}
