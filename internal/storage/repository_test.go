package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ledgercache/internal/core"
)

var t0 = time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seed creates accounts 1 and 2, journals 10 and 20 and open period 1.
func seed(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()

	for _, a := range []core.Account{{ID: 1, Code: "1000"}, {ID: 2, Code: "2000"}} {
		if err := repo.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}
	for _, j := range []core.Journal{{ID: 10, Code: "SAL"}, {ID: 20, Code: "PUR"}} {
		if err := repo.CreateJournal(ctx, j); err != nil {
			t.Fatalf("CreateJournal: %v", err)
		}
	}
	if err := repo.CreatePeriod(ctx, core.Period{ID: 1, Name: "2024-01"}); err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}
}

func line(account core.AccountID, journal core.JournalID, debit, credit int64, state core.PostingState) core.LedgerLine {
	return core.LedgerLine{
		AccountID: account,
		PeriodID:  1,
		JournalID: journal,
		Debit:     core.Money{Cents: debit},
		Credit:    core.Money{Cents: credit},
		State:     state,
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT 1 WHERE a = ? AND b IN (?, ?)"

	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := "SELECT 1 WHERE a = $1 AND b IN ($2, $3)"
	if got := postgresDialect.rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestSumLines(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	err := repo.AppendLines(ctx, []core.LedgerLine{
		line(1, 10, 10000, 0, core.Posted),
		line(1, 10, 2500, 0, core.Posted),
		line(2, 10, 0, 12500, core.Posted),
		line(1, 20, 700, 0, core.Draft),
	})
	if err != nil {
		t.Fatalf("AppendLines: %v", err)
	}

	tests := []struct {
		name  string
		query core.LineQuery
		want  map[core.Key]int64 // balance per key
	}{
		{
			name:  "posted only",
			query: core.LineQuery{Periods: []core.PeriodID{1}, Filter: core.PostedOnly},
			want: map[core.Key]int64{
				{AccountID: 1, PeriodID: 1, JournalID: 10}: 12500,
				{AccountID: 2, PeriodID: 1, JournalID: 10}: -12500,
			},
		},
		{
			name:  "draft only",
			query: core.LineQuery{Periods: []core.PeriodID{1}, Filter: core.DraftOnly},
			want: map[core.Key]int64{
				{AccountID: 1, PeriodID: 1, JournalID: 20}: 700,
			},
		},
		{
			name:  "all lines for account 1",
			query: core.LineQuery{Periods: []core.PeriodID{1}, Accounts: []core.AccountID{1}, Filter: core.AllLines},
			want: map[core.Key]int64{
				{AccountID: 1, PeriodID: 1, JournalID: 10}: 12500,
				{AccountID: 1, PeriodID: 1, JournalID: 20}: 700,
			},
		},
		{
			name:  "empty journal filter matches nothing",
			query: core.LineQuery{Periods: []core.PeriodID{1}, Journals: []core.JournalID{}, Filter: core.AllLines},
			want:  map[core.Key]int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.SumLines(ctx, tt.query)
			if err != nil {
				t.Fatalf("SumLines: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d rows, want %d: %+v", len(got), len(tt.want), got)
			}
			for _, e := range got {
				want, ok := tt.want[e.Key]
				if !ok {
					t.Errorf("unexpected row %s", e.Key)
					continue
				}
				if e.Balance.Cents != want {
					t.Errorf("%s balance = %d, want %d", e.Key, e.Balance.Cents, want)
				}
				if e.Balance.Cents != e.Debit.Cents-e.Credit.Cents {
					t.Errorf("%s balance is not debit - credit", e.Key)
				}
			}
		})
	}
}

func TestAppendLines_RejectsInvalid(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	err := repo.AppendLines(context.Background(), []core.LedgerLine{line(1, 10, -5, 0, core.Posted)})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPeriods_Unknown(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if _, err := repo.Period(ctx, 99); !errors.Is(err, core.ErrUnknownPeriod) {
		t.Errorf("Period: expected ErrUnknownPeriod, got %v", err)
	}
	if _, err := repo.Periods(ctx, []core.PeriodID{1, 99}); !errors.Is(err, core.ErrUnknownPeriod) {
		t.Errorf("Periods: expected ErrUnknownPeriod, got %v", err)
	}
	if err := repo.ClosePeriod(ctx, 99, t0); !errors.Is(err, core.ErrUnknownPeriod) {
		t.Errorf("ClosePeriod: expected ErrUnknownPeriod, got %v", err)
	}
}

func TestClosePeriod(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.AppendLines(ctx, []core.LedgerLine{
		line(1, 10, 100, 0, core.Posted),
		line(2, 20, 0, 100, core.Posted),
	}); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}

	// Journal 10 closes on its own first; the period close must not move it.
	early := t0.Add(-time.Hour)
	if err := repo.CloseJournalPeriod(ctx, 1, 10, early); err != nil {
		t.Fatalf("CloseJournalPeriod: %v", err)
	}
	if err := repo.ClosePeriod(ctx, 1, t0); err != nil {
		t.Fatalf("ClosePeriod: %v", err)
	}

	p, err := repo.Period(ctx, 1)
	if err != nil {
		t.Fatalf("Period: %v", err)
	}
	if !p.Cacheable() {
		t.Errorf("closed period should be cacheable: %+v", p)
	}

	j10, err := repo.JournalPeriod(ctx, 1, 10)
	if err != nil {
		t.Fatalf("JournalPeriod: %v", err)
	}
	if !j10.ClosedAt.Equal(early) {
		t.Errorf("journal 10 closed_at = %v, want %v", j10.ClosedAt, early)
	}
	j20, err := repo.JournalPeriod(ctx, 1, 20)
	if err != nil {
		t.Fatalf("JournalPeriod: %v", err)
	}
	if j20.State != core.PeriodClosed || !j20.ClosedAt.Equal(t0) {
		t.Errorf("journal 20 = %+v, want closed at %v", j20, t0)
	}
}

func TestJournalPeriod_MissingIsOpen(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	jp, err := repo.JournalPeriod(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("JournalPeriod: %v", err)
	}
	if jp.State != core.PeriodOpen {
		t.Errorf("expected open journal period, got %s", jp.State)
	}
}

func TestMissingKeysAndValidity(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.AppendLines(ctx, []core.LedgerLine{
		line(1, 10, 100, 0, core.Posted),
		line(2, 10, 0, 100, core.Posted),
		line(2, 20, 50, 0, core.Draft),
	}); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}

	missing, err := repo.MissingKeys(ctx, nil)
	if err != nil {
		t.Fatalf("MissingKeys: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("open period should have no missing keys, got %v", missing)
	}

	if err := repo.ClosePeriod(ctx, 1, t0); err != nil {
		t.Fatalf("ClosePeriod: %v", err)
	}
	missing, err = repo.MissingKeys(ctx, []core.PeriodID{1})
	if err != nil {
		t.Fatalf("MissingKeys: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing keys (drafts excluded), got %v", missing)
	}

	written := t0.Add(time.Second)
	for _, k := range missing {
		if _, err := repo.ReplaceEntry(ctx, core.Entry{Key: k, CreatedAt: written}); err != nil {
			t.Fatalf("ReplaceEntry: %v", err)
		}
	}
	missing, err = repo.MissingKeys(ctx, nil)
	if err != nil {
		t.Fatalf("MissingKeys: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected nothing missing after write, got %v", missing)
	}

	valid, err := repo.ValidEntries(ctx, []core.PeriodID{1}, nil)
	if err != nil {
		t.Fatalf("ValidEntries: %v", err)
	}
	if len(valid) != 2 {
		t.Errorf("expected 2 valid entries, got %d", len(valid))
	}

	if err := repo.ReopenPeriod(ctx, 1, written.Add(time.Second)); err != nil {
		t.Fatalf("ReopenPeriod: %v", err)
	}
	valid, err = repo.ValidEntries(ctx, []core.PeriodID{1}, nil)
	if err != nil {
		t.Fatalf("ValidEntries: %v", err)
	}
	if len(valid) != 0 {
		t.Errorf("reopened period should have no valid entries, got %d", len(valid))
	}

	n, err := repo.DeleteStale(ctx)
	if err != nil {
		t.Fatalf("DeleteStale: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteStale removed %d rows, want 2", n)
	}
	n, err = repo.DeleteStale(ctx)
	if err != nil || n != 0 {
		t.Errorf("second DeleteStale = %d, %v; want 0, nil", n, err)
	}
}

func TestDeleteStale_EntryNotNewerThanClose(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.CloseJournalPeriod(ctx, 1, 10, t0); err != nil {
		t.Fatalf("CloseJournalPeriod: %v", err)
	}
	// created_at equal to closed_at is not strictly after it.
	if _, err := repo.ReplaceEntry(ctx, core.Entry{Key: core.Key{AccountID: 1, PeriodID: 1, JournalID: 10}, CreatedAt: t0}); err != nil {
		t.Fatalf("ReplaceEntry: %v", err)
	}
	// No journal-period row at all for journal 20.
	if _, err := repo.ReplaceEntry(ctx, core.Entry{Key: core.Key{AccountID: 1, PeriodID: 1, JournalID: 20}, CreatedAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("ReplaceEntry: %v", err)
	}

	n, err := repo.DeleteStale(ctx)
	if err != nil {
		t.Fatalf("DeleteStale: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteStale removed %d rows, want 2", n)
	}
}

func TestReplaceEntry_KeepsOneRowPerKey(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	key := core.Key{AccountID: 1, PeriodID: 1, JournalID: 10}
	for i, debit := range []int64{100, 250} {
		e := core.Entry{
			Key:       key,
			Totals:    core.NewTotals(core.Money{Cents: debit}, core.Money{}, core.Money{}),
			CreatedAt: t0.Add(time.Duration(i+1) * time.Second),
		}
		if _, err := repo.ReplaceEntry(ctx, e); err != nil {
			t.Fatalf("ReplaceEntry: %v", err)
		}
	}

	entries, err := repo.Entries(ctx, 1)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 row, got %d", len(entries))
	}
	if entries[0].Debit.Cents != 250 {
		t.Errorf("expected latest write to win, got debit %d", entries[0].Debit.Cents)
	}
	if !entries[0].CreatedAt.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("created_at = %v", entries[0].CreatedAt)
	}
}

func TestUniqueConstraint(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	insert := `INSERT INTO balance_cache (account_id, period_id, journal_id, created_at) VALUES (1, 1, 10, 1)`
	if _, err := repo.exec(ctx, insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := repo.exec(ctx, insert)
	if err == nil {
		t.Fatal("expected unique violation on duplicate key")
	}
	if !isUniqueViolation(err) {
		t.Errorf("isUniqueViolation(%v) = false", err)
	}
	if isUniqueViolation(errors.New("other")) {
		t.Error("plain error reported as unique violation")
	}
}

func TestDeleteEntries(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	keys := []core.Key{
		{AccountID: 1, PeriodID: 1, JournalID: 10},
		{AccountID: 2, PeriodID: 1, JournalID: 10},
		{AccountID: 2, PeriodID: 1, JournalID: 20},
	}
	if _, _, err := repo.ReplaceEntries(ctx, []core.Entry{
		{Key: keys[0], CreatedAt: t0},
		{Key: keys[1], CreatedAt: t0},
		{Key: keys[2], CreatedAt: t0},
	}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	n, err := repo.DeleteEntries(ctx, keys[:1])
	if err != nil || n != 1 {
		t.Fatalf("DeleteEntries = %d, %v", n, err)
	}

	pairs, err := repo.CachedPairs(ctx, 1, core.LineQuery{Journals: []core.JournalID{10}})
	if err != nil {
		t.Fatalf("CachedPairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0] != (core.Pair{AccountID: 2, JournalID: 10}) {
		t.Errorf("CachedPairs = %+v", pairs)
	}

	n, err = repo.DeletePeriodEntries(ctx, 1)
	if err != nil || n != 2 {
		t.Errorf("DeletePeriodEntries = %d, %v; want 2", n, err)
	}
}

func TestChildren(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, a := range []core.Account{
		{ID: 1, Code: "ROOT"},
		{ID: 2, Code: "CHILD", ParentID: 1},
		{ID: 3, Code: "OTHER"},
	} {
		if err := repo.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}
	if err := repo.AddConsolidation(ctx, 1, 3); err != nil {
		t.Fatalf("AddConsolidation: %v", err)
	}
	if err := repo.AddConsolidation(ctx, 1, 3); err != nil {
		t.Fatalf("AddConsolidation twice: %v", err)
	}
	if err := repo.AddConsolidation(ctx, 1, 2); err != nil {
		t.Fatalf("AddConsolidation: %v", err)
	}

	children, err := repo.Children(ctx, 1)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 || children[0] != 2 || children[1] != 3 {
		t.Errorf("Children = %v, want [2 3]", children)
	}

	a, ok, err := repo.Account(ctx, 2)
	if err != nil || !ok || a.ParentID != 1 {
		t.Errorf("Account(2) = %+v, %v, %v", a, ok, err)
	}
	if _, ok, _ := repo.Account(ctx, 42); ok {
		t.Error("Account(42) should not exist")
	}
}

func TestRecordAudit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.RecordAudit(ctx, core.AuditRecord{
		Actor: "sweeper", Operation: core.AuditRecompute, PeriodID: 1, Rows: 3, CreatedAt: t0,
	}); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	recs, err := repo.AuditRecords(ctx, 10)
	if err != nil {
		t.Fatalf("AuditRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" || recs[0].Rows != 3 || recs[0].Operation != core.AuditRecompute {
		t.Errorf("unexpected record %+v", recs[0])
	}
}
