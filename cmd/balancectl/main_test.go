package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"ledgercache/internal/core"
	"ledgercache/internal/storage"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		raw     string
		want    []core.PeriodID
		wantErr bool
	}{
		{raw: "", want: nil},
		{raw: "1, 2,,3", want: []core.PeriodID{1, 2, 3}},
		{raw: "1,x", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseIDs[core.PeriodID](tt.raw)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidID) {
					t.Fatalf("expected ErrInvalidID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIDs: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseKeys(t *testing.T) {
	keys, err := parseKeys("1:2:3, 4:5:6")
	if err != nil {
		t.Fatalf("parseKeys: %v", err)
	}
	if len(keys) != 2 || keys[1] != (core.Key{AccountID: 4, PeriodID: 5, JournalID: 6}) {
		t.Errorf("keys = %v", keys)
	}

	for _, bad := range []string{"1:2", "1:2:3:4", "a:2:3", "1:0:3"} {
		if _, err := parseKeys(bad); !errors.Is(err, core.ErrInvalidID) {
			t.Errorf("parseKeys(%q) = %v, want ErrInvalidID", bad, err)
		}
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		err  error
		want subcommands.ExitStatus
	}{
		{nil, subcommands.ExitSuccess},
		{core.ErrPeriodNotClosed, subcommands.ExitUsageError},
		{core.ErrUnknownPeriod, subcommands.ExitUsageError},
		{errors.New("disk full"), subcommands.ExitFailure},
	}
	for _, tt := range tests {
		if got := exitStatus(tt.err); got != tt.want {
			t.Errorf("exitStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := display(core.Money{Cents: -10000}, "EUR"); !strings.Contains(got, "100.00") || !strings.HasPrefix(got, "-") {
		t.Errorf("display = %q", got)
	}
}

const sampleFixture = `{
  "accounts": [{"id": 1, "code": "cash"}, {"id": 2, "code": "sales"}, {"id": 3, "code": "petty", "parent_id": 1}],
  "journals": [{"id": 10, "code": "SAL"}],
  "periods": [{"id": 1, "name": "2024-01"}, {"id": 2, "name": "opening", "special": true}],
  "consolidations": [{"parent": 2, "child": 1}],
  "lines": [
    {"account_id": 1, "period_id": 1, "journal_id": 10, "debit": "100.00", "credit": "0"},
    {"account_id": 2, "period_id": 1, "journal_id": 10, "debit": "0", "credit": "100.00", "state": "posted"},
    {"account_id": 3, "period_id": 1, "journal_id": 10, "debit": "1.50", "credit": "0", "state": "draft"}
  ]
}`

func TestFixture_Apply(t *testing.T) {
	fx, err := decodeFixture(strings.NewReader(sampleFixture))
	if err != nil {
		t.Fatalf("decodeFixture: %v", err)
	}

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ctl.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := fx.Apply(ctx, repo); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	p, err := repo.Period(ctx, 2)
	if err != nil {
		t.Fatalf("Period: %v", err)
	}
	if !p.Special || p.State != core.PeriodOpen {
		t.Errorf("period = %+v", p)
	}

	sums, err := repo.SumLines(ctx, core.LineQuery{Periods: []core.PeriodID{1}, Filter: core.PostedOnly})
	if err != nil {
		t.Fatalf("SumLines: %v", err)
	}
	var debit int64
	for _, e := range sums {
		debit += e.Debit.Cents
	}
	if debit != 10000 {
		t.Errorf("posted debit = %d, want 10000", debit)
	}

	children, err := repo.Children(ctx, 1)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0] != 3 {
		t.Errorf("children of 1 = %v", children)
	}
}

func TestFixture_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": `{"ledgers": []}`,
		"bad amount":    `{"lines": [{"account_id": 1, "period_id": 1, "journal_id": 1, "debit": "abc"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeFixture(strings.NewReader(raw)); err == nil {
				t.Error("expected a decode error")
			}
		})
	}

	fx, err := decodeFixture(strings.NewReader(`{"lines": [{"account_id": 1, "period_id": 1, "journal_id": 1, "debit": "-1"}]}`))
	if err != nil {
		t.Fatalf("decodeFixture: %v", err)
	}
	if _, err := fx.ledgerLines(); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
