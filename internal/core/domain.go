package core

import (
	"errors"
	"fmt"
	"time"
)

const (
	PeriodOpen   PeriodState = "open"
	PeriodClosed PeriodState = "closed"

	Draft  PostingState = "draft"
	Posted PostingState = "posted"
)

// PostingFilter selects which ledger lines take part in an aggregation.
const (
	PostedOnly PostingFilter = iota
	AllLines
	DraftOnly
)

type (
	AccountID int64
	PeriodID  int64
	JournalID int64

	PeriodState   string
	PostingState  string
	PostingFilter int

	Money struct {
		Cents int64
	}

	Period struct {
		ID       PeriodID
		Name     string
		State    PeriodState
		Special  bool // opening/carry-forward periods are never cached
		ClosedAt time.Time
	}

	// JournalPeriod is the closing state of one journal within one period.
	// ClosedAt holds the time of its last state change.
	JournalPeriod struct {
		PeriodID  PeriodID
		JournalID JournalID
		State     PeriodState
		ClosedAt  time.Time
	}

	LedgerLine struct {
		ID             int64
		AccountID      AccountID
		PeriodID       PeriodID
		JournalID      JournalID
		Debit          Money
		Credit         Money
		AmountCurrency Money
		State          PostingState
	}

	// Key identifies one cache entry.
	Key struct {
		AccountID AccountID
		PeriodID  PeriodID
		JournalID JournalID
	}

	Totals struct {
		Debit           Money
		Credit          Money
		Balance         Money
		CurrencyBalance Money
	}

	// Entry is a grouped sum, either computed live or read from the cache.
	Entry struct {
		Key
		Totals
		CreatedAt time.Time
	}

	AccountBalance struct {
		AccountID AccountID
		Totals
	}
)

var (
	ErrInvalidID     = errors.New("invalid identifier")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidState  = errors.New("invalid posting state")
)

func (s PeriodState) Valid() bool {
	return s == PeriodOpen || s == PeriodClosed
}

func (s PostingState) Valid() bool {
	return s == Draft || s == Posted
}

// Cacheable reports whether balances of the period may be materialized.
func (p Period) Cacheable() bool {
	return p.State == PeriodClosed && !p.Special
}

// Covers reports whether an entry created at createdAt is still valid for
// this journal-period: the journal-period must be closed and its last state
// change must strictly precede the entry.
func (jp JournalPeriod) Covers(createdAt time.Time) bool {
	return jp.State == PeriodClosed && jp.ClosedAt.Before(createdAt)
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// NewTotals builds totals with balance = debit - credit.
func NewTotals(debit, credit, currency Money) Totals {
	return Totals{
		Debit:           debit,
		Credit:          credit,
		Balance:         debit.Sub(credit),
		CurrencyBalance: currency,
	}
}

// Add returns the field-wise sum of both totals.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Debit:           t.Debit.Add(o.Debit),
		Credit:          t.Credit.Add(o.Credit),
		Balance:         t.Balance.Add(o.Balance),
		CurrencyBalance: t.CurrencyBalance.Add(o.CurrencyBalance),
	}
}

func (t Totals) IsZero() bool {
	return t.Debit.IsZero() && t.Credit.IsZero() && t.Balance.IsZero() && t.CurrencyBalance.IsZero()
}

func (k Key) String() string {
	return fmt.Sprintf("account=%d period=%d journal=%d", k.AccountID, k.PeriodID, k.JournalID)
}

func (k Key) Validate() error {
	if k.AccountID <= 0 || k.PeriodID <= 0 || k.JournalID <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidID, k)
	}
	return nil
}

func (l LedgerLine) Validate() error {
	if err := (Key{AccountID: l.AccountID, PeriodID: l.PeriodID, JournalID: l.JournalID}).Validate(); err != nil {
		return err
	}
	if l.Debit.Cents < 0 || l.Credit.Cents < 0 {
		return ErrInvalidAmount
	}
	if !l.State.Valid() {
		return ErrInvalidState
	}
	return nil
}

// Key returns the cache key the line aggregates into.
func (l LedgerLine) Key() Key {
	return Key{AccountID: l.AccountID, PeriodID: l.PeriodID, JournalID: l.JournalID}
}
