package core

import "time"

type (
	// LineQuery scopes a ledger aggregation. A nil filter slice means "no
	// filter"; a non-nil empty slice matches nothing.
	LineQuery struct {
		Periods  []PeriodID
		Accounts []AccountID
		Journals []JournalID
		Filter   PostingFilter
	}

	// Pair is an (account, journal) combination inside one period.
	Pair struct {
		AccountID AccountID
		JournalID JournalID
	}

	Account struct {
		ID       AccountID
		Code     string
		ParentID AccountID // zero for roots
	}

	Journal struct {
		ID   JournalID
		Code string
	}

	// AuditRecord documents one privileged write batch on the balance cache.
	AuditRecord struct {
		ID        string
		Actor     string
		Operation string
		PeriodID  PeriodID
		Rows      int
		CreatedAt time.Time
	}
)

// Audit operations.
const (
	AuditRecompute   = "recompute"
	AuditPurgeStale  = "purge_stale"
	AuditReopen      = "reopen"
	AuditManualPurge = "manual_delete"
)

// Key returns the cache key of the pair inside the given period.
func (p Pair) Key(period PeriodID) Key {
	return Key{AccountID: p.AccountID, PeriodID: period, JournalID: p.JournalID}
}
