package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgercache/internal/core"
)

// validJoin matches cache rows whose journal-period is closed and was last
// changed strictly before the row was written.
const validJoin = `
	JOIN periods p ON p.id = c.period_id
	JOIN journal_periods jp ON jp.period_id = c.period_id AND jp.journal_id = c.journal_id
		AND jp.state = 'closed' AND jp.closed_at < c.created_at`

// MissingKeys lists the (period, account, journal) triples that have posted
// lines in a closed journal-period of a non-special period but no valid cache
// row. A nil or empty periods slice searches every period.
func (r *Repository) MissingKeys(ctx context.Context, periods []core.PeriodID) ([]core.Key, error) {
	var (
		conds = []string{
			"l.state = ?",
			"NOT p.special",
			"jp.state = ?",
			"c.id IS NULL",
		}
		args = []any{string(core.Posted), string(core.PeriodClosed)}
	)
	if len(periods) > 0 {
		var cond string
		cond, args = inClause("l.period_id", periods, args)
		conds = append(conds, cond)
	}

	rows, err := r.query(ctx, `
		SELECT DISTINCT l.period_id, l.account_id, l.journal_id
		FROM ledger_lines l
		JOIN periods p ON p.id = l.period_id
		JOIN journal_periods jp ON jp.period_id = l.period_id AND jp.journal_id = l.journal_id
		LEFT JOIN balance_cache c
			ON c.account_id = l.account_id
			AND c.period_id = l.period_id
			AND c.journal_id = l.journal_id
			AND c.created_at > jp.closed_at
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY l.period_id, l.account_id, l.journal_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list missing balances: %w", err)
	}
	defer rows.Close()

	var out []core.Key
	for rows.Next() {
		var k core.Key
		if err := rows.Scan(&k.PeriodID, &k.AccountID, &k.JournalID); err != nil {
			return nil, fmt.Errorf("scan missing balance: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missing balances: %w", err)
	}
	return out, nil
}

// DeleteStale removes every cache row that is no longer valid: its period is
// special or gone, its journal-period is missing or not closed, or the
// journal-period changed at or after the row was written.
func (r *Repository) DeleteStale(ctx context.Context) (int64, error) {
	res, err := r.exec(ctx, `
		DELETE FROM balance_cache WHERE id IN (
			SELECT c.id FROM balance_cache c
			LEFT JOIN periods p ON p.id = c.period_id
			LEFT JOIN journal_periods jp ON jp.period_id = c.period_id AND jp.journal_id = c.journal_id
			WHERE p.id IS NULL
			   OR p.special
			   OR jp.period_id IS NULL
			   OR jp.state <> ?
			   OR jp.closed_at >= c.created_at
		)`, string(core.PeriodClosed))
	if err != nil {
		return 0, fmt.Errorf("delete stale balances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count stale balances: %w", err)
	}
	if n > 0 {
		slog.DebugContext(ctx, "Stale balances deleted", "rows", n)
	}
	return n, nil
}

// ReplaceEntry deletes any row for the entry's key and inserts the entry in
// one transaction. A concurrent writer that inserted the same key first wins:
// the unique violation is absorbed and reported as absorbed=true.
func (r *Repository) ReplaceEntry(ctx context.Context, e core.Entry) (absorbed bool, err error) {
	if err := e.Key.Validate(); err != nil {
		return false, err
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
			DELETE FROM balance_cache WHERE account_id = ? AND period_id = ? AND journal_id = ?`),
			int64(e.AccountID), int64(e.PeriodID), int64(e.JournalID)); err != nil {
			return fmt.Errorf("delete balance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
			INSERT INTO balance_cache
				(account_id, period_id, journal_id, debit, credit, balance, curr_balance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			int64(e.AccountID), int64(e.PeriodID), int64(e.JournalID),
			e.Debit.Cents, e.Credit.Cents, e.Balance.Cents, e.CurrencyBalance.Cents,
			toMicros(e.CreatedAt)); err != nil {
			return fmt.Errorf("insert balance: %w", err)
		}
		return nil
	})
	if isUniqueViolation(err) {
		slog.DebugContext(ctx, "Duplicate balance absorbed", "key", e.Key.String())
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// ReplaceEntries writes each entry with ReplaceEntry. It stops at the first
// error; rows already written stay committed.
func (r *Repository) ReplaceEntries(ctx context.Context, entries []core.Entry) (written, absorbed int, err error) {
	for _, e := range entries {
		dup, err := r.ReplaceEntry(ctx, e)
		if err != nil {
			return written, absorbed, err
		}
		if dup {
			absorbed++
			continue
		}
		written++
	}
	return written, absorbed, nil
}

// DeleteEntries removes the rows for the given keys in one transaction.
func (r *Repository) DeleteEntries(ctx context.Context, keys []core.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var total int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(`
			DELETE FROM balance_cache WHERE account_id = ? AND period_id = ? AND journal_id = ?`))
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer stmt.Close()

		for _, k := range keys {
			res, err := stmt.ExecContext(ctx, int64(k.AccountID), int64(k.PeriodID), int64(k.JournalID))
			if err != nil {
				return fmt.Errorf("delete balance %s: %w", k, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// DeletePeriodEntries removes every cache row of a period.
func (r *Repository) DeletePeriodEntries(ctx context.Context, period core.PeriodID) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM balance_cache WHERE period_id = ?`, int64(period))
	if err != nil {
		return 0, fmt.Errorf("delete period balances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count period balances: %w", err)
	}
	return n, nil
}

// ValidEntries returns the valid cache rows of the given periods, optionally
// restricted to accounts (nil means all accounts).
func (r *Repository) ValidEntries(ctx context.Context, periods []core.PeriodID, accounts []core.AccountID) ([]core.Entry, error) {
	if len(periods) == 0 || isEmptyFilter(accounts) {
		return nil, nil
	}

	cond, args := inClause("c.period_id", periods, nil)
	conds := []string{cond, "NOT p.special"}
	if accounts != nil {
		cond, args = inClause("c.account_id", accounts, args)
		conds = append(conds, cond)
	}

	rows, err := r.query(ctx, `
		SELECT c.period_id, c.account_id, c.journal_id,
		       c.debit, c.credit, c.balance, c.curr_balance, c.created_at
		FROM balance_cache c`+validJoin+`
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY c.period_id, c.account_id, c.journal_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list valid balances: %w", err)
	}
	return scanEntries(rows)
}

// Entries returns every cache row of a period, valid or not.
func (r *Repository) Entries(ctx context.Context, period core.PeriodID) ([]core.Entry, error) {
	rows, err := r.query(ctx, `
		SELECT c.period_id, c.account_id, c.journal_id,
		       c.debit, c.credit, c.balance, c.curr_balance, c.created_at
		FROM balance_cache c
		WHERE c.period_id = ?
		ORDER BY c.account_id, c.journal_id`, int64(period))
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return scanEntries(rows)
}

// CachedPairs returns the distinct (account, journal) pairs with a cache row
// in the period, restricted by the optional filters of q.
func (r *Repository) CachedPairs(ctx context.Context, period core.PeriodID, q core.LineQuery) ([]core.Pair, error) {
	if isEmptyFilter(q.Accounts) || isEmptyFilter(q.Journals) {
		return nil, nil
	}

	conds := []string{"period_id = ?"}
	args := []any{int64(period)}
	var cond string
	if q.Accounts != nil {
		cond, args = inClause("account_id", q.Accounts, args)
		conds = append(conds, cond)
	}
	if q.Journals != nil {
		cond, args = inClause("journal_id", q.Journals, args)
		conds = append(conds, cond)
	}

	rows, err := r.query(ctx, `
		SELECT DISTINCT account_id, journal_id
		FROM balance_cache
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY account_id, journal_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list cached pairs: %w", err)
	}
	return scanPairs(rows)
}

// RecordAudit stores one audit row for a privileged cache write.
func (r *Repository) RecordAudit(ctx context.Context, rec core.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.exec(ctx, `
		INSERT INTO balance_cache_audit (id, actor, operation, period_id, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Actor, rec.Operation, int64(rec.PeriodID), rec.Rows, toMicros(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// AuditRecords returns the most recent audit rows, newest first.
func (r *Repository) AuditRecords(ctx context.Context, limit int) ([]core.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.query(ctx, `
		SELECT id, actor, operation, period_id, row_count, created_at
		FROM balance_cache_audit
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []core.AuditRecord
	for rows.Next() {
		var (
			rec     core.AuditRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Operation, &rec.PeriodID, &rec.Rows, &created); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.CreatedAt = fromMicros(created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func scanEntries(rows *sql.Rows) ([]core.Entry, error) {
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var (
			e       core.Entry
			created int64
		)
		if err := rows.Scan(&e.PeriodID, &e.AccountID, &e.JournalID,
			&e.Debit.Cents, &e.Credit.Cents, &e.Balance.Cents, &e.CurrencyBalance.Cents, &created); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		e.CreatedAt = fromMicros(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}
