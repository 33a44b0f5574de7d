package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"ledgercache/internal/core"
)

// SumLines returns debit/credit/balance/currency sums grouped by
// (period, account, journal) for the lines matching q.
func (r *Repository) SumLines(ctx context.Context, q core.LineQuery) ([]core.Entry, error) {
	if len(q.Periods) == 0 || isEmptyFilter(q.Accounts) || isEmptyFilter(q.Journals) {
		return nil, nil
	}

	where, args := lineFilter("", q)
	rows, err := r.query(ctx, `
		SELECT period_id, account_id, journal_id,
		       COALESCE(SUM(debit), 0),
		       COALESCE(SUM(credit), 0),
		       COALESCE(SUM(debit), 0) - COALESCE(SUM(credit), 0),
		       COALESCE(SUM(amount_currency), 0)
		FROM ledger_lines
		WHERE `+where+`
		GROUP BY period_id, account_id, journal_id
		ORDER BY period_id, account_id, journal_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sum ledger lines: %w", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		if err := rows.Scan(&e.PeriodID, &e.AccountID, &e.JournalID,
			&e.Debit.Cents, &e.Credit.Cents, &e.Balance.Cents, &e.CurrencyBalance.Cents); err != nil {
			return nil, fmt.Errorf("scan ledger sum: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger sums: %w", err)
	}
	return out, nil
}

// ActivePairs returns the distinct (account, journal) pairs with lines in
// the period, restricted by the optional filters of q.
func (r *Repository) ActivePairs(ctx context.Context, period core.PeriodID, q core.LineQuery) ([]core.Pair, error) {
	if isEmptyFilter(q.Accounts) || isEmptyFilter(q.Journals) {
		return nil, nil
	}
	q.Periods = []core.PeriodID{period}

	where, args := lineFilter("", q)
	rows, err := r.query(ctx, `
		SELECT DISTINCT account_id, journal_id
		FROM ledger_lines
		WHERE `+where+`
		ORDER BY account_id, journal_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}
	return scanPairs(rows)
}

// AppendLines stores ledger lines in one transaction. The cache core never
// writes lines; this exists for loaders and tests acting as the ledger.
func (r *Repository) AppendLines(ctx context.Context, lines []core.LedgerLine) error {
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("validate line: %w", err)
		}
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(`
			INSERT INTO ledger_lines (account_id, period_id, journal_id, debit, credit, amount_currency, state)
			VALUES (?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range lines {
			if _, err := stmt.ExecContext(ctx, int64(l.AccountID), int64(l.PeriodID), int64(l.JournalID),
				l.Debit.Cents, l.Credit.Cents, l.AmountCurrency.Cents, string(l.State)); err != nil {
				return fmt.Errorf("insert ledger line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "Ledger lines appended", "count", len(lines))
	return nil
}

// lineFilter renders the WHERE clause for q; alias prefixes column names.
func lineFilter(alias string, q core.LineQuery) (string, []any) {
	var (
		conds []string
		args  []any
		cond  string
	)

	cond, args = inClause(alias+"period_id", q.Periods, args)
	conds = append(conds, cond)

	if q.Accounts != nil {
		cond, args = inClause(alias+"account_id", q.Accounts, args)
		conds = append(conds, cond)
	}
	if q.Journals != nil {
		cond, args = inClause(alias+"journal_id", q.Journals, args)
		conds = append(conds, cond)
	}

	switch q.Filter {
	case core.PostedOnly:
		conds = append(conds, alias+"state = ?")
		args = append(args, string(core.Posted))
	case core.DraftOnly:
		conds = append(conds, alias+"state = ?")
		args = append(args, string(core.Draft))
	}

	return strings.Join(conds, " AND "), args
}

func isEmptyFilter[T any](ids []T) bool {
	return ids != nil && len(ids) == 0
}

func scanPairs(rows *sql.Rows) ([]core.Pair, error) {
	defer rows.Close()

	var out []core.Pair
	for rows.Next() {
		var p core.Pair
		if err := rows.Scan(&p.AccountID, &p.JournalID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return out, nil
}
