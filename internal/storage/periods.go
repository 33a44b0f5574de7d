package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgercache/internal/core"
)

// Period returns the period with the given id or core.ErrUnknownPeriod.
func (r *Repository) Period(ctx context.Context, id core.PeriodID) (core.Period, error) {
	var (
		p        core.Period
		state    string
		closedAt int64
	)
	err := r.queryRow(ctx, `SELECT id, name, state, special, closed_at FROM periods WHERE id = ?`, int64(id)).
		Scan(&p.ID, &p.Name, &state, &p.Special, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Period{}, fmt.Errorf("%w: %d", core.ErrUnknownPeriod, id)
	}
	if err != nil {
		return core.Period{}, fmt.Errorf("get period %d: %w", id, err)
	}
	p.State = core.PeriodState(state)
	p.ClosedAt = fromMicros(closedAt)
	return p, nil
}

// Periods returns the requested periods keyed by id. Ids absent from the
// registry are reported with core.ErrUnknownPeriod.
func (r *Repository) Periods(ctx context.Context, ids []core.PeriodID) (map[core.PeriodID]core.Period, error) {
	out := make(map[core.PeriodID]core.Period, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cond, args := inClause("id", ids, nil)
	rows, err := r.query(ctx, `SELECT id, name, state, special, closed_at FROM periods WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	if err := scanPeriods(rows, out); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %d", core.ErrUnknownPeriod, id)
		}
	}
	return out, nil
}

// JournalPeriod returns the state of one journal within one period. A
// missing row is reported as an open journal-period.
func (r *Repository) JournalPeriod(ctx context.Context, period core.PeriodID, journal core.JournalID) (core.JournalPeriod, error) {
	jp := core.JournalPeriod{PeriodID: period, JournalID: journal, State: core.PeriodOpen}
	var (
		state    string
		closedAt int64
	)
	err := r.queryRow(ctx, `
		SELECT state, closed_at FROM journal_periods
		WHERE period_id = ? AND journal_id = ?`, int64(period), int64(journal)).Scan(&state, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return jp, nil
	}
	if err != nil {
		return jp, fmt.Errorf("get journal period: %w", err)
	}
	jp.State = core.PeriodState(state)
	jp.ClosedAt = fromMicros(closedAt)
	return jp, nil
}

// CreatePeriod registers a period.
func (r *Repository) CreatePeriod(ctx context.Context, p core.Period) error {
	if p.ID <= 0 {
		return core.ErrInvalidID
	}
	state := p.State
	if state == "" {
		state = core.PeriodOpen
	}
	if !state.Valid() {
		return fmt.Errorf("invalid period state %q", state)
	}
	_, err := r.exec(ctx, `
		INSERT INTO periods (id, name, state, special, closed_at) VALUES (?, ?, ?, ?, ?)`,
		int64(p.ID), p.Name, string(state), p.Special, toMicros(p.ClosedAt))
	if err != nil {
		return fmt.Errorf("create period: %w", err)
	}
	return nil
}

// ClosePeriod closes a period and every journal-period in it at the given
// time. Journals with lines but no journal-period row get one first.
// Journal-periods already closed keep their earlier timestamp so cache rows
// computed for them stay valid.
func (r *Repository) ClosePeriod(ctx context.Context, id core.PeriodID, at time.Time) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.rebind(`
			UPDATE periods SET state = ?, closed_at = ? WHERE id = ?`),
			string(core.PeriodClosed), toMicros(at), int64(id))
		if err != nil {
			return fmt.Errorf("close period: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", core.ErrUnknownPeriod, id)
		}

		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
			INSERT INTO journal_periods (period_id, journal_id, state, closed_at)
			SELECT DISTINCT l.period_id, l.journal_id, ?, 0
			FROM ledger_lines l
			WHERE l.period_id = ?
			  AND NOT EXISTS (
			    SELECT 1 FROM journal_periods jp
			    WHERE jp.period_id = l.period_id AND jp.journal_id = l.journal_id)`),
			string(core.PeriodOpen), int64(id)); err != nil {
			return fmt.Errorf("backfill journal periods: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
			UPDATE journal_periods SET state = ?, closed_at = ?
			WHERE period_id = ? AND state <> ?`),
			string(core.PeriodClosed), toMicros(at), int64(id), string(core.PeriodClosed)); err != nil {
			return fmt.Errorf("close journal periods: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Period closed", "period_id", id, "closed_at", at.Format(time.RFC3339))
	return nil
}

// CloseJournalPeriod closes one journal within a period, independently of
// the period's own state.
func (r *Repository) CloseJournalPeriod(ctx context.Context, period core.PeriodID, journal core.JournalID, at time.Time) error {
	return r.setJournalPeriod(ctx, period, journal, core.PeriodClosed, at)
}

// ReopenJournalPeriod reopens one journal within a period.
func (r *Repository) ReopenJournalPeriod(ctx context.Context, period core.PeriodID, journal core.JournalID, at time.Time) error {
	return r.setJournalPeriod(ctx, period, journal, core.PeriodOpen, at)
}

func (r *Repository) setJournalPeriod(ctx context.Context, period core.PeriodID, journal core.JournalID, state core.PeriodState, at time.Time) error {
	_, err := r.exec(ctx, `
		INSERT INTO journal_periods (period_id, journal_id, state, closed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (period_id, journal_id) DO UPDATE SET state = excluded.state, closed_at = excluded.closed_at`,
		int64(period), int64(journal), string(state), toMicros(at))
	if err != nil {
		return fmt.Errorf("set journal period state: %w", err)
	}

	slog.InfoContext(ctx, "Journal period state changed",
		"period_id", period, "journal_id", journal, "state", state)
	return nil
}

// ReopenPeriod reopens a period and all of its journal-periods. The
// journal-period timestamp records the reopening so that any cache row
// written before it is stale.
func (r *Repository) ReopenPeriod(ctx context.Context, id core.PeriodID, at time.Time) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.rebind(`
			UPDATE periods SET state = ? WHERE id = ?`), string(core.PeriodOpen), int64(id))
		if err != nil {
			return fmt.Errorf("reopen period: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", core.ErrUnknownPeriod, id)
		}

		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
			UPDATE journal_periods SET state = ?, closed_at = ? WHERE period_id = ?`),
			string(core.PeriodOpen), toMicros(at), int64(id)); err != nil {
			return fmt.Errorf("reopen journal periods: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Period reopened", "period_id", id)
	return nil
}

func scanPeriods(rows *sql.Rows, into map[core.PeriodID]core.Period) error {
	defer rows.Close()

	for rows.Next() {
		var (
			p        core.Period
			state    string
			closedAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &state, &p.Special, &closedAt); err != nil {
			return fmt.Errorf("scan period: %w", err)
		}
		p.State = core.PeriodState(state)
		p.ClosedAt = fromMicros(closedAt)
		into[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate periods: %w", err)
	}
	return nil
}
