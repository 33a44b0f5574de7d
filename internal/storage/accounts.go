package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledgercache/internal/core"
)

// CreateAccount registers an account; a zero ParentID makes it a root.
func (r *Repository) CreateAccount(ctx context.Context, a core.Account) error {
	if a.ID <= 0 {
		return core.ErrInvalidID
	}
	var parent any
	if a.ParentID > 0 {
		parent = int64(a.ParentID)
	}
	if _, err := r.exec(ctx, `INSERT INTO accounts (id, code, parent_id) VALUES (?, ?, ?)`,
		int64(a.ID), a.Code, parent); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// CreateJournal registers a journal.
func (r *Repository) CreateJournal(ctx context.Context, j core.Journal) error {
	if j.ID <= 0 {
		return core.ErrInvalidID
	}
	if _, err := r.exec(ctx, `INSERT INTO journals (id, code) VALUES (?, ?)`, int64(j.ID), j.Code); err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	return nil
}

// AddConsolidation links child under parent for consolidated reporting.
// Linking the same pair twice is a no-op.
func (r *Repository) AddConsolidation(ctx context.Context, parent, child core.AccountID) error {
	if parent <= 0 || child <= 0 {
		return core.ErrInvalidID
	}
	_, err := r.exec(ctx, `
		INSERT INTO account_consolidation (parent_id, child_id) VALUES (?, ?)
		ON CONFLICT (parent_id, child_id) DO NOTHING`, int64(parent), int64(child))
	if err != nil {
		return fmt.Errorf("add consolidation: %w", err)
	}
	return nil
}

// Account looks up one account. The boolean is false when it does not exist.
func (r *Repository) Account(ctx context.Context, id core.AccountID) (core.Account, bool, error) {
	var (
		a      core.Account
		parent sql.NullInt64
	)
	err := r.queryRow(ctx, `SELECT id, code, parent_id FROM accounts WHERE id = ?`, int64(id)).
		Scan(&a.ID, &a.Code, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, false, nil
	}
	if err != nil {
		return core.Account{}, false, fmt.Errorf("get account %d: %w", id, err)
	}
	if parent.Valid {
		a.ParentID = core.AccountID(parent.Int64)
	}
	return a, true, nil
}

// Children returns the direct children of an account: hierarchy children
// and consolidation children, deduplicated.
func (r *Repository) Children(ctx context.Context, id core.AccountID) ([]core.AccountID, error) {
	rows, err := r.query(ctx, `
		SELECT id FROM accounts WHERE parent_id = ?
		UNION
		SELECT child_id FROM account_consolidation WHERE parent_id = ?
		ORDER BY 1`, int64(id), int64(id))
	if err != nil {
		return nil, fmt.Errorf("list account children: %w", err)
	}
	defer rows.Close()

	var out []core.AccountID
	for rows.Next() {
		var child core.AccountID
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("scan account child: %w", err)
		}
		out = append(out, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account children: %w", err)
	}
	return out, nil
}
