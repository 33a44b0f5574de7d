package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Rhymond/go-money"

	"ledgercache/internal/core"
	"ledgercache/internal/storage"
)

// Fixture is the on-disk ledger snapshot accepted by the load command.
type Fixture struct {
	Accounts []struct {
		ID       core.AccountID `json:"id"`
		Code     string         `json:"code"`
		ParentID core.AccountID `json:"parent_id"`
	} `json:"accounts"`
	Journals []struct {
		ID   core.JournalID `json:"id"`
		Code string         `json:"code"`
	} `json:"journals"`
	Periods []struct {
		ID      core.PeriodID `json:"id"`
		Name    string        `json:"name"`
		Special bool          `json:"special"`
	} `json:"periods"`
	Consolidations []struct {
		Parent core.AccountID `json:"parent"`
		Child  core.AccountID `json:"child"`
	} `json:"consolidations"`
	Lines []struct {
		AccountID      core.AccountID    `json:"account_id"`
		PeriodID       core.PeriodID     `json:"period_id"`
		JournalID      core.JournalID    `json:"journal_id"`
		Debit          core.Money        `json:"debit"`
		Credit         core.Money        `json:"credit"`
		AmountCurrency core.Money        `json:"amount_currency"`
		State          core.PostingState `json:"state"`
	} `json:"lines"`
}

func readFixture(path string) (*Fixture, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return decodeFixture(r)
}

func decodeFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &fx, nil
}

// ledgerLines converts fixture lines; a missing state means posted.
func (fx *Fixture) ledgerLines() ([]core.LedgerLine, error) {
	lines := make([]core.LedgerLine, 0, len(fx.Lines))
	for i, l := range fx.Lines {
		line := core.LedgerLine{
			AccountID:      l.AccountID,
			PeriodID:       l.PeriodID,
			JournalID:      l.JournalID,
			Debit:          l.Debit,
			Credit:         l.Credit,
			AmountCurrency: l.AmountCurrency,
			State:          l.State,
		}
		if line.State == "" {
			line.State = core.Posted
		}
		if err := line.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Apply inserts the fixture in dependency order. Lines go in one batch.
func (fx *Fixture) Apply(ctx context.Context, repo *storage.Repository) error {
	lines, err := fx.ledgerLines()
	if err != nil {
		return err
	}
	for _, a := range fx.Accounts {
		if err := repo.CreateAccount(ctx, core.Account{ID: a.ID, Code: a.Code, ParentID: a.ParentID}); err != nil {
			return err
		}
	}
	for _, j := range fx.Journals {
		if err := repo.CreateJournal(ctx, core.Journal{ID: j.ID, Code: j.Code}); err != nil {
			return err
		}
	}
	for _, p := range fx.Periods {
		if err := repo.CreatePeriod(ctx, core.Period{ID: p.ID, Name: p.Name, Special: p.Special}); err != nil {
			return err
		}
	}
	for _, c := range fx.Consolidations {
		if err := repo.AddConsolidation(ctx, c.Parent, c.Child); err != nil {
			return err
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return repo.AppendLines(ctx, lines)
}

// display formats cents in the ledger currency, e.g. "-€100.00".
func display(m core.Money, currency string) string {
	return money.New(m.Cents, currency).Display()
}
