package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"ledgercache/internal/amqp"
	"ledgercache/internal/backend"
	"ledgercache/internal/balance"
	"ledgercache/internal/config"
	"ledgercache/internal/core"
)

type sweepCmd struct {
	async bool
}

func (*sweepCmd) Name() string     { return "sweep" }
func (*sweepCmd) Synopsis() string { return "purge stale cache rows and fill missing ones" }
func (*sweepCmd) Usage() string {
	return `sweep [-async]:
  Run one full sweep over every closed period.
`
}
func (c *sweepCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.async, "async", false, "ask the worker to sweep over AMQP")
}

func (c *sweepCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, rt *backend.Runtime, cfg *config.Config) error {
		if c.async {
			return publish(ctx, cfg, amqp.NewSweepRequestedMessage())
		}
		res, err := rt.Service.Sweep(ctx)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

type recomputeCmd struct {
	periods  string
	accounts string
	journals string
}

func (*recomputeCmd) Name() string     { return "recompute" }
func (*recomputeCmd) Synopsis() string { return "rebuild cache rows for closed periods" }
func (*recomputeCmd) Usage() string {
	return `recompute -periods <ids> [-accounts <ids>] [-journals <ids>]:
  Recompute cached balances. Every period must be closed.
`
}

func (c *recomputeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.periods, "periods", "", "comma separated period ids (required)")
	f.StringVar(&c.accounts, "accounts", "", "restrict to these account ids")
	f.StringVar(&c.journals, "journals", "", "restrict to these journal ids")
}

func (c *recomputeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req, err := c.request()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, rt *backend.Runtime, _ *config.Config) error {
		res, err := rt.Service.Recompute(ctx, req)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

func (c *recomputeCmd) request() (balance.RecomputeRequest, error) {
	var req balance.RecomputeRequest
	var err error
	if req.Periods, err = parseIDs[core.PeriodID](c.periods); err != nil {
		return req, err
	}
	if len(req.Periods) == 0 {
		return req, fmt.Errorf("%w: -periods is required", core.ErrEmptyScope)
	}
	if req.Accounts, err = parseIDs[core.AccountID](c.accounts); err != nil {
		return req, err
	}
	if req.Journals, err = parseIDs[core.JournalID](c.journals); err != nil {
		return req, err
	}
	return req, nil
}

type balancesCmd struct {
	periods     string
	accounts    string
	draft       bool
	consolidate bool
}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "print account balances" }
func (*balancesCmd) Usage() string {
	return `balances -periods <ids> -accounts <ids> [-draft] [-consolidate]:
  Print debit, credit and balance per account.
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.periods, "periods", "", "comma separated period ids (required)")
	f.StringVar(&c.accounts, "accounts", "", "comma separated account ids (required)")
	f.BoolVar(&c.draft, "draft", false, "include draft lines")
	f.BoolVar(&c.consolidate, "consolidate", false, "fold descendant accounts into each account")
}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	q := balance.BalanceQuery{IncludeDraft: c.draft, Consolidate: c.consolidate}
	var err error
	if q.Periods, err = parseIDs[core.PeriodID](c.periods); err == nil {
		q.Accounts, err = parseIDs[core.AccountID](c.accounts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	return run(ctx, func(ctx context.Context, rt *backend.Runtime, cfg *config.Config) error {
		lines, err := rt.Service.GetBalances(ctx, q)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "account\tdebit\tcredit\tbalance\t")
		for _, l := range lines {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", l.AccountID,
				display(l.Debit, cfg.Currency), display(l.Credit, cfg.Currency), display(l.Balance, cfg.Currency))
		}
		return w.Flush()
	})
}

type closeCmd struct {
	period  int64
	journal int64
	async   bool
}

func (*closeCmd) Name() string     { return "close" }
func (*closeCmd) Synopsis() string { return "close a period or journal-period and cache it" }
func (*closeCmd) Usage() string {
	return `close -period <id> [-journal <id>] [-async]:
  Close the period (or one journal within it) and write its balances.
`
}

func (c *closeCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.period, "period", 0, "period id")
	f.Int64Var(&c.journal, "journal", 0, "close only this journal")
	f.BoolVar(&c.async, "async", false, "leave the recompute to the worker")
}

func (c *closeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.period <= 0 || c.journal < 0 {
		fmt.Fprintln(os.Stderr, "close: -period is required")
		return subcommands.ExitUsageError
	}
	period, journal := core.PeriodID(c.period), core.JournalID(c.journal)

	return run(ctx, func(ctx context.Context, rt *backend.Runtime, cfg *config.Config) error {
		var res balance.RecomputeResult
		var err error
		if journal != 0 {
			if err = rt.Repository.CloseJournalPeriod(ctx, period, journal, time.Now()); err != nil {
				return err
			}
			if c.async {
				return publish(ctx, cfg, amqp.NewJournalPeriodClosedMessage(period, journal))
			}
			res, err = rt.Service.OnJournalPeriodClose(ctx, period, journal)
		} else {
			if err = rt.Repository.ClosePeriod(ctx, period, time.Now()); err != nil {
				return err
			}
			if c.async {
				return publish(ctx, cfg, amqp.NewPeriodClosedMessage(period))
			}
			res, err = rt.Service.OnPeriodClose(ctx, period)
		}
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

type reopenCmd struct {
	period int64
	async  bool
}

func (*reopenCmd) Name() string     { return "reopen" }
func (*reopenCmd) Synopsis() string { return "reopen a period and drop its cache rows" }
func (*reopenCmd) Usage() string {
	return `reopen -period <id> [-async]:
  Reopen the period with all its journals and remove its cached balances.
`
}

func (c *reopenCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.period, "period", 0, "period id")
	f.BoolVar(&c.async, "async", false, "leave the purge to the worker")
}

func (c *reopenCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.period <= 0 {
		fmt.Fprintln(os.Stderr, "reopen: -period is required")
		return subcommands.ExitUsageError
	}
	period := core.PeriodID(c.period)

	return run(ctx, func(ctx context.Context, rt *backend.Runtime, cfg *config.Config) error {
		if err := rt.Repository.ReopenPeriod(ctx, period, time.Now()); err != nil {
			return err
		}
		if c.async {
			return publish(ctx, cfg, amqp.NewPeriodReopenedMessage(period))
		}
		n, err := rt.Service.OnPeriodReopen(ctx, period)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d rows\n", n)
		return nil
	})
}

type deleteCmd struct {
	keys          string
	skipRecompute bool
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete cache rows by key" }
func (*deleteCmd) Usage() string {
	return `delete -keys <account:period:journal,...> [-skip-recompute]:
  Delete the given cache rows and, unless told otherwise, rebuild them.
`
}

func (c *deleteCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.keys, "keys", "", "comma separated account:period:journal keys")
	f.BoolVar(&c.skipRecompute, "skip-recompute", false, "leave the deleted rows missing")
}

func (c *deleteCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	keys, err := parseKeys(c.keys)
	if err == nil && len(keys) == 0 {
		err = fmt.Errorf("%w: -keys is required", core.ErrEmptyScope)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	mode := balance.RecomputeAfterDelete
	if c.skipRecompute {
		mode = balance.SkipRecompute
	}

	return run(ctx, func(ctx context.Context, rt *backend.Runtime, _ *config.Config) error {
		res, err := rt.Service.OnManualDeletion(ctx, keys, mode)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

type loadCmd struct {
	file string
}

func (*loadCmd) Name() string     { return "load" }
func (*loadCmd) Synopsis() string { return "load ledger data from a JSON file" }
func (*loadCmd) Usage() string {
	return `load -file <path>:
  Insert accounts, journals, periods, consolidations and ledger lines.
`
}

func (c *loadCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "fixture path, - for stdin")
}

func (c *loadCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "load: -file is required")
		return subcommands.ExitUsageError
	}
	fx, err := readFixture(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	return run(ctx, func(ctx context.Context, rt *backend.Runtime, _ *config.Config) error {
		if err := fx.Apply(ctx, rt.Repository); err != nil {
			return err
		}
		rt.Tree.Invalidate()
		fmt.Printf("loaded %d accounts, %d journals, %d periods, %d lines\n",
			len(fx.Accounts), len(fx.Journals), len(fx.Periods), len(fx.Lines))
		return nil
	})
}

func printResult(res balance.RecomputeResult) {
	fmt.Printf("written=%d absorbed=%d purged=%d periods=%v\n", res.Written, res.Absorbed, res.Purged, res.Periods)
}
