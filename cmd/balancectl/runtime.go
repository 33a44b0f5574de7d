package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"ledgercache/internal/amqp"
	"ledgercache/internal/backend"
	"ledgercache/internal/config"
	"ledgercache/internal/core"
	applog "ledgercache/internal/log"
)

// Commands lists every balancectl subcommand.
var Commands = []subcommands.Command{
	&loadCmd{},
	&closeCmd{},
	&reopenCmd{},
	&recomputeCmd{},
	&deleteCmd{},
	&sweepCmd{},
	&balancesCmd{},
}

func openRuntime(ctx context.Context) (*backend.Runtime, *config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := applog.New(applog.Config{Level: cfg.SlogLevel(), Component: applog.ComponentCLI, Output: os.Stderr})
	applog.SetDefault(logger)

	rt, err := backend.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, cfg, nil
}

// run opens the runtime, calls fn and maps its error to an exit status.
func run(ctx context.Context, fn func(context.Context, *backend.Runtime, *config.Config) error) subcommands.ExitStatus {
	rt, cfg, err := openRuntime(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer rt.Close()

	if err := fn(ctx, rt, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStatus(err)
	}
	return subcommands.ExitSuccess
}

// publish hands a lifecycle message to the worker instead of running the
// trigger in this process.
func publish(ctx context.Context, cfg *config.Config, msg *amqp.LifecycleMessage) error {
	if cfg.AMQPURL == "" {
		return errors.New("-async requires AMQP_URL")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Publish(ctx, msg); err != nil {
		return err
	}
	fmt.Printf("published %s\n", msg.Type)
	return nil
}

func exitStatus(err error) subcommands.ExitStatus {
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, core.ErrPeriodNotClosed),
		errors.Is(err, core.ErrUnknownPeriod),
		errors.Is(err, core.ErrEmptyScope),
		errors.Is(err, core.ErrInvalidID):
		return subcommands.ExitUsageError
	default:
		return subcommands.ExitFailure
	}
}

// parseIDs parses "1,2,3". An empty string yields nil, meaning no filter.
func parseIDs[T ~int64](raw string) ([]T, error) {
	var ids []T
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidID, part)
		}
		ids = append(ids, T(v))
	}
	return ids, nil
}

// parseKeys parses "account:period:journal" triples separated by commas.
func parseKeys(raw string) ([]core.Key, error) {
	var keys []core.Key
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: key %q must be account:period:journal", core.ErrInvalidID, part)
		}
		ids, err := parseIDs[int64](strings.Join(fields, ","))
		if err != nil || len(ids) != 3 {
			return nil, fmt.Errorf("%w: key %q", core.ErrInvalidID, part)
		}
		keys = append(keys, core.Key{
			AccountID: core.AccountID(ids[0]),
			PeriodID:  core.PeriodID(ids[1]),
			JournalID: core.JournalID(ids[2]),
		})
	}
	return keys, nil
}
