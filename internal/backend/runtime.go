package backend

import (
	"context"
	"errors"
	"fmt"

	"ledgercache/internal/balance"
	"ledgercache/internal/cache"
	"ledgercache/internal/config"
	"ledgercache/internal/events/kafka"
	applog "ledgercache/internal/log"
	"ledgercache/internal/metrics"
	"ledgercache/internal/storage"
)

// Runtime bundles the balance service with the resources it owns.
type Runtime struct {
	Repository *storage.Repository
	Service    *balance.Service
	Tree       *cache.Tree

	manager *cache.Manager
	closers []CleanupFunc
}

// NewRuntime opens the configured backend and wires the balance service:
// memoised account tree, Prometheus metrics and, when brokers are
// configured, Kafka change events.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *applog.Logger, opts ...balance.Option) (*Runtime, error) {
	bcfg, err := FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := NewFactory(logger.WithComponent(applog.ComponentStorage).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Repository: res.Repository,
		Tree:       cache.NewTree(res.Repository, cfg.TreeCacheSize, cfg.TreeCacheTTL),
		manager:    cache.NewManager(),
		closers:    []CleanupFunc{res.Cleanup},
	}
	rt.manager.Register(rt.Tree)
	rt.manager.StartCleanup(cfg.TreeCacheTTL)

	base := []balance.Option{
		balance.WithLogger(logger.WithComponent(applog.ComponentBalance).Logger),
		balance.WithMetrics(metrics.Cache()),
		balance.WithActor(cfg.CacheActor),
		balance.WithAccountTree(rt.Tree),
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		rt.closers = append(rt.closers, pub.Close)
		base = append(base, balance.WithNotifier(pub))
		logger.InfoContext(ctx, "Kafka change events enabled", "topic", cfg.KafkaTopic)
	}

	rt.Service = balance.New(res.Repository, append(base, opts...)...)
	return rt, nil
}

// Close stops background cleanup and releases every resource, most recent
// first.
func (r *Runtime) Close() error {
	r.manager.Stop()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}
