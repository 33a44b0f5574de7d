package balance

import (
	"context"
	"log/slog"
	"time"

	"ledgercache/internal/core"
)

// DefaultActor is recorded on audit rows when no actor is configured.
const DefaultActor = "balance-cache"

// env carries the ambient dependencies shared by the components.
type env struct {
	logger   *slog.Logger
	now      func() time.Time
	notifier Notifier
	metrics  Metrics
	actor    string
}

func (e *env) audit(ctx context.Context, store CacheStore, op string, period core.PeriodID, rows int64) {
	rec := core.AuditRecord{
		Actor:     e.actor,
		Operation: op,
		PeriodID:  period,
		Rows:      int(rows),
		CreatedAt: e.now(),
	}
	if err := store.RecordAudit(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "Failed to record audit row",
			"operation", op, "period_id", period, "error", err)
	}
}

func (e *env) notify(ctx context.Context, kind ChangeKind, period core.PeriodID, rows int64) {
	ev := ChangeEvent{Kind: kind, PeriodID: period, Rows: rows, Actor: e.actor, At: e.now()}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish cache change",
			"kind", kind, "period_id", period, "error", err)
	}
}

// Service wires the balance cache components over one Store.
type Service struct {
	*Triggers

	Aggregator  *Aggregator
	Detector    *Detector
	Invalidator *Invalidator
	Writer      *Writer
	Query       *QueryService
}

// Option configures a Service.
type Option func(*options)

type options struct {
	env
	tree AccountTree
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now, which stamps cache entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier publishes cache mutations.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMetrics records cache instrumentation.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithActor names who performs privileged writes in the audit log.
func WithActor(actor string) Option {
	return func(o *options) { o.actor = actor }
}

// WithAccountTree overrides the store's account tree, typically with a
// memoising wrapper.
func WithAccountTree(tree AccountTree) Option {
	return func(o *options) { o.tree = tree }
}

// New builds a Service backed by store.
func New(store Store, opts ...Option) *Service {
	o := &options{
		env: env{
			logger:   slog.Default(),
			now:      time.Now,
			notifier: nopNotifier{},
			metrics:  nopMetrics{},
			actor:    DefaultActor,
		},
		tree: store,
	}
	for _, opt := range opts {
		opt(o)
	}

	e := &o.env
	agg := NewAggregator(store, store)
	det := NewDetector(store)
	inv := &Invalidator{cache: store, env: e}
	w := &Writer{
		periods:     store,
		cache:       store,
		aggregator:  agg,
		detector:    det,
		invalidator: inv,
		env:         e,
	}
	q := &QueryService{
		ledger:       store,
		periods:      store,
		cache:        store,
		aggregator:   agg,
		invalidator:  inv,
		consolidator: NewConsolidator(o.tree),
		env:          e,
	}
	t := &Triggers{
		periods:     store,
		cache:       store,
		detector:    det,
		invalidator: inv,
		writer:      w,
		env:         e,
	}

	return &Service{
		Triggers:    t,
		Aggregator:  agg,
		Detector:    det,
		Invalidator: inv,
		Writer:      w,
		Query:       q,
	}
}

// GetBalances is a shorthand for s.Query.GetBalances.
func (s *Service) GetBalances(ctx context.Context, q BalanceQuery) ([]core.AccountBalance, error) {
	return s.Query.GetBalances(ctx, q)
}

// Recompute is a shorthand for s.Writer.Recompute.
func (s *Service) Recompute(ctx context.Context, req RecomputeRequest) (RecomputeResult, error) {
	return s.Writer.Recompute(ctx, req)
}
