package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgercache/internal/balance"
	"ledgercache/internal/core"
	applog "ledgercache/internal/log"
)

// BalanceService is the part of balance.Service the API needs.
type BalanceService interface {
	GetBalances(ctx context.Context, q balance.BalanceQuery) ([]core.AccountBalance, error)
	OnPeriodClose(ctx context.Context, period core.PeriodID) (balance.RecomputeResult, error)
	OnJournalPeriodClose(ctx context.Context, period core.PeriodID, journal core.JournalID) (balance.RecomputeResult, error)
	OnPeriodReopen(ctx context.Context, period core.PeriodID) (int64, error)
	OnManualDeletion(ctx context.Context, keys []core.Key, mode balance.DeleteMode) (balance.RecomputeResult, error)
	Sweep(ctx context.Context) (balance.RecomputeResult, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the server. Zero values pick defaults.
type Options struct {
	Logger   *applog.Logger
	Ready    Pinger
	Gatherer prometheus.Gatherer

	// RateLimit caps mutating requests per client and minute; negative
	// disables limiting.
	RateLimit int
}

type Server struct {
	http.Server
	svc         BalanceService
	ready       Pinger
	logger      *applog.Logger
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, svc BalanceService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 60
	}

	s := &Server{
		svc:         svc,
		ready:       opts.Ready,
		logger:      opts.Logger,
		rateLimiter: newRateLimiter(opts.RateLimit, time.Minute),
		metrics:     &securityMetrics{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /balances", s.handleGetBalances)
	mux.Handle("POST /balances/delete", s.limited(s.handleDeleteBalances))
	mux.Handle("POST /periods/{id}/close", s.limited(s.handleClosePeriod))
	mux.Handle("POST /periods/{id}/reopen", s.limited(s.handleReopenPeriod))
	mux.Handle("POST /sweep", s.limited(s.handleSweep))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           applog.Middleware(s.logger)(s.withRequestChecks(withSecurityHeaders(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		// Recomputes of large periods are slow.
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequestChecks logs suspicious requests.
func (s *Server) withRequestChecks(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if detectSuspiciousRequest(r, s.metrics) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, extractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// limited applies the per-client rate limit.
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		if !s.rateLimiter.allow(clientIP, s.metrics) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, clientIP, applog.FieldPath, r.URL.Path)
			TooManyRequestsError().Write(w)
			return
		}
		next(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "unavailable", "database unreachable").Write(w)
			return
		}
	}
	NewJSONResponse().Payload(map[string]string{"status": "ready"}).Write(w)
}
