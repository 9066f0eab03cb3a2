package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"budget/internal/analytics"
	"budget/internal/auth"
	"budget/internal/cache"
	"budget/internal/importer"
	"budget/internal/ledger"
	"budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/services"
)

const (
	defaultRequestTimeout = 7 * time.Second
	cacheCleanupInterval  = time.Minute
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Engine       *analytics.Engine
	Transactions *services.TransactionService
	Importer     *importer.Normalizer
	Credentials  auth.Credentials
	// Store is pinged by /readyz when it implements ledger.Pinger.
	Store  ledger.Finder
	Logger *log.Logger
}

// Option tunes the server.
type Option func(*options)

type options struct {
	requestTimeout time.Duration
	rateLimit      int
	trustedProxies []string
}

// WithRequestTimeout bounds every API request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithRateLimit sets the per-client budget for mutating requests.
func WithRateLimit(perMinute int) Option {
	return func(o *options) { o.rateLimit = perMinute }
}

// WithTrustedProxies adds proxy networks whose forwarding headers name the
// client. Loopback and private ranges are always trusted.
func WithTrustedProxies(cidrs ...string) Option {
	return func(o *options) { o.trustedProxies = append(o.trustedProxies, cidrs...) }
}

// Server wraps the HTTP server with the budget API routes and middleware.
type Server struct {
	http.Server

	engine       *analytics.Engine
	transactions *services.TransactionService
	importer     *importer.Normalizer
	credentials  auth.Credentials
	store        ledger.Finder
	logger       *log.Logger

	requestTimeout time.Duration

	traceMiddleware  *trace.Middleware
	securityDetector *security.Detector
	securityHeaders  *security.HeadersMiddleware
	rateLimiter      *ratelimit.Limiter
	cacheManager     *cache.Manager

	appMetrics   *appMetrics
	shutdownOnce sync.Once
}

// NewServer builds the API server listening on addr.
func NewServer(addr string, deps Deps, opts ...Option) *Server {
	o := options{requestTimeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}

	detector := security.NewDetector()
	for _, cidr := range o.trustedProxies {
		if err := detector.AddTrustedProxy(strings.TrimSpace(cidr)); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      o.requestTimeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine:           deps.Engine,
		transactions:     deps.Transactions,
		importer:         deps.Importer,
		credentials:      deps.Credentials,
		store:            deps.Store,
		logger:           logger.WithComponent(log.ComponentHTTP),
		requestTimeout:   o.requestTimeout,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP, logger),
		securityDetector: detector,
		securityHeaders:  security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: o.rateLimit}),
		cacheManager:     cache.NewManager(logger),
		appMetrics:       newAppMetrics(),
	}
	if s.importer == nil {
		s.importer = importer.New(importer.WithLogger(logger))
	}

	if s.engine != nil {
		if c := s.engine.Cleaner(); c != nil {
			s.cacheManager.Register(c)
			s.cacheManager.StartCleanup(cacheCleanupInterval)
		}
	}

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/analytics/monthly-trend", s.handleMonthlyTrend)
	api.HandleFunc("GET /api/analytics/cash-flow", s.handleCashFlow)
	api.HandleFunc("GET /api/analytics/profit-loss", s.handleProfitLoss)
	api.HandleFunc("GET /api/analytics/categories", s.handleCategories)
	api.HandleFunc("GET /api/analytics/overview", s.handleOverview)

	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	api.HandleFunc("GET /api/transactions/monthly-summary", s.handleMonthlySummary)
	api.HandleFunc("PUT /api/transactions/{id}", s.handleEditTransaction)
	api.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api.HandleFunc("POST /api/transactions/import", s.handleImportStage)
	api.HandleFunc("POST /api/transactions/import/confirm", s.handleImportConfirm)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("/api/", s.withTimeout(s.withOwner(api)))

	// Outermost last: trace, headers, detection, logger, rate limit.
	var h http.Handler = mux
	h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, mutating, s.onRateLimit)(h)
	h = log.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = log.Middleware(s.logger)(h)
	h = s.securityDetector.Middleware(s.logger)(h)
	h = s.securityHeaders.Middleware(h)
	h = s.traceMiddleware.Middleware(h)
	return h
}

// withOwner resolves the caller and stores the owner in the request context.
func (s *Server) withOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.credentials == nil {
			writeError(w, r, errNoCredentialResolver)
			return
		}
		owner, err := s.credentials.CurrentOwner(r)
		if err != nil {
			log.FromContext(r.Context()).WithComponent(log.ComponentAuth).WarnContext(r.Context(), "Request not authenticated",
				log.NewFields().
					WithHTTPRequest(r.Method, r.URL.Path, "", r.Header.Get("User-Agent")).
					WithClientIP(s.securityDetector.ExtractClientIP(r)).
					WithError(err, log.ErrorTypeAuth).
					ToSlice()...)
			writeError(w, r, err)
			return
		}
		ctx := auth.WithOwner(r.Context(), owner)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldOwner, owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTimeout bounds the request context. Handlers observe the deadline
// through the stores they call.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	writeRateLimited(w, r)
}

// Shutdown stops background workers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
		s.rateLimiter.Stop()
		s.cacheManager.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
