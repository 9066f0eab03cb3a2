package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"budget/internal/ledger"
)

const readinessTimeout = 2 * time.Second

// appMetrics counts domain activity served by this process.
type appMetrics struct {
	uptime              time.Time
	transactionsCreated int64
	transactionsUpdated int64
	transactionsDeleted int64
	importRowsStaged    int64
	importRowsConfirmed int64
	importRowsFailed    int64
}

func newAppMetrics() *appMetrics {
	return &appMetrics{uptime: time.Now()}
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady reports whether the ledger store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	switch store := s.store.(type) {
	case nil:
		checks["store"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	case ledger.Pinger:
		if err := store.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", "check", "store", "error", err)
			checks["store"] = "failed"
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	default:
		checks["store"] = "ok"
	}

	cacheEntries := 0
	if s.engine != nil {
		cacheEntries = s.engine.CacheSize()
	}
	checks["cache"] = map[string]any{"entries": cacheEntries, "status": "ok"}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	cacheEntries := 0
	if s.engine != nil {
		cacheEntries = s.engine.CacheSize()
	}

	metrics := []struct {
		name, help, typ string
		value           any
	}{
		{"http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests},
		{"http_server_errors_total", "Responses with a 5xx status", "counter", traceMetrics.ServerErrors},
		{"http_response_time_avg_microseconds", "Mean response time", "gauge", traceMetrics.AverageResponseTime},
		{"transactions_created_total", "Transactions created through the API", "counter", atomic.LoadInt64(&s.appMetrics.transactionsCreated)},
		{"transactions_updated_total", "Transactions edited through the API", "counter", atomic.LoadInt64(&s.appMetrics.transactionsUpdated)},
		{"transactions_deleted_total", "Transactions deleted through the API", "counter", atomic.LoadInt64(&s.appMetrics.transactionsDeleted)},
		{"import_rows_staged_total", "Spreadsheet rows normalized for review", "counter", atomic.LoadInt64(&s.appMetrics.importRowsStaged)},
		{"import_rows_confirmed_total", "Imported rows persisted", "counter", atomic.LoadInt64(&s.appMetrics.importRowsConfirmed)},
		{"import_rows_failed_total", "Imported rows rejected on confirmation", "counter", atomic.LoadInt64(&s.appMetrics.importRowsFailed)},
		{"analytics_cache_entries", "Memoized analytics results", "gauge", cacheEntries},
		{"rate_limit_hits_total", "Requests rejected by the rate limiter", "counter", rateLimitMetrics.TotalHits},
		{"active_rate_limit_clients", "Clients tracked by the rate limiter", "gauge", rateLimitMetrics.ClientCount},
		{"suspicious_requests_total", "Requests flagged by the security detector", "counter", securityMetrics.SuspiciousRequests},
		{"invalid_ip_attempts_total", "Unparseable client or forwarded addresses", "counter", securityMetrics.InvalidIPAttempts},
		{"uptime_seconds", "Process uptime", "gauge", int64(time.Since(s.appMetrics.uptime).Seconds())},
	}

	w.WriteHeader(http.StatusOK)
	for _, m := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", m.name, m.typ)
		fmt.Fprintf(w, "%s %v\n\n", m.name, m.value)
	}
}
