// Package analytics turns an owner's ledger into time bucketed series.
//
// Every query is anchored on an injected reference instant so results are
// reproducible; "today" and "this month" are computed in the engine's
// location.
package analytics

import (
	"context"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/log"

	"cloud.google.com/go/civil"
)

// Clock returns the reference instant for a query.
type Clock func() time.Time

// Engine answers analytics queries for one ledger.
type Engine struct {
	store  ledger.Finder
	now    Clock
	loc    *time.Location
	logger *log.Logger
	cache  *resultCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now as the reference instant.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

// WithLocation sets where calendar days begin. Nil keeps UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger reports store failures to l.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent(log.ComponentAnalytics) }
}

// WithCache memoizes results per owner for ttl, holding at most size entries.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Engine) { e.cache = newResultCache(size, ttl) }
}

// NewEngine returns an uncached engine over store, in UTC, unless opts say
// otherwise.
func NewEngine(store ledger.Finder, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		now:    time.Now,
		loc:    time.UTC,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today is the calendar date of the reference instant.
func (e *Engine) Today() civil.Date {
	return civil.DateOf(e.now().In(e.loc))
}

// Invalidate drops cached results for owner. Call it after every write.
func (e *Engine) Invalidate(owner string) {
	if e.cache != nil {
		e.cache.invalidate(owner)
	}
}

// CacheSize reports the number of memoized results.
func (e *Engine) CacheSize() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.entries.Size()
}

// Cleaner exposes the result cache for periodic expiry, or nil.
func (e *Engine) Cleaner() interface{ CleanExpired() int } {
	if e.cache == nil {
		return nil
	}
	return e.cache.entries
}

func (e *Engine) find(ctx context.Context, q ledger.Query, what string) ([]core.Transaction, error) {
	txs, err := e.store.Find(ctx, q)
	if err != nil {
		e.logger.ErrorContext(ctx, "Ledger query failed",
			log.FieldOwner, q.Owner,
			log.FieldOperation, what,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		return nil, core.NewUpstream("failed to fetch "+what+" data", err)
	}
	return txs, nil
}
