package db

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"contract-diff/internal/logging"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed lets calls through.
	StateClosed CircuitState = iota
	// StateOpen fails calls fast until the timeout passes.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the database is considered down.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when a probe is already in flight.
	ErrTooManyRequests = errors.New("too many requests while circuit is half-open")
)

// CircuitBreaker opens after maxFailures consecutive failures and probes
// again once timeout has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures uint32
	timeout     time.Duration
	now         func() time.Time

	state           CircuitState
	failures        uint32
	lastFailureTime time.Time
	probing         bool

	totalRequests    uint64
	failedRequests   uint64
	rejectedRequests uint64
}

func NewCircuitBreaker(maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open. Errors caused by the caller
// are returned as is and neither open nor close the circuit.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && (ctx.Err() != nil || IsInputError(err)) {
		cb.release()
		return err
	}
	cb.after(err == nil, err)
	return err
}

// IsInputError reports whether err was caused by the values sent rather than
// by the database: an invalid page, or a PostgreSQL data exception (class 22)
// or integrity constraint violation (class 23).
func IsInputError(err error) bool {
	if errors.Is(err, ErrInvalidPage) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			cb.rejectedRequests++
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		logging.Info("circuit breaker half-open", logging.Fields{"timeout": cb.timeout.String()})
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			cb.rejectedRequests++
			return ErrTooManyRequests
		}
		cb.probing = true
	}
	return nil
}

// release ends a call without recording an outcome.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probing = false
	}
}

func (cb *CircuitBreaker) after(ok bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if ok {
		if wasProbe {
			logging.Info("circuit breaker closed", logging.Fields{"reason": "probe succeeded"})
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failedRequests++
	cb.failures++
	cb.lastFailureTime = cb.now()
	if (wasProbe || cb.failures >= cb.maxFailures) && cb.state != StateOpen {
		cb.state = StateOpen
		logging.Warn("circuit breaker opened", logging.Fields{
			"failures":     cb.failures,
			"max_failures": cb.maxFailures,
			"timeout":      cb.timeout.String(),
			"last_error":   err.Error(),
		})
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	State            string `json:"state"`
	Failures         uint32 `json:"failures"`
	TotalRequests    uint64 `json:"total_requests"`
	FailedRequests   uint64 `json:"failed_requests"`
	RejectedRequests uint64 `json:"rejected_requests"`
}

func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:            cb.state.String(),
		Failures:         cb.failures,
		TotalRequests:    cb.totalRequests,
		FailedRequests:   cb.failedRequests,
		RejectedRequests: cb.rejectedRequests,
	}
}

// GuardedRecords wraps a RecordRepository so that a failing database is
// answered with ErrCircuitOpen instead of piling up slow queries.
type GuardedRecords struct {
	next    RecordRepository
	breaker *CircuitBreaker
}

var _ RecordRepository = (*GuardedRecords)(nil)

func NewGuardedRecords(next RecordRepository, breaker *CircuitBreaker) *GuardedRecords {
	return &GuardedRecords{next: next, breaker: breaker}
}

// Breaker exposes the wrapped breaker for health reporting.
func (g *GuardedRecords) Breaker() *CircuitBreaker { return g.breaker }

func (g *GuardedRecords) Insert(ctx context.Context, rec *Record) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Insert(ctx, rec)
	})
}

func (g *GuardedRecords) History(ctx context.Context, f HistoryFilter, offset, limit int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.History(ctx, f, offset, limit)
		return err
	})
	return out, err
}

func (g *GuardedRecords) HistoryCount(ctx context.Context, f HistoryFilter) (int64, error) {
	var n int64
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.next.HistoryCount(ctx, f)
		return err
	})
	return n, err
}

func (g *GuardedRecords) ByBatch(ctx context.Context, batchID string) ([]Record, error) {
	var out []Record
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.ByBatch(ctx, batchID)
		return err
	})
	return out, err
}
