// Package breaker implements a three-state circuit breaker guarding calls to
// an unreliable upstream.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"labsync/internal/logging"
	"labsync/internal/metrics"
)

// State is the breaker state
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Threshold   int       `json:"threshold"`
}

// Breaker accumulates failures and fails fast once a threshold is reached.
// It is safe for concurrent use.
type Breaker struct {
	name            string
	threshold       int
	recoveryTimeout time.Duration
	now             func() time.Time
	onStateChange   func(from, to State)
	logger          *slog.Logger
	metrics         *metrics.Metrics

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithThreshold sets the consecutive-failure count that opens the circuit
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the circuit stays open before probing
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a hook called on every transition. The hook
// runs with the breaker lock held and must not call back into the breaker.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// New creates a closed breaker. name labels logs and metrics.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:            name,
		threshold:       DefaultFailureThreshold,
		recoveryTimeout: DefaultRecoveryTimeout,
		now:             time.Now,
		logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.SetBreakerState(b.name, int(Closed))
	return b
}

// CanExecute reports whether a guarded call may proceed. An open breaker
// whose recovery timeout has elapsed moves to half-open and allows the call.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) > b.recoveryTimeout {
			b.transition(HalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure counts one failure. The threshold is re-checked in every
// state, so a failed half-open probe re-opens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold && b.state != Open {
		b.transition(Open)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Threshold:   b.threshold,
	}
}

// transition must be called with b.mu held
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case Open:
		b.logger.Warn("circuit_breaker_open", "breaker", b.name, "failures", b.failures)
	case Closed:
		b.logger.Info("circuit_breaker_closed", "breaker", b.name)
	case HalfOpen:
		b.logger.Info("circuit_breaker_half_open", "breaker", b.name)
	}
	b.metrics.SetBreakerState(b.name, int(to))
	b.metrics.BreakerTransition(b.name, to.String())

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
