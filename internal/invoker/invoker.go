// Package invoker composes the circuit breaker, the tiered cache and bounded
// retry around calls to the upstream generator.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	// MaxBackoffInterval caps the pause between two attempts
	MaxBackoffInterval = 5 * time.Minute
)

// Cache is the subset of the tiered cache the invoker uses
type Cache interface {
	Get(ctx context.Context, key string) (types.Document, bool)
	Set(ctx context.Context, key string, value types.Document)
}

// Breaker is the subset of the circuit breaker the invoker uses
type Breaker interface {
	CanExecute() bool
	RecordSuccess()
	RecordFailure()
}

// CallFunc performs one upstream attempt
type CallFunc func(ctx context.Context, payload types.Document) (types.Document, error)

// Request describes one generation. Call may be nil when the invoker was
// built with a default generator. Validate may be nil to accept any result.
type Request struct {
	CacheKey string
	Payload  types.Document
	Validate Validator
	Call     CallFunc
}

// Invoker runs on the caller's goroutine and holds no per-request state
type Invoker struct {
	cache       Cache
	breaker     Breaker
	generator   interfaces.Generator
	maxAttempts uint
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures an Invoker
type Option func(*Invoker)

// WithGenerator sets the upstream used when a Request has no Call
func WithGenerator(g interfaces.Generator) Option {
	return func(i *Invoker) { i.generator = g }
}

func WithMaxAttempts(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxAttempts = uint(n)
		}
	}
}

// WithBaseDelay sets the first backoff interval; later ones double
func WithBaseDelay(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.baseDelay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(i *Invoker) { i.tracer = t }
}

func New(cache Cache, breaker Breaker, opts ...Option) *Invoker {
	i := &Invoker{
		cache:       cache,
		breaker:     breaker,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      logging.NewNop(),
		tracer:      otel.Tracer("labsync/invoker"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke returns the cached result for req.CacheKey or generates, validates
// and caches a fresh one.
func (i *Invoker) Invoke(ctx context.Context, req Request) (types.Document, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := i.logger.With("request_id", requestID, "cache_key", req.CacheKey)

	ctx, span := i.tracer.Start(ctx, "invoker.Invoke",
		trace.WithAttributes(attribute.String("cache.key", req.CacheKey)))
	defer span.End()

	if cached, ok := i.cache.Get(ctx, req.CacheKey); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		i.finish(logger, "cache_hit", start)
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if !i.breaker.CanExecute() {
		span.SetStatus(codes.Error, "circuit open")
		i.finish(logger, "short_circuit", start)
		return nil, ErrServiceUnavailable
	}

	call := req.Call
	if call == nil {
		// a missing generator is a configuration error, not an upstream failure
		if i.generator == nil {
			i.finish(logger, "failed", start)
			return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrNoGenerator)
		}
		call = i.generator.Generate
	}

	logger.Info("generation_request", "attempts", i.maxAttempts)

	attempt := 0
	operation := func() (types.Document, error) {
		attempt++
		i.metrics.InvokerAttempt()
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))

		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		result, err := call(ctx, req.Payload)
		if err != nil {
			return nil, err
		}
		if req.Validate != nil {
			if err := req.Validate(result); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     i.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         MaxBackoffInterval,
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(i.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("generation attempt failed", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil && ctx.Err() != nil {
		// the caller went away; upstream health is unknown
		span.RecordError(err)
		span.SetStatus(codes.Error, "caller cancelled")
		logger.Warn("generation_abandoned", "attempts", attempt, "error", err)
		i.finish(logger, "cancelled", start)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if err != nil {
		i.breaker.RecordFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		logger.Error("generation_failed", "attempts", attempt, "error", err)
		i.finish(logger, "failed", start)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	i.cache.Set(ctx, req.CacheKey, result)
	i.breaker.RecordSuccess()
	span.SetAttributes(attribute.Int("attempts", attempt))
	i.finish(logger, "success", start)
	return result, nil
}

func (i *Invoker) finish(logger *slog.Logger, outcome string, start time.Time) {
	elapsed := time.Since(start)
	i.metrics.InvokerRequest(outcome, elapsed.Seconds())
	logger.Info("generation_response", "outcome", outcome, "duration_ms", elapsed.Milliseconds())
}

// IsRetryLater reports whether err means the caller should try again later
func IsRetryLater(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
