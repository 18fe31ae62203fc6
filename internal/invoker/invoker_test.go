package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labsync/internal/breaker"
	"labsync/internal/cache"
	"labsync/pkg/types"
)

type countingBreaker struct {
	mu        sync.Mutex
	allow     bool
	successes int
	failures  int
	checks    int
}

func (b *countingBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks++
	return b.allow
}

func (b *countingBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *countingBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

// scriptedCall fails the first failCount calls then returns result
type scriptedCall struct {
	mu        sync.Mutex
	calls     int
	failCount int
	result    types.Document
}

func (s *scriptedCall) Call(ctx context.Context, payload types.Document) (types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failCount {
		return nil, fmt.Errorf("upstream error %d", s.calls)
	}
	return s.result, nil
}

func newTestInvoker(c Cache, b Breaker) *Invoker {
	return New(c, b, WithBaseDelay(time.Millisecond))
}

func TestInvoke_WaterScenario(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	tc := cache.New(ctx, store)
	br := &countingBreaker{allow: true}
	upstream := &scriptedCall{failCount: 2, result: types.Document{"uvVis": "none", "ir": "3400 broad"}}

	inv := newTestInvoker(tc, br)
	got, err := inv.Invoke(ctx, Request{
		CacheKey: cache.Key("Water", "H2O"),
		Payload:  types.Document{"compound": "Water", "formula": "H2O"},
		Validate: RequireFields("uvVis", "ir"),
		Call:     upstream.Call,
	})

	require.NoError(t, err)
	assert.Equal(t, "3400 broad", got["ir"])
	assert.Equal(t, 3, upstream.calls)
	assert.Equal(t, 1, br.successes)
	assert.Equal(t, 0, br.failures)

	cached, ok := tc.Get(ctx, "water-h2o")
	require.True(t, ok)
	assert.Equal(t, "none", cached["uvVis"])
}

func TestInvoke_OpenBreakerShortCircuits(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	br := breaker.New("generator", breaker.WithThreshold(1), breaker.WithClock(func() time.Time { return clock }))
	br.RecordFailure()
	require.Equal(t, breaker.Open, br.State())

	upstream := &scriptedCall{result: types.Document{"ok": true}}
	inv := newTestInvoker(cache.New(ctx, nil), br)

	_, err := inv.Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})

	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.True(t, IsRetryLater(err))
	assert.Equal(t, 0, upstream.calls, "generator must not be reached")
}

func TestInvoke_CacheHitSkipsBreaker(t *testing.T) {
	ctx := context.Background()
	tc := cache.New(ctx, nil)
	tc.Set(ctx, "k", types.Document{"v": "cached"})
	br := &countingBreaker{allow: false}
	upstream := &scriptedCall{}

	got, err := newTestInvoker(tc, br).Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})

	require.NoError(t, err)
	assert.Equal(t, "cached", got["v"])
	assert.Equal(t, 0, br.checks)
	assert.Equal(t, 0, upstream.calls)
}

func TestInvoke_ExhaustedRetriesRecordOneFailure(t *testing.T) {
	ctx := context.Background()
	tc := cache.New(ctx, nil)
	br := &countingBreaker{allow: true}
	upstream := &scriptedCall{failCount: 10}

	_, err := newTestInvoker(tc, br).Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "upstream error 3", "last attempt's error is surfaced")
	assert.Equal(t, 3, upstream.calls)
	assert.Equal(t, 1, br.failures)
	assert.Equal(t, 0, br.successes)
	assert.Equal(t, 0, tc.Len(), "failures are never cached")
}

func TestInvoke_ValidationFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}

	calls := 0
	call := func(ctx context.Context, payload types.Document) (types.Document, error) {
		calls++
		if calls == 1 {
			return types.Document{"uvVis": "only"}, nil
		}
		return types.Document{"uvVis": "x", "ir": "y"}, nil
	}

	got, err := newTestInvoker(cache.New(ctx, nil), br).Invoke(ctx, Request{
		CacheKey: "k",
		Validate: RequireFields("uvVis", "ir"),
		Call:     call,
	})

	require.NoError(t, err)
	assert.Equal(t, "y", got["ir"])
	assert.Equal(t, 2, calls)
}

func TestInvoke_ValidationFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}
	call := func(ctx context.Context, payload types.Document) (types.Document, error) {
		return types.Document{"uvVis": "x"}, nil
	}

	_, err := newTestInvoker(cache.New(ctx, nil), br).Invoke(ctx, Request{
		CacheKey: "k",
		Validate: RequireFields("uvVis", "ir"),
		Call:     call,
	})

	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, 1, br.failures)
}

func TestInvoke_BackoffDoubles(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}
	upstream := &scriptedCall{failCount: 2, result: types.Document{"ok": true}}

	inv := New(cache.New(ctx, nil), br, WithBaseDelay(20*time.Millisecond))
	start := time.Now()
	_, err := inv.Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "waits 20ms then 40ms")
}

func TestInvoke_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	br := &countingBreaker{allow: true}

	call := func(ctx context.Context, payload types.Document) (types.Document, error) {
		cancel()
		return nil, errors.New("upstream down")
	}

	inv := New(cache.New(context.Background(), nil), br, WithBaseDelay(time.Hour))
	_, err := inv.Invoke(ctx, Request{CacheKey: "k", Call: call})

	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, br.failures, "caller cancellation says nothing about upstream health")
	assert.Equal(t, 0, br.successes)
}

func TestInvoke_CancelledCallersNeverOpenBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := breaker.New("test", breaker.WithThreshold(2))
	upstream := &scriptedCall{result: types.Document{"ok": true}}
	inv := newTestInvoker(cache.New(context.Background(), nil), b)

	for range 5 {
		_, err := inv.Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, breaker.Closed, b.State())

	got, err := inv.Invoke(context.Background(), Request{CacheKey: "k", Call: upstream.Call})
	require.NoError(t, err)
	assert.Equal(t, true, got["ok"])
}

func TestInvoke_LargeAttemptCountKeepsBackoffBounded(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}
	upstream := &scriptedCall{failCount: 3, result: types.Document{"ok": true}}

	inv := New(cache.New(ctx, nil), br, WithBaseDelay(time.Millisecond), WithMaxAttempts(100))
	start := time.Now()
	_, err := inv.Invoke(ctx, Request{CacheKey: "k", Call: upstream.Call})

	require.NoError(t, err)
	assert.Equal(t, 4, upstream.calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInvoke_DefaultGenerator(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}

	inv := New(cache.New(ctx, nil), br, WithGenerator(echoGenerator{}))
	got, err := inv.Invoke(ctx, Request{CacheKey: "k", Payload: types.Document{"q": "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "hi", got["q"])
}

func TestInvoke_NoGenerator(t *testing.T) {
	ctx := context.Background()
	br := &countingBreaker{allow: true}

	_, err := New(cache.New(ctx, nil), br).Invoke(ctx, Request{CacheKey: "k"})

	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrNoGenerator)
	assert.Equal(t, 0, br.failures, "configuration errors leave the breaker alone")
}

func TestRequireFields(t *testing.T) {
	v := RequireFields("uvVis", "ir")

	assert.NoError(t, v(types.Document{"uvVis": 1, "ir": 2}))
	assert.ErrorIs(t, v(types.Document{"uvVis": 1}), ErrInvalidResponse)
	assert.ErrorIs(t, v(types.Document{"uvVis": 1, "ir": nil}), ErrInvalidResponse)
	assert.ErrorIs(t, v(nil), ErrInvalidResponse)
}

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, request types.Document) (types.Document, error) {
	return request.Clone(), nil
}
