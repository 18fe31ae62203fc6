package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("generator")

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanExecute())
	snap := b.Snapshot()
	assert.Equal(t, DefaultFailureThreshold, snap.Threshold)
	assert.Equal(t, "closed", snap.State)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("generator", WithThreshold(5), WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		require.Equal(t, Closed, b.State(), "failure %d should not open", i+1)
	}

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 5, b.Failures())
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New("generator", WithThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "non-consecutive failures must not open the circuit")
}

func TestBreaker_RecoveryToHalfOpenThenClosed(t *testing.T) {
	clock := newFakeClock()
	b := New("generator", WithThreshold(5), WithRecoveryTimeout(60*time.Second), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())

	clock.Advance(60 * time.Second)
	assert.False(t, b.CanExecute(), "recovery requires strictly more than the timeout")
	assert.Equal(t, Open, b.State())

	clock.Advance(time.Millisecond)
	assert.True(t, b.CanExecute())
	assert.Equal(t, HalfOpen, b.State())

	// Half-open tolerates concurrent trial calls
	assert.True(t, b.CanExecute())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("generator", WithThreshold(2), WithRecoveryTimeout(time.Second), WithClock(clock.Now))

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(2 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 3, b.Failures())
	assert.False(t, b.CanExecute(), "last failure time must be refreshed on reopen")
}

func TestBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("generator",
		WithThreshold(1),
		WithRecoveryTimeout(time.Second),
		WithClock(clock.Now),
		WithStateChange(func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(2 * time.Second)
	b.CanExecute()
	b.RecordSuccess()

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b := New("generator", WithThreshold(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.CanExecute()
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, b.Failures())
	assert.Equal(t, Closed, b.State())
}
