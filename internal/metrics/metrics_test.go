package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetBreakerState("generator", 1)
		m.BreakerTransition("generator", "open")
		m.CacheLookup("miss")
		m.SetCacheEntries(1, 2)
		m.CachePersistError()
		m.InvokerRequest("success", 0.2)
		m.InvokerAttempt()
		m.SetRooms(3)
		m.AddParticipants(1)
		m.RoomEvicted()
		m.OutboundEvent("cursor_update", "dropped")
		m.InboundEvent("join_room", "ok")
		m.AddConnections(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.CacheLookup("fast")
	m.CacheLookup("fast")
	m.CacheLookup("miss")
	m.InvokerRequest("short_circuit", 0)
	m.SetBreakerState("generator", 2)
	m.SetCacheEntries(4, 7)

	body := scrape(t, m)
	assert.Contains(t, body, `labsync_cache_lookups_total{result="fast"} 2`)
	assert.Contains(t, body, `labsync_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, body, `labsync_invoker_requests_total{outcome="short_circuit"} 1`)
	assert.Contains(t, body, `labsync_breaker_state{breaker="generator"} 2`)
	assert.Contains(t, body, `labsync_cache_entries{tier="persistent"} 7`)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AddParticipants(2)

	assert.Contains(t, scrape(t, m), "labsync_participants_active 2")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
