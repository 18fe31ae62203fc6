// Package metrics holds the prometheus collectors shared by the coordinator
// and the resilience layer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labsync"

// Metrics owns a dedicated registry and every collector labsync exports
type Metrics struct {
	registry *prometheus.Registry

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	cacheLookups       *prometheus.CounterVec
	cacheEntries       *prometheus.GaugeVec
	cachePersistErrors prometheus.Counter

	invokerRequests *prometheus.CounterVec
	invokerAttempts prometheus.Counter
	invokerDuration prometheus.Histogram

	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	roomsEvicted       prometheus.Counter

	eventsOutbound *prometheus.CounterVec
	eventsInbound  *prometheus.CounterVec
	connections    prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"breaker", "to"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Tiered cache lookups by result",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries held per cache tier",
		}, []string{"tier"}),
		cachePersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_persist_errors_total",
			Help:      "Failed loads or saves of the persistent cache tier",
		}),
		invokerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoker_requests_total",
			Help:      "Generation requests by outcome",
		}, []string{"outcome"}),
		invokerAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoker_attempts_total",
			Help:      "Upstream generator attempts",
		}),
		invokerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoker_duration_seconds",
			Help:      "End-to-end generation latency",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms currently held by the registry",
		}),
		participantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Participants joined across all rooms",
		}),
		roomsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_evicted_total",
			Help:      "Idle rooms removed by the sweeper",
		}),
		eventsOutbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_outbound_total",
			Help:      "Outbound room events per recipient by delivery result",
		}, []string{"type", "result"}),
		eventsInbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_inbound_total",
			Help:      "Inbound client events by dispatch result",
		}, []string{"type", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.breakerState,
		m.breakerTransitions,
		m.cacheLookups,
		m.cacheEntries,
		m.cachePersistErrors,
		m.invokerRequests,
		m.invokerAttempts,
		m.invokerDuration,
		m.roomsActive,
		m.participantsActive,
		m.roomsEvicted,
		m.eventsOutbound,
		m.eventsInbound,
		m.connections,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) BreakerTransition(name, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, to).Inc()
}

// CacheLookup records one Get; result is fast, persistent, or miss
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheEntries(fast, persistent int) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues("fast").Set(float64(fast))
	m.cacheEntries.WithLabelValues("persistent").Set(float64(persistent))
}

func (m *Metrics) CachePersistError() {
	if m == nil {
		return
	}
	m.cachePersistErrors.Inc()
}

// InvokerRequest records the outcome of one Invoke call
func (m *Metrics) InvokerRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.invokerRequests.WithLabelValues(outcome).Inc()
	m.invokerDuration.Observe(seconds)
}

func (m *Metrics) InvokerAttempt() {
	if m == nil {
		return
	}
	m.invokerAttempts.Inc()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.roomsActive.Set(float64(n))
}

func (m *Metrics) AddParticipants(delta int) {
	if m == nil {
		return
	}
	m.participantsActive.Add(float64(delta))
}

func (m *Metrics) RoomEvicted() {
	if m == nil {
		return
	}
	m.roomsEvicted.Inc()
}

// OutboundEvent records one per-recipient delivery; result is delivered,
// dropped, slow_consumer or offline
func (m *Metrics) OutboundEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.eventsOutbound.WithLabelValues(eventType, result).Inc()
}

// InboundEvent records one dispatched client event; result is ok or an error
// class
func (m *Metrics) InboundEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.eventsInbound.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) AddConnections(delta int) {
	if m == nil {
		return
	}
	m.connections.Add(float64(delta))
}
