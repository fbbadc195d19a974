package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Provider: латентность и исходы вызовов внешнего API удалённого доступа
	ProviderDuration *prometheus.HistogramVec
	ProviderRequests *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Command Bus
	CommandsDispatched *prometheus.CounterVec
	DispatchUnresolved prometheus.Counter
	CommandsCompleted  *prometheus.CounterVec
	CommandsExpired    prometheus.Counter

	// Сеансы удалённого управления
	SessionEvents *prometheus.CounterVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если реестр не передан, регистрируем в локальном, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ProviderDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetdesk_provider_request_duration_seconds",
			Help:    "Latency of remote-desktop provider API calls.",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		ProviderRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_provider_requests_total",
			Help: "Provider API calls by operation and outcome.",
		}, []string{"operation", "outcome"}), // outcome: ok, http_error, transport_error, circuit_open, rate_limited

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "assetdesk_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		CommandsDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_agent_commands_dispatched_total",
			Help: "Agent commands enqueued, by command kind.",
		}, []string{"kind"}),

		DispatchUnresolved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_agent_dispatch_unresolved_total",
			Help: "Requested devices excluded from dispatch because no agent key was resolved.",
		}),

		CommandsCompleted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_agent_commands_finished_total",
			Help: "Agent commands reported back by agents, by terminal status.",
		}, []string{"status"}),

		CommandsExpired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_agent_commands_expired_total",
			Help: "Pending agent commands expired by the sweeper.",
		}),

		SessionEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_remote_session_events_total",
			Help: "Remote agent and session lifecycle events.",
		}, []string{"event"}), // register, unregister, session_start, session_end, sync

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "assetdesk_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
