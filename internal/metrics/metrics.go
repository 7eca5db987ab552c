package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Exchange API метрики
	ExchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_api_requests_total",
			Help: "Total number of exchange API requests",
		},
		[]string{"endpoint", "status"},
	)
	ExchangeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "exchange_api_request_duration_seconds",
			Help: "Duration of exchange API requests in seconds",
		},
		[]string{"endpoint"},
	)
	ExchangeBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
	ExchangeWebSocketConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_websocket_connections",
			Help: "Number of active exchange WebSocket connections",
		},
		[]string{"stream"},
	)

	// Ladder метрики
	LadderCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_cycles_total",
			Help: "Polling cycles executed per plan outcome",
		},
		[]string{"outcome"},
	)
	LadderCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ladder_cycle_duration_seconds",
			Help:    "Duration of one ladder polling cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
	LadderStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_steps_total",
			Help: "Ladder step submissions by result",
		},
		[]string{"symbol", "result"},
	)
	LadderTakeProfitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_take_profit_total",
			Help: "Take-profit reconciliations by result",
		},
		[]string{"result"},
	)
	LadderPlans = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ladder_plans",
			Help: "Number of ladder plans per state",
		},
		[]string{"state"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(ExchangeRequestsTotal)
	prometheus.MustRegister(ExchangeRequestDuration)
	prometheus.MustRegister(ExchangeBreakerState)
	prometheus.MustRegister(ExchangeWebSocketConnections)

	prometheus.MustRegister(LadderCyclesTotal)
	prometheus.MustRegister(LadderCycleDuration)
	prometheus.MustRegister(LadderStepsTotal)
	prometheus.MustRegister(LadderTakeProfitTotal)
	prometheus.MustRegister(LadderPlans)

	// Стандартные метрики Go
	prometheus.MustRegister(prometheus.NewGoCollector())
	prometheus.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
