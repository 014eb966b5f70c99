package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chat cycle metrics
	activeCycles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_active_cycles",
		Help: "Number of orchestration cycles in flight",
	})

	totalCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_cycles_total",
		Help: "Total number of orchestration cycles processed",
	}, []string{"outcome"}) // outcome: "done", "failed", "rejected"

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_cycle_duration_seconds",
		Help:    "Duration of orchestration cycles in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
	})

	// Remote tool metrics
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_tool_invocations_total",
		Help: "Total number of remote tool invocations",
	}, []string{"tool", "status"})

	toolLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_tool_latency_seconds",
		Help:    "Remote tool invocation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0, 30.0},
	})

	// Catalog metrics
	catalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_catalog_reloads_total",
		Help: "Total number of tool catalog reload attempts",
	}, []string{"status"})

	catalogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_catalog_tools",
		Help: "Number of tools in the loaded catalog",
	})

	// Planner metrics
	plannerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_planner_requests_total",
		Help: "Total number of planner/synthesizer calls",
	}, []string{"phase", "status"}) // phase: "plan" or "synthesize"

	plannerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_planner_latency_seconds",
		Help:    "Planner/synthesizer call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// UI metrics
	intentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_intents_total",
		Help: "Total number of intents emitted by the synthesizer",
	}, []string{"intent", "mapped"}) // mapped: "yes" when an instruction was produced

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// CycleMetrics tracks metrics for a single orchestration cycle
type CycleMetrics struct {
	cycleID   string
	startTime time.Time
	mu        sync.Mutex
	planStart time.Time
}

// NewCycleMetrics creates a metrics tracker for one orchestration cycle
func NewCycleMetrics(cycleID string) *CycleMetrics {
	return &CycleMetrics{
		cycleID:   cycleID,
		startTime: time.Now(),
	}
}

// RecordCycleStart records the start of a cycle
func (m *CycleMetrics) RecordCycleStart() {
	activeCycles.Inc()
}

// RecordCycleEnd records the end of a cycle with its terminal outcome
func (m *CycleMetrics) RecordCycleEnd(outcome string) {
	activeCycles.Dec()
	totalCycles.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordPlannerStart records the start of a planner or synthesizer call
func (m *CycleMetrics) RecordPlannerStart() {
	m.mu.Lock()
	m.planStart = time.Now()
	m.mu.Unlock()
}

// RecordPlannerEnd records the end of a planner or synthesizer call
func (m *CycleMetrics) RecordPlannerEnd(phase string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.planStart.IsZero() {
		plannerLatency.Observe(time.Since(m.planStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	plannerRequests.WithLabelValues(phase, status).Inc()
}

// RecordError records an error
func (m *CycleMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordToolInvocation records one remote tool invocation
func RecordToolInvocation(tool string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	toolInvocations.WithLabelValues(tool, status).Inc()
	toolLatency.Observe(elapsed.Seconds())
}

// RecordCatalogReload records a catalog reload attempt
func RecordCatalogReload(success bool, tools int) {
	if success {
		catalogReloads.WithLabelValues("success").Inc()
		catalogSize.Set(float64(tools))
	} else {
		catalogReloads.WithLabelValues("error").Inc()
	}
}

// RecordIntent records an intent emitted by the synthesizer
func RecordIntent(intent string, mapped bool) {
	m := "no"
	if mapped {
		m = "yes"
	}
	intentsEmitted.WithLabelValues(intent, m).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
