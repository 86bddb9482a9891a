package prometheus

import (
	"strconv"
	"time"
)

// Default buckets.
var (
	DefaultTrialDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
)

// SimulationMetrics holds the metrics of experiment runs and the HTTP surface.
type SimulationMetrics struct {
	ExperimentsActive    GaugeVec
	TrialsTotal          CounterVec
	TrialDuration        HistogramVec
	InnerReplicatesTotal CounterVec
	ErrorsTotal          CounterVec
	RecordsExported      CounterVec
	PopulationCache      CounterVec

	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
}

// NewSimulationMetrics registers every metric on c.
func NewSimulationMetrics(c MetricsCollector) *SimulationMetrics {
	return &SimulationMetrics{
		ExperimentsActive:    c.RegisterGauge("experiments_active", "Experiments currently running."),
		TrialsTotal:          c.RegisterCounter("trials_total", "Outer trials finished, by status.", "status"),
		TrialDuration:        c.RegisterHistogram("trial_duration_seconds", "Wall time of one outer trial.", DefaultTrialDurationBuckets),
		InnerReplicatesTotal: c.RegisterCounter("inner_replicates_total", "Inner realizations evaluated."),
		ErrorsTotal:          c.RegisterCounter("errors_total", "Trial failures by error code.", "code"),
		RecordsExported:      c.RegisterCounter("records_exported_total", "Realization records written, by sink.", "sink"),
		PopulationCache:      c.RegisterCounter("population_cache_total", "Population cache lookups, by result.", "result"),

		HTTPRequestsTotal:   c.RegisterCounter("http_requests_total", "HTTP requests, by method, route and status.", "method", "route", "status"),
		HTTPRequestDuration: c.RegisterHistogram("http_request_duration_seconds", "HTTP request latency.", DefaultHTTPDurationBuckets, "method", "route"),
	}
}

func (m *SimulationMetrics) ExperimentStarted()  { m.ExperimentsActive.WithLabelValues().Inc() }
func (m *SimulationMetrics) ExperimentFinished() { m.ExperimentsActive.WithLabelValues().Dec() }

// TrialCompleted records one successful outer trial.
func (m *SimulationMetrics) TrialCompleted(elapsed time.Duration, innerReplicates int) {
	m.TrialsTotal.WithLabelValues("ok").Inc()
	m.TrialDuration.WithLabelValues().Observe(elapsed.Seconds())
	m.InnerReplicatesTotal.WithLabelValues().Add(float64(innerReplicates))
}

// TrialFailed records an aborted outer trial.
func (m *SimulationMetrics) TrialFailed(code string) {
	m.TrialsTotal.WithLabelValues("failed").Inc()
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordExported counts records written to sink.
func (m *SimulationMetrics) RecordExported(sink string, n int) {
	m.RecordsExported.WithLabelValues(sink).Add(float64(n))
}

// CacheLookup counts a population cache hit or miss.
func (m *SimulationMetrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PopulationCache.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *SimulationMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
