package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diagconfig"

// Collectors holds the service's Prometheus instruments. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	applyTotal      *prometheus.CounterVec
	applyDuration   prometheus.Histogram
	applyRows       *prometheus.CounterVec
	readinessChecks *prometheus.CounterVec
	readinessIssues *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		applyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pack_apply_total",
			Help:      "Pack applies by outcome: success or the error kind.",
		}, []string{"outcome"}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pack_apply_duration_seconds",
			Help:      "Wall time of pack applies, including failed ones.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		applyRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pack_apply_rows_total",
			Help:      "Payload rows processed by successful applies, by stage.",
		}, []string{"stage"}),
		readinessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_checks_total",
			Help:      "Readiness reports produced, by verdict.",
		}, []string{"ready"}),
		readinessIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_issues_total",
			Help:      "Issues reported by readiness checks, by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(
		c.applyTotal, c.applyDuration, c.applyRows, c.readinessChecks, c.readinessIssues,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveApply records one apply. rows is only counted when outcome is "success".
func (c *Collectors) ObserveApply(outcome string, d time.Duration, rows map[string]int) {
	if c == nil {
		return
	}
	c.applyTotal.WithLabelValues(outcome).Inc()
	c.applyDuration.Observe(d.Seconds())
	if outcome != "success" {
		return
	}
	for stage, n := range rows {
		c.applyRows.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveReadiness records one readiness report and its issue counts.
func (c *Collectors) ObserveReadiness(ready bool, bySeverity map[string]int) {
	if c == nil {
		return
	}
	c.readinessChecks.WithLabelValues(strconv.FormatBool(ready)).Inc()
	for sev, n := range bySeverity {
		c.readinessIssues.WithLabelValues(sev).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
