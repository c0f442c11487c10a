// Package metrics exports the outcome of a fill_db run as a
// Prometheus textfile, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jaunis/xivo-stat/internal/core"
)

const namespace = "xivo_stat"

// Run holds the gauges describing the last fill_db run.
type Run struct {
	registry    *prometheus.Registry
	periods     prometheus.Gauge
	agents      prometheus.Gauge
	removed     prometheus.Gauge
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
	rangeStart  prometheus.Gauge
	rangeEnd    prometheus.Gauge
}

// NewRun registers the run gauges on a fresh registry.
func NewRun() *Run {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fill_db",
			Name:      name,
			Help:      help,
		})
	}
	r := &Run{
		registry: prometheus.NewRegistry(),
		periods: gauge("periods_written",
			"Periods written by the last run."),
		agents: gauge("agents",
			"Distinct agents with statistics in the last run."),
		removed: gauge("rows_removed",
			"Stored rows replaced by the last run."),
		duration: gauge("duration_seconds",
			"Wall time of the last run."),
		lastSuccess: gauge("last_success_timestamp_seconds",
			"Unix time the last run finished."),
		rangeStart: gauge("range_start_timestamp_seconds",
			"Start of the range computed by the last run."),
		rangeEnd: gauge("range_end_timestamp_seconds",
			"End of the range computed by the last run."),
	}
	r.registry.MustRegister(
		r.periods, r.agents, r.removed, r.duration,
		r.lastSuccess, r.rangeStart, r.rangeEnd,
	)
	return r
}

// Observe records res.
func (r *Run) Observe(res core.Result) {
	r.periods.Set(float64(res.Periods))
	r.agents.Set(float64(res.Agents))
	r.removed.Set(float64(res.Removed))
	r.duration.Set(res.Duration.Seconds())
	r.lastSuccess.SetToCurrentTime()
	r.rangeStart.Set(float64(res.Start.Unix()))
	r.rangeEnd.Set(float64(res.End.Unix()))
}

// Registry returns the registry holding the run gauges.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// WriteFile atomically writes the gauges to path.
func (r *Run) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
