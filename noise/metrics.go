package noise

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-run gauges of the pipeline. Each run overwrites the
// previous values.
type Metrics struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	lastRun       prometheus.Gauge
	duration      prometheus.Gauge
	edges         *prometheus.GaugeVec
	points        *prometheus.GaugeVec
	layerMatched  *prometheus.GaugeVec
	layerConflict *prometheus.GaugeVec
	bandLength    *prometheus.GaugeVec
	issues        prometheus.Gauge
}

// NewMetrics registers the pipeline metrics on reg. A nil reg gets a fresh
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: f.NewCounter(prometheus.CounterOpts{
			Name: "noisegraph_runs_total",
			Help: "Total number of completed pipeline runs",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "noisegraph_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "noisegraph_last_run_duration_seconds",
			Help: "Wall time of the last completed run",
		}),
		edges: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noisegraph_edges",
			Help: "Edges of the last run by state",
		}, []string{"state"}),
		points: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noisegraph_points",
			Help: "Point counts of the last run by stage",
		}, []string{"stage"}),
		layerMatched: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noisegraph_layer_matched_points",
			Help: "Unique points covered by a layer in the last run",
		}, []string{"layer"}),
		layerConflict: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noisegraph_layer_conflict_points",
			Help: "Unique points covered by overlapping polygons of a layer in the last run",
		}, []string{"layer"}),
		bandLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noisegraph_band_length",
			Help: "Total edge length per decibel band in the last run",
		}, []string{"band"}),
		issues: f.NewGauge(prometheus.GaugeOpts{
			Name: "noisegraph_issues",
			Help: "Integrity issues found in the last run",
		}),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records a finished run.
func (m *Metrics) Observe(r *Result, elapsed time.Duration, at time.Time) {
	d := r.Diagnostics
	m.runs.Inc()
	m.lastRun.Set(float64(at.Unix()))
	m.duration.Set(elapsed.Seconds())

	m.edges.WithLabelValues("total").Set(float64(d.Sampling.Edges))
	m.edges.WithLabelValues("profiled").Set(float64(len(r.Profiles)))
	m.edges.WithLabelValues("skipped").Set(float64(len(d.Sampling.Skipped)))

	m.points.WithLabelValues("sampled").Set(float64(d.Sampling.Points))
	m.points.WithLabelValues("unique").Set(float64(d.UniquePoints))
	m.points.WithLabelValues("zone").Set(float64(d.ZonePoints))
	m.points.WithLabelValues("missing").Set(float64(d.MissingPoints))
	m.points.WithLabelValues("flagged").Set(float64(d.FlaggedPoints))
	m.points.WithLabelValues("ring").Set(float64(d.Ring.Points))
	m.points.WithLabelValues("repaired").Set(float64(d.Ring.Repaired))
	m.points.WithLabelValues("unrepaired").Set(float64(d.Ring.Unrepaired))

	m.layerMatched.Reset()
	m.layerConflict.Reset()
	for _, s := range d.Join {
		m.layerMatched.WithLabelValues(s.Layer).Set(float64(s.Matched))
		m.layerConflict.WithLabelValues(s.Layer).Set(float64(s.Conflicts))
	}

	totals := make(map[int]float64, len(Bands))
	ambient := 0.0
	for _, p := range r.Profiles {
		for _, band := range Bands {
			totals[band] += p.Bands[band]
		}
		ambient += p.Ambient
	}
	for _, band := range Bands {
		m.bandLength.WithLabelValues(strconv.Itoa(band)).Set(totals[band])
	}
	m.bandLength.WithLabelValues(bandLabel(0)).Set(ambient)

	m.issues.Set(float64(len(d.Issues)))
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
