package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	snapshotsStored *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	surfacePoints   *prometheus.GaugeVec
	surfaceUnsolved *prometheus.GaugeVec
	unsolvedTotal   *prometheus.CounterVec
	lastSpot        *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer lets tests register on a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		snapshotsStored: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_snapshots_stored_total",
				Help: "Total number of surface snapshots handed to a backend",
			},
			[]string{"backend", "ticker"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		surfacePoints: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volsurface_surface_points",
				Help: "Solved points in the last surface built for a ticker",
			},
			[]string{"ticker"},
		),
		surfaceUnsolved: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volsurface_surface_unsolved",
				Help: "Unsolved quotes in the last surface built for a ticker",
			},
			[]string{"ticker"},
		),
		unsolvedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_unsolved_quotes_total",
				Help: "Quotes left without an implied vol, by reason",
			},
			[]string{"reason"},
		),
		lastSpot: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volsurface_last_spot",
				Help: "Last recorded underlying price",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volsurface_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSnapshotStored counts a snapshot accepted by a backend.
func (r *Recorder) RecordSnapshotStored(backend, ticker string) {
	r.snapshotsStored.WithLabelValues(backend, ticker).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSurface sets the size gauges of the latest build.
func (r *Recorder) RecordSurface(ticker string, points, unsolved int) {
	r.surfacePoints.WithLabelValues(ticker).Set(float64(points))
	r.surfaceUnsolved.WithLabelValues(ticker).Set(float64(unsolved))
}

func (r *Recorder) RecordUnsolved(reason string, n int) {
	if n <= 0 {
		return
	}
	r.unsolvedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordLastSpot records the last underlying price for a symbol.
func (r *Recorder) RecordLastSpot(symbol string, price float64) {
	r.lastSpot.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
