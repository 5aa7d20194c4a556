package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

// Metrics holds the histograms of received web vitals.
type Metrics struct {
	RequestHandler http.Handler
	Registry       *prometheus.Registry

	Vitals  map[webvitals.Name]*prometheus.HistogramVec
	Reports *prometheus.CounterVec
}

var metricLabels []string = []string{"device_type", "rating"}

// New returns a new instance of Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{Vitals: make(map[webvitals.Name]*prometheus.HistogramVec)}
	m.initMetrics()
	m.Registry = prometheus.NewRegistry()
	for _, name := range webvitals.Names {
		m.Registry.MustRegister(m.Vitals[name])
	}
	m.Registry.MustRegister(m.Reports)
	m.RequestHandler = promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return m
}

// MetricName returns the name of the histogram for a web vital.
func MetricName(name webvitals.Name) string {
	unit := "milliseconds"
	if name.Unitless() {
		unit = "score"
	}
	return "webvitals_" + strings.ToLower(name.String()) + "_" + unit
}

func buckets(name webvitals.Name) []float64 {
	t := webvitals.Thresholds[name]
	if name.Unitless() {
		return []float64{0.01, 0.025, 0.05, 0.075, t.Good, 0.15, 0.2, t.Poor, 0.5, 1}
	}
	step := t.Good / 5
	res := append(prometheus.LinearBuckets(step, step, 4), t.Good)
	step = (t.Poor - t.Good) / 4
	res = append(res, prometheus.LinearBuckets(t.Good+step, step, 3)...)
	return append(res, t.Poor, 2*t.Poor, 4*t.Poor)
}

func (m *Metrics) initMetrics() {
	for _, name := range webvitals.Names {
		m.Vitals[name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricName(name),
			Help:    "A histogram of reported " + name.String() + " values.",
			Buckets: buckets(name)},
			metricLabels,
		)
	}
	m.Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webvitals_reports_total",
		Help: "The number of accepted performance reports.",
	}, []string{"device_type"})
}

func deviceLabel(device webvitals.DeviceType) string {
	if device == "" {
		return "unknown"
	}
	return string(device)
}

// CountReport counts an accepted report.
func (m *Metrics) CountReport(device webvitals.DeviceType) {
	m.Reports.WithLabelValues(deviceLabel(device)).Inc()
}

// ObserveMetric records a single metric. Metrics with unknown names or
// ratings are ignored.
func (m *Metrics) ObserveMetric(device webvitals.DeviceType, metric webvitals.Metric) {
	h, ok := m.Vitals[metric.Name]
	if !ok || !metric.Rating.Valid() {
		return
	}
	h.WithLabelValues(deviceLabel(device), string(metric.Rating)).Observe(metric.Value)
}
