// Package metrics holds the Prometheus collectors of export runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Export results used as the "result" label.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

// Metrics groups the collectors of one registry.
type Metrics struct {
	InstancesStaged    prometheus.Counter
	InstancesDuplicate prometheus.Counter
	JPEGWritten        prometheus.Counter
	RenderFailures     prometheus.Counter
	Exports            *prometheus.CounterVec
	ExportDuration     prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InstancesStaged: f.NewCounter(prometheus.CounterOpts{
			Name: "dicomiso_instances_staged_total",
			Help: "DICOM instances copied into the staging tree.",
		}),
		InstancesDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "dicomiso_instances_duplicate_total",
			Help: "Image references skipped because their instance was already staged.",
		}),
		JPEGWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "dicomiso_jpeg_written_total",
			Help: "JPEG previews written.",
		}),
		RenderFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dicomiso_render_failures_total",
			Help: "Images that could not be rendered.",
		}),
		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomiso_exports_total",
			Help: "Export runs by result.",
		}, []string{"result"}),
		ExportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dicomiso_export_duration_seconds",
			Help:    "Duration of export runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// Discard returns collectors bound to a private registry nobody reads.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveExport records the outcome of one run started at start.
func (m *Metrics) ObserveExport(result string, start time.Time) {
	m.Exports.WithLabelValues(result).Inc()
	m.ExportDuration.Observe(time.Since(start).Seconds())
}

// WriteFile writes every metric gathered by g to path in the text format.
func WriteFile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
