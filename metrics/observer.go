// Package metrics exports upload metrics in the Prometheus text format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitrise-io/go-artifact-upload/upload"
)

const namespace = "artifact_upload"

// PrometheusObserver records part upload events on its own registry.
type PrometheusObserver struct {
	registry     *prometheus.Registry
	partDuration prometheus.Histogram
	partRetries  *prometheus.CounterVec
	partFailures prometheus.Counter
	partsTotal   prometheus.Counter
	bytesTotal   prometheus.Counter
}

var _ upload.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver ...
func NewPrometheusObserver() (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		registry: prometheus.NewRegistry(),
		partDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "part_duration_seconds",
			Help:      "Time to upload a single part, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		partRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_retries_total",
			Help:      "Part upload attempts that failed with a transient error.",
		}, []string{"class"}),
		partFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_failures_total",
			Help:      "Part uploads that failed fatally.",
		}),
		partsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_uploaded_total",
			Help:      "Parts acknowledged by the storage service.",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes acknowledged by the storage service.",
		}),
	}

	for _, c := range []prometheus.Collector{o.partDuration, o.partRetries, o.partFailures, o.partsTotal, o.bytesTotal} {
		if err := o.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return o, nil
}

func (o *PrometheusObserver) PartUploaded(_ int, size int64, took time.Duration) {
	o.partDuration.Observe(took.Seconds())
	o.partsTotal.Inc()
	o.bytesTotal.Add(float64(size))
}

func (o *PrometheusObserver) PartRetried(_ int, class upload.FailureClass) {
	o.partRetries.WithLabelValues(class.String()).Inc()
}

func (o *PrometheusObserver) PartFailed(int) {
	o.partFailures.Inc()
}

// Registerer allows callers to add their own collectors, e.g. upload totals.
func (o *PrometheusObserver) Registerer() prometheus.Registerer {
	return o.registry
}

// WriteTextfile writes the metrics to path in the node_exporter textfile format.
func (o *PrometheusObserver) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, o.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
