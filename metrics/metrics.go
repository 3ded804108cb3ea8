// Package metrics exposes pipeline counters and the latest stock levels in
// Prometheus format. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Frame counters
	FramesProcessed         atomic.Uint64
	FramesFailed            atomic.Uint64
	AnomalousLabels         atomic.Uint64
	LowConfidenceDetections atomic.Uint64

	// Error counters
	StorageErrors  atomic.Uint64
	DeliveryErrors atomic.Uint64

	SchemaExtensions atomic.Uint64

	levels        *prometheus.GaugeVec
	minimums      *prometheus.GaugeVec
	deficient     *prometheus.GaugeVec
	appendLatency prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		value      *atomic.Uint64
	}{
		{"stockwatch_frames_processed_total", "Frames persisted by the pipeline", &m.FramesProcessed},
		{"stockwatch_frames_failed_total", "Frames aborted before or after persistence", &m.FramesFailed},
		{"stockwatch_anomalous_labels_total", "Detected labels outside the vocabulary", &m.AnomalousLabels},
		{"stockwatch_low_confidence_detections_total", "Detections dropped below the confidence threshold", &m.LowConfidenceDetections},
		{"stockwatch_storage_errors_total", "Storage failures", &m.StorageErrors},
		{"stockwatch_delivery_errors_total", "Alert sink failures", &m.DeliveryErrors},
		{"stockwatch_schema_extensions_total", "Item columns added to the observation table", &m.SchemaExtensions},
	}
	for _, c := range counters {
		value := c.value
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.levels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockwatch_item_count",
		Help: "Item count in the latest record",
	}, []string{"stream", "item"})
	m.minimums = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockwatch_item_minimum",
		Help: "Configured minimum stock per item",
	}, []string{"stream", "item"})
	m.deficient = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockwatch_item_deficient",
		Help: "1 when the item is below its minimum in the latest record",
	}, []string{"stream", "item"})
	m.appendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockwatch_append_duration_seconds",
		Help:    "Latency of persisting one record",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	m.registry.MustRegister(m.levels, m.minimums, m.deficient, m.appendLatency)
}

// ObserveAppend records the latency of one append.
func (m *Metrics) ObserveAppend(d time.Duration) {
	if m == nil {
		return
	}
	m.appendLatency.Observe(d.Seconds())
}

// SetLevel publishes an item's latest count, minimum and deficiency.
func (m *Metrics) SetLevel(stream, item string, count int, minimum int, hasMinimum, deficient bool) {
	if m == nil {
		return
	}
	m.levels.WithLabelValues(stream, item).Set(float64(count))
	if hasMinimum {
		m.minimums.WithLabelValues(stream, item).Set(float64(minimum))
	}
	v := 0.0
	if deficient {
		v = 1
	}
	m.deficient.WithLabelValues(stream, item).Set(v)
}

// FrameProcessed counts a persisted frame.
func (m *Metrics) FrameProcessed() {
	if m != nil {
		m.FramesProcessed.Add(1)
	}
}

// FrameFailed counts an aborted or partially processed frame.
func (m *Metrics) FrameFailed() {
	if m != nil {
		m.FramesFailed.Add(1)
	}
}

// Anomalies counts labels outside the vocabulary.
func (m *Metrics) Anomalies(n int) {
	if m != nil && n > 0 {
		m.AnomalousLabels.Add(uint64(n))
	}
}

// LowConfidence counts detections dropped below the confidence threshold.
func (m *Metrics) LowConfidence(n int) {
	if m != nil && n > 0 {
		m.LowConfidenceDetections.Add(uint64(n))
	}
}

// StorageError counts a storage failure.
func (m *Metrics) StorageError() {
	if m != nil {
		m.StorageErrors.Add(1)
	}
}

// DeliveryError counts a sink failure.
func (m *Metrics) DeliveryError() {
	if m != nil {
		m.DeliveryErrors.Add(1)
	}
}

// SchemaExtended counts item columns added by an append.
func (m *Metrics) SchemaExtended(n int) {
	if m != nil && n > 0 {
		m.SchemaExtensions.Add(uint64(n))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
