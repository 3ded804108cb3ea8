package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.FrameProcessed()
	m.FrameProcessed()
	m.FrameFailed()
	m.Anomalies(3)
	m.Anomalies(-1)
	m.LowConfidence(4)
	m.StorageError()
	m.DeliveryError()
	m.SchemaExtended(2)
	m.ObserveAppend(3 * time.Millisecond)
	m.SetLevel("rack-1", "bottle", 1, 3, true, true)
	m.SetLevel("rack-1", "fork", 5, 0, false, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"stockwatch_frames_processed_total 2",
		"stockwatch_frames_failed_total 1",
		"stockwatch_anomalous_labels_total 3",
		"stockwatch_low_confidence_detections_total 4",
		"stockwatch_storage_errors_total 1",
		"stockwatch_delivery_errors_total 1",
		"stockwatch_schema_extensions_total 2",
		"stockwatch_append_duration_seconds_count 1",
		`stockwatch_item_count{item="bottle",stream="rack-1"} 1`,
		`stockwatch_item_minimum{item="bottle",stream="rack-1"} 3`,
		`stockwatch_item_deficient{item="bottle",stream="rack-1"} 1`,
		`stockwatch_item_deficient{item="fork",stream="rack-1"} 0`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(text, `stockwatch_item_minimum{item="fork"`) {
		t.Errorf("fork has no minimum but one was exported")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.FrameProcessed()
	m.FrameFailed()
	m.Anomalies(1)
	m.LowConfidence(1)
	m.StorageError()
	m.DeliveryError()
	m.SchemaExtended(1)
	m.ObserveAppend(time.Second)
	m.SetLevel("s", "i", 1, 1, true, false)
}
