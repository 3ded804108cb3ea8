package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Box is a detection bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one object found in a frame.
type Detection struct {
	Label string `json:"label"`
	// Confidence decodes as 1 when absent: the producer already filtered.
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// UnmarshalJSON decodes a detection, defaulting a missing confidence to 1.
func (d *Detection) UnmarshalJSON(data []byte) error {
	type plain Detection
	aux := struct {
		*plain
		Confidence *float64 `json:"confidence"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.Confidence = 1
	if aux.Confidence != nil {
		d.Confidence = *aux.Confidence
	}
	return nil
}

// Frame is the set of detections for one video frame or uploaded image.
type Frame struct {
	// FrameNo is the position of the frame in its source, starting at 1.
	FrameNo int64 `json:"frame_no,omitempty"`

	// Timestamp is the capture time, zero when the source has none.
	Timestamp time.Time `json:"timestamp"`

	Detections []Detection `json:"detections"`
}

// Labels returns the labels of detections at or above minConfidence, in
// detection order.
func (f Frame) Labels(minConfidence float64) []string {
	labels, _ := f.Filter(minConfidence)
	return labels
}

// Filter is Labels that also reports how many detections fell below
// minConfidence.
func (f Frame) Filter(minConfidence float64) (labels []string, dropped int) {
	labels = make([]string, 0, len(f.Detections))
	for _, d := range f.Detections {
		if d.Confidence < minConfidence {
			dropped++
			continue
		}
		labels = append(labels, d.Label)
	}
	return labels, dropped
}

// Image is a decoded frame handed to a Detector.
type Image struct {
	FrameNo   int64
	Timestamp time.Time
	Data      []byte
}

// ImageSource yields images in order. Next returns io.EOF at end of stream.
type ImageSource interface {
	Next(ctx context.Context) (Image, error)
}

// Detector runs object detection on one image and returns the detections at
// or above confidence.
type Detector interface {
	Detect(ctx context.Context, image Image, confidence float64) ([]Detection, error)
}

// Source yields detection frames in order. Next returns io.EOF at end of
// stream.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// UnmarshalJSON accepts both {"x1":..} objects and [x1, y1, x2, y2] arrays,
// the form most detector exports use.
func (b *Box) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var coords []float64
		if err := json.Unmarshal(data, &coords); err != nil {
			return err
		}
		if len(coords) != 4 {
			return fmt.Errorf("detection: box needs 4 coordinates, got %d", len(coords))
		}
		b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
		return nil
	}
	type plain Box
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Box(p)
	return nil
}
