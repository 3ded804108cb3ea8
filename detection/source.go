package detection

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const maxLineBytes = 4 << 20

// JSONLinesSource reads one JSON-encoded Frame per line, the format an
// external detector process writes to its standard output. Blank lines are
// skipped. Frames without a frame number are numbered sequentially; frames
// without a timestamp get the read time.
type JSONLinesSource struct {
	scanner *bufio.Scanner
	line    int
	frameNo int64
	now     func() time.Time
}

// NewJSONLinesSource creates a source reading from r.
func NewJSONLinesSource(r io.Reader) *JSONLinesSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &JSONLinesSource{scanner: scanner, now: time.Now}
}

// Next returns the next frame or io.EOF.
func (s *JSONLinesSource) Next(ctx context.Context) (Frame, error) {
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return Frame{}, err
			}
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Frame{}, fmt.Errorf("detection: read line %d: %w", s.line+1, err)
			}
			return Frame{}, io.EOF
		}
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return Frame{}, fmt.Errorf("detection: parse line %d: %w", s.line, err)
		}
		s.frameNo++
		if f.FrameNo == 0 {
			f.FrameNo = s.frameNo
		} else {
			s.frameNo = f.FrameNo
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = s.now()
		}
		return f, nil
	}
}

// DetectingSource runs a Detector over every image of an ImageSource.
type DetectingSource struct {
	Images     ImageSource
	Detector   Detector
	Confidence float64
}

// Next decodes the next image and returns its detections.
func (s *DetectingSource) Next(ctx context.Context) (Frame, error) {
	if s.Images == nil || s.Detector == nil {
		return Frame{}, fmt.Errorf("detection: DetectingSource needs Images and Detector")
	}
	img, err := s.Images.Next(ctx)
	if err != nil {
		return Frame{}, err
	}
	dets, err := s.Detector.Detect(ctx, img, s.Confidence)
	if err != nil {
		return Frame{}, fmt.Errorf("detection: frame %d: %w", img.FrameNo, err)
	}
	return Frame{FrameNo: img.FrameNo, Timestamp: img.Timestamp, Detections: dets}, nil
}

var (
	_ Source = (*JSONLinesSource)(nil)
	_ Source = (*DetectingSource)(nil)
)
