package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viant/stockwatch/inventory"
)

// Delivery is what a pipeline driver hands to a Sink after each frame.
type Delivery struct {
	Stream    string
	Record    inventory.Record
	Snapshot  inventory.Snapshot
	Deficient []inventory.ItemClass
}

// Sink receives deliveries. Deliver is called once per processed frame, in
// frame order for a given stream.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, d Delivery) error

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Multi delivers to every sink in order. All sinks are called even when one
// fails; the failures are joined.
type Multi []Sink

// Deliver implements Sink.
func (m Multi) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every delivery.
var Discard Sink = Func(func(context.Context, Delivery) error { return nil })

// LevelPayload is one stock table row as published to external consumers.
type LevelPayload struct {
	Item      string `json:"item"`
	Count     int    `json:"count"`
	Minimum   *int   `json:"minimum,omitempty"`
	Observed  bool   `json:"observed"`
	Deficient bool   `json:"deficient"`
}

// Notification is the JSON form of a Delivery.
type Notification struct {
	Stream    string         `json:"stream"`
	RecordID  int64          `json:"record_id"`
	FrameNo   int64          `json:"frame_no,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Deficient []string       `json:"deficient"`
	Levels    []LevelPayload `json:"levels"`
}

// NewNotification renders d for publication.
func NewNotification(d Delivery) Notification {
	n := Notification{
		Stream:    d.Stream,
		RecordID:  d.Record.ID,
		FrameNo:   d.Record.FrameNo,
		Deficient: make([]string, len(d.Deficient)),
		Levels:    make([]LevelPayload, 0, len(d.Snapshot.Levels)),
	}
	if !d.Record.Timestamp.IsZero() {
		ts := d.Record.Timestamp.UTC()
		n.Timestamp = &ts
	}
	for i, item := range d.Deficient {
		n.Deficient[i] = string(item)
	}
	for _, l := range d.Snapshot.Levels {
		p := LevelPayload{
			Item:      string(l.Item),
			Count:     l.Count,
			Observed:  l.Observed,
			Deficient: d.Snapshot.Below(l),
		}
		if l.HasThreshold {
			minimum := l.Minimum
			p.Minimum = &minimum
		}
		n.Levels = append(n.Levels, p)
	}
	return n
}

// LogSink writes one WARN line per deficient item and a DEBUG summary of
// every delivery.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, d Delivery) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "inventory updated",
		"stream", d.Stream,
		"record_id", d.Record.ID,
		"frame_no", d.Record.FrameNo,
		"deficient", len(d.Deficient))
	for _, item := range d.Deficient {
		level, _ := d.Snapshot.Lookup(item)
		logger.WarnContext(ctx, "item below minimum stock",
			"stream", d.Stream,
			"item", string(item),
			"count", level.Count,
			"minimum", level.Minimum,
			"record_id", d.Record.ID)
	}
	return nil
}
