package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viant/stockwatch/alert"
	"github.com/viant/stockwatch/detection"
	"github.com/viant/stockwatch/inventory"
	"github.com/viant/stockwatch/metrics"
	"github.com/viant/stockwatch/store"
)

// Result is what one processed frame produced.
type Result struct {
	Stream string

	// Record is the persisted record, with its store-assigned ID. It is set
	// whenever the frame got past Persisted, even if a later stage failed.
	Record    inventory.Record
	Snapshot  inventory.Snapshot
	Deficient []inventory.ItemClass

	// Anomalies are detected labels outside the vocabulary.
	Anomalies []string
	// Dropped counts detections below the confidence threshold.
	Dropped int

	// Stage is the last stage the frame reached.
	Stage Stage
}

// Driver processes the frames of one stream.
type Driver struct {
	stream     string
	vocab      inventory.Vocabulary
	store      store.Store
	sink       alert.Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	confidence float64
	joinOpts   []inventory.JoinOption

	mu sync.Mutex
}

// Option customises a Driver.
type Option func(*Driver)

// WithStream sets the stream id. By default a random UUID is used.
func WithStream(id string) Option {
	return func(d *Driver) { d.stream = id }
}

// WithSink sets the alert sink. The default discards deliveries.
func WithSink(s alert.Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithConfidence drops detections below c before counting.
func WithConfidence(c float64) Option {
	return func(d *Driver) { d.confidence = c }
}

// WithUnobservedDeficient treats threshold items absent from the latest
// record as deficient.
func WithUnobservedDeficient(enabled bool) Option {
	return func(d *Driver) {
		d.joinOpts = append(d.joinOpts, inventory.WithUnobservedDeficient(enabled))
	}
}

// New creates a driver over st. The vocabulary must be usable as column
// names and the store must already hold at least one threshold.
func New(ctx context.Context, st store.Store, vocab inventory.Vocabulary, opts ...Option) (*Driver, error) {
	if st == nil {
		return nil, inventory.Configurationf("pipeline needs a store")
	}
	if vocab.Len() == 0 {
		return nil, inventory.Configurationf("pipeline needs a non-empty vocabulary")
	}
	if err := store.CheckVocabulary(vocab); err != nil {
		return nil, err
	}
	d := &Driver{
		stream: uuid.NewString(),
		vocab:  vocab,
		store:  st,
		sink:   alert.Discard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = alert.Discard
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("stream", d.stream)

	table, err := st.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, inventory.Configurationf("threshold table is empty; seed it before starting a stream")
	}
	return d, nil
}

// Stream returns the stream id.
func (d *Driver) Stream() string { return d.stream }

// Vocabulary returns the items the driver counts.
func (d *Driver) Vocabulary() inventory.Vocabulary { return d.vocab }

// ProcessFrame runs one frame through the pipeline. Every error is a
// *StageError; errors.Is matches the underlying inventory error kind.
func (d *Driver) ProcessFrame(ctx context.Context, frame detection.Frame) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{Stream: d.stream, Stage: RawDetections}

	labels, dropped := frame.Filter(d.confidence)
	res.Dropped = dropped
	if dropped > 0 {
		d.metrics.LowConfidence(dropped)
		d.logger.DebugContext(ctx, "low-confidence detections dropped",
			"frame_no", frame.FrameNo,
			"dropped", dropped,
			"confidence", d.confidence)
	}
	summary, err := inventory.Summarize(d.vocab, labels)
	if err != nil {
		return res, d.fail(ctx, &res, Summarized, frame.FrameNo, err)
	}
	res.Stage = Summarized
	res.Anomalies = summary.Unknown
	if len(summary.Unknown) > 0 {
		d.metrics.Anomalies(len(summary.Unknown))
		d.logger.WarnContext(ctx, "labels outside vocabulary ignored",
			"frame_no", frame.FrameNo,
			"labels", summary.Unknown)
	}

	rec := summary.Record
	rec.FrameNo = frame.FrameNo
	rec.Timestamp = frame.Timestamp
	started := time.Now()
	rec, err = d.store.Append(ctx, rec)
	d.metrics.ObserveAppend(time.Since(started))
	if err != nil {
		return res, d.fail(ctx, &res, Persisted, frame.FrameNo, err)
	}
	res.Stage = Persisted
	res.Record = rec
	d.metrics.FrameProcessed()

	if err := d.evaluate(ctx, &res); err != nil {
		return res, d.fail(ctx, &res, SnapshotComputed, frame.FrameNo, err)
	}

	if err := d.sink.Deliver(ctx, alert.Delivery{
		Stream:    d.stream,
		Record:    res.Record,
		Snapshot:  res.Snapshot,
		Deficient: res.Deficient,
	}); err != nil {
		d.metrics.DeliveryError()
		return res, d.fail(ctx, &res, Delivered, frame.FrameNo, err)
	}
	res.Stage = Delivered
	return res, nil
}

// Status recomputes the snapshot and deficient items of the latest persisted
// record without appending or delivering anything. An empty store yields an
// *inventory.NotFoundError.
func (d *Driver) Status(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := Result{Stream: d.stream, Stage: RawDetections}
	rec, err := d.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, inventory.ErrStorage) {
			d.metrics.StorageError()
		}
		return res, err
	}
	res.Record = rec
	res.Stage = Persisted
	if err := d.evaluate(ctx, &res); err != nil {
		if errors.Is(err, inventory.ErrStorage) {
			d.metrics.StorageError()
		}
		return res, err
	}
	return res, nil
}

// RecentHistory returns up to n most recent records of the store, oldest
// first.
func (d *Driver) RecentHistory(ctx context.Context, n int) ([]inventory.Record, error) {
	recs, err := d.store.Recent(ctx, n)
	if err != nil && errors.Is(err, inventory.ErrStorage) {
		d.metrics.StorageError()
	}
	return recs, err
}

// evaluate joins res.Record with the thresholds as they are now and derives
// the deficient items. Thresholds are re-read every time so a reseed takes
// effect on the next frame.
func (d *Driver) evaluate(ctx context.Context, res *Result) error {
	table, err := d.store.Thresholds(ctx)
	if err != nil {
		return err
	}
	res.Snapshot = inventory.Join(res.Record, table, d.joinOpts...)
	res.Stage = SnapshotComputed

	res.Deficient = inventory.Deficient(res.Snapshot)
	res.Stage = DeficiencyComputed

	for _, l := range res.Snapshot.Levels {
		d.metrics.SetLevel(d.stream, string(l.Item), l.Count, l.Minimum, l.HasThreshold, res.Snapshot.Below(l))
	}
	return nil
}

func (d *Driver) fail(ctx context.Context, res *Result, stage Stage, frameNo int64, err error) error {
	d.metrics.FrameFailed()
	attrs := []interface{}{
		"stage", stage.String(),
		"frame_no", frameNo,
		"error", err,
	}
	if stage > Persisted {
		attrs = append(attrs, "record_id", res.Record.ID)
	}
	if errors.Is(err, inventory.ErrStorage) {
		d.metrics.StorageError()
		d.logger.ErrorContext(ctx, "storage failure", attrs...)
	} else {
		d.logger.ErrorContext(ctx, "frame processing failed", attrs...)
	}
	return &StageError{Stage: stage, Err: err}
}

// Run processes frames from src until it is exhausted or ctx is done. A
// frame that failed after its record was committed is logged and skipped;
// any other failure stops the run. Run returns the number of records
// persisted.
func (d *Driver) Run(ctx context.Context, src detection.Source) (int, error) {
	persisted := 0
	for {
		if err := ctx.Err(); err != nil {
			return persisted, err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return persisted, nil
		}
		if err != nil {
			return persisted, err
		}
		_, err = d.ProcessFrame(ctx, frame)
		var stageErr *StageError
		switch {
		case err == nil:
			persisted++
		case errors.As(err, &stageErr) && stageErr.Committed():
			persisted++
		default:
			return persisted, err
		}
	}
}
