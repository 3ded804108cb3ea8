// Package httpapi exposes a pipeline driver over HTTP: frame submission, the
// current stock table and the recent history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/viant/stockwatch/alert"
	"github.com/viant/stockwatch/detection"
	"github.com/viant/stockwatch/inventory"
	"github.com/viant/stockwatch/pipeline"
	"github.com/viant/stockwatch/store"
)

const maxFrameBytes = 4 << 20

// Inventory is the driver surface the API serves.
type Inventory interface {
	ProcessFrame(ctx context.Context, frame detection.Frame) (pipeline.Result, error)
	Status(ctx context.Context) (pipeline.Result, error)
	RecentHistory(ctx context.Context, n int) ([]inventory.Record, error)
}

// RecordReader fetches single records by id.
type RecordReader interface {
	Record(ctx context.Context, id int64) (inventory.Record, error)
}

// SchemaLog lists the item columns added to the observation table. A
// RecordReader that also implements it serves GET /inventory/schema.
type SchemaLog interface {
	Migrations(ctx context.Context) ([]store.Migration, error)
}

// Server wires HTTP endpoints to one inventory stream.
type Server struct {
	inventory   Inventory
	records     RecordReader
	historySize int
	timeout     time.Duration
	metrics     http.Handler
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithHistorySize sets the number of records GET /inventory/history returns
// without an n parameter.
func WithHistorySize(n int) Option {
	return func(s *Server) { s.historySize = n }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTimeout bounds the storage work of one request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a server. records may be nil, which disables
// GET /inventory/records/{id}.
func New(inv Inventory, records RecordReader, opts ...Option) *Server {
	s := &Server{
		inventory:   inv,
		records:     records,
		historySize: 30,
		timeout:     5 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler exposes the inventory routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inventory/frames", s.submitFrame)
	mux.HandleFunc("GET /inventory/status", s.status)
	mux.HandleFunc("GET /inventory/history", s.history)
	mux.HandleFunc("GET /inventory/records/{id}", s.record)
	mux.HandleFunc("GET /inventory/schema", s.schema)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// ResultPayload is the JSON form of a processed frame or status query.
type ResultPayload struct {
	alert.Notification
	Anomalies []string `json:"anomalies,omitempty"`
	Dropped   int      `json:"dropped,omitempty"`
	Stage     string   `json:"stage"`
}

// RecordPayload is the JSON form of a persisted record.
type RecordPayload struct {
	ID        int64          `json:"id"`
	FrameNo   int64          `json:"frame_no,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Counts    map[string]int `json:"counts"`
}

type errorPayload struct {
	Error  string         `json:"error"`
	Result *ResultPayload `json:"result,omitempty"`
}

func (s *Server) submitFrame(w http.ResponseWriter, r *http.Request) {
	var frame detection.Frame
	body := http.MaxBytesReader(w, r.Body, maxFrameBytes)
	if err := json.NewDecoder(body).Decode(&frame); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid frame: " + err.Error()})
		return
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = s.now()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.inventory.ProcessFrame(ctx, frame)
	if err != nil {
		payload := errorPayload{Error: err.Error()}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) && stageErr.Committed() {
			p := newResultPayload(res)
			payload.Result = &p
		}
		s.fail(r, w, err, payload)
		return
	}
	writeJSON(w, http.StatusCreated, newResultPayload(res))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.inventory.Status(ctx)
	if err != nil {
		s.fail(r, w, err, errorPayload{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newResultPayload(res))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	n := s.historySize
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "n must be a non-negative integer"})
			return
		}
		n = v
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	recs, err := s.inventory.RecentHistory(ctx, n)
	if err != nil {
		s.fail(r, w, err, errorPayload{Error: err.Error()})
		return
	}
	out := make([]RecordPayload, len(recs))
	for i, rec := range recs {
		out[i] = newRecordPayload(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeJSON(w, http.StatusNotFound, errorPayload{Error: "record lookup is not available"})
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "id must be a positive integer"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	rec, err := s.records.Record(ctx, id)
	if err != nil {
		s.fail(r, w, err, errorPayload{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newRecordPayload(rec))
}

// MigrationPayload is the JSON form of one schema log entry.
type MigrationPayload struct {
	Table      string    `json:"table"`
	Column     string    `json:"column"`
	FirstRowID int64     `json:"first_row_id"`
	AppliedAt  time.Time `json:"applied_at"`
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	schemaLog, ok := s.records.(SchemaLog)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorPayload{Error: "schema log is not available"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	migrations, err := schemaLog.Migrations(ctx)
	if err != nil {
		s.fail(r, w, err, errorPayload{Error: err.Error()})
		return
	}
	out := make([]MigrationPayload, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, MigrationPayload{
			Table:      m.Table,
			Column:     m.Column,
			FirstRowID: m.FirstRowID,
			AppliedAt:  m.AppliedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(r *http.Request, w http.ResponseWriter, err error, payload errorPayload) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", code,
			"error", err)
	}
	writeJSON(w, code, payload)
}

// StatusFor maps an inventory error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, inventory.ErrStorage), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func newResultPayload(res pipeline.Result) ResultPayload {
	return ResultPayload{
		Notification: alert.NewNotification(alert.Delivery{
			Stream:    res.Stream,
			Record:    res.Record,
			Snapshot:  res.Snapshot,
			Deficient: res.Deficient,
		}),
		Anomalies: res.Anomalies,
		Dropped:   res.Dropped,
		Stage:     res.Stage.String(),
	}
}

func newRecordPayload(rec inventory.Record) RecordPayload {
	p := RecordPayload{ID: rec.ID, FrameNo: rec.FrameNo, Counts: make(map[string]int, len(rec.Counts))}
	if !rec.Timestamp.IsZero() {
		ts := rec.Timestamp.UTC()
		p.Timestamp = &ts
	}
	for item, c := range rec.Counts {
		p.Counts[string(item)] = c
	}
	return p
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
