package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/viant/stockwatch/alert"
	"github.com/viant/stockwatch/config"
	"github.com/viant/stockwatch/detection"
	"github.com/viant/stockwatch/engine"
	"github.com/viant/stockwatch/httpapi"
	"github.com/viant/stockwatch/invadmin"
	"github.com/viant/stockwatch/inventory"
	"github.com/viant/stockwatch/metrics"
	"github.com/viant/stockwatch/pipeline"
	"github.com/viant/stockwatch/store"
)

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*configPath)
}

func openStore(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*sql.DB, *store.SQLiteStore, error) {
	db, err := engine.OpenPath(cfg.Database)
	if err != nil {
		return nil, nil, inventory.NewStorageError("open database", err)
	}
	if err := invadmin.Register(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	st, err := store.NewSQLiteStore(db,
		store.WithObservationTable(cfg.Tables.Observations),
		store.WithThresholdTable(cfg.Tables.Thresholds),
		store.WithSchemaHook(func(table string, added []string, firstRowID int64) {
			m.SchemaExtended(len(added))
			logger.Info("observation table extended",
				"table", table,
				"columns", added,
				"first_row_id", firstRowID)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, st, nil
}

// seedCommand replaces the thresholds table with the configured minimums.
func seedCommand(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := loadConfig(flag.NewFlagSet("seed", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, stdout)
	if err := cfg.RequireThresholds(); err != nil {
		return err
	}
	table, err := cfg.ThresholdTable()
	if err != nil {
		return err
	}
	db, st, err := openStore(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := st.SeedThresholds(ctx, table); err != nil {
		return err
	}
	logger.Info("thresholds seeded",
		"database", cfg.Database,
		"table", cfg.Tables.Thresholds,
		"count", table.Len())
	return nil
}

// runCommand processes frames and serves the inventory API until the input
// is exhausted (without an API) or the process is signalled.
func runCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	input := fs.String("input", "", "JSON-lines frame file, - for stdin")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, stdout)
	slog.SetDefault(logger)
	logger.Info("starting stockwatch", "config", cfg.String())

	m := metrics.New()
	db, st, err := openStore(cfg, logger, m)
	if err != nil {
		return err
	}
	defer db.Close()

	vocab, err := cfg.VocabularySet()
	if err != nil {
		return err
	}

	var sinks alert.Multi
	if cfg.LogDeficient() {
		sinks = append(sinks, alert.LogSink{Logger: logger})
	}
	if cfg.MQTT.Broker != "" {
		mqttSink := alert.NewMQTTSink(cfg.MQTTOptions(), logger)
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := mqttSink.Connect(connectCtx)
		cancel()
		if err != nil {
			return err
		}
		defer mqttSink.Disconnect()
		sinks = append(sinks, mqttSink)
	}

	opts := []pipeline.Option{
		pipeline.WithSink(sinks),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
		pipeline.WithConfidence(cfg.Detector.Confidence),
		pipeline.WithUnobservedDeficient(cfg.Alert.UnobservedDeficient),
	}
	if cfg.Stream != "" {
		opts = append(opts, pipeline.WithStream(cfg.Stream))
	}
	driver, err := pipeline.New(ctx, st, vocab, opts...)
	if err != nil {
		return err
	}
	if err := invadmin.Bind(st, inventory.WithUnobservedDeficient(cfg.Alert.UnobservedDeficient)); err != nil {
		return err
	}
	if err := invadmin.CreateTable(ctx, db); err != nil {
		return inventory.NewStorageError("expose stock alerts", err)
	}

	var servers []*http.Server
	errCh := make(chan error, 2)
	if cfg.HTTP.Addr != "" {
		apiOpts := []httpapi.Option{httpapi.WithHistorySize(cfg.History.Size), httpapi.WithLogger(logger)}
		if cfg.Metrics.Addr == "" {
			apiOpts = append(apiOpts, httpapi.WithMetricsHandler(m.Handler()))
		}
		api := httpapi.New(driver, st, apiOpts...)
		servers = append(servers, serve(cfg.HTTP.Addr, api.Handler(), logger, errCh))
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		servers = append(servers, serve(cfg.Metrics.Addr, mux, logger, errCh))
	}

	if *input != "" {
		src, closeInput, err := openInput(*input, stdin)
		if err != nil {
			return err
		}
		n, err := driver.Run(ctx, detection.NewJSONLinesSource(src))
		closeInput()
		logger.Info("input processed", "records", n, "stream", driver.Stream())
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdown(servers, cfg.ShutdownTimeout(), logger)
			return err
		}
	}

	if len(servers) > 0 {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-errCh:
			shutdown(servers, cfg.ShutdownTimeout(), logger)
			return err
		}
	}
	shutdown(servers, cfg.ShutdownTimeout(), logger)
	logger.Info("stockwatch stopped")
	return nil
}

func openInput(name string, stdin io.Reader) (io.Reader, func(), error) {
	if name == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func serve(addr string, h http.Handler, logger *slog.Logger, errCh chan<- error) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv
}

func shutdown(servers []*http.Server, timeout time.Duration, logger *slog.Logger) {
	if len(servers) == 0 {
		return
	}
	logger.Info("shutting down gracefully", "timeout", timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
}
