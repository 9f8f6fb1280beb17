package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/psychobrio/connect/internal/config"
	"github.com/psychobrio/connect/internal/httpapi"
	"github.com/psychobrio/connect/internal/narrative"
	"github.com/psychobrio/connect/internal/store"
	"github.com/psychobrio/connect/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (env vars still override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := telemetry.NewLogger(cfg.LogMode)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, log, telemetry.TraceConfig{
		ServiceName: "psychobrio-connect",
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalw("init tracing", "error", err)
	}

	var st store.API
	if cfg.SQLitePath != "" {
		ss, err := store.NewSQLiteStore(cfg.SQLitePath, store.Config{})
		if err != nil {
			log.Fatalw("init sqlite store", "path", cfg.SQLitePath, "error", err)
		}
		st = ss
		log.Infow("using sqlite store", "path", cfg.SQLitePath)
	} else {
		st = store.NewStore(store.Config{})
		log.Warnw("using in-memory store, data will not survive restarts")
	}

	var gen narrative.TextGenerator
	if key := cfg.APIKey(); key != "" {
		ag, err := narrative.NewAnthropicGenerator(key, narrative.GeneratorConfig{
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Temperature: cfg.Anthropic.Temperature,
		})
		if err != nil {
			log.Fatalw("init anthropic generator", "error", err)
		}
		gen = ag
	} else {
		log.Warnw("ANTHROPIC_API_KEY not set, conclusion generation endpoints will fail")
	}

	compiler := narrative.NewCompiler(st, gen, cfg.Anthropic.Model, log)
	handler := httpapi.NewServer(st, compiler, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("serve", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Errorw("tracing shutdown", "error", err)
	}
}
