package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/adgmcheck/internal/api"
	"github.com/dgallion1/adgmcheck/internal/archive"
	"github.com/dgallion1/adgmcheck/internal/metrics"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := loadConfig()
	if err == nil {
		err = cfg.ValidateServer()
	}
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	a, err := newApp(ctx, cfg, log, m)
	if err != nil {
		log.Error("initialize pipeline", "error", err)
		return err
	}
	defer a.Close()

	arc, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		log.Error("open run archive", "error", err, "path", cfg.ArchivePath)
		return err
	}
	defer arc.Close()

	queue := pipeline.NewQueue(a.engine, arc, pipeline.QueueConfig{
		Workers:      cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		RunTTL:       cfg.RunTTL,
	}, log)
	queue.Start(ctx)

	srv := api.NewServer(api.Options{
		Queue:   queue,
		Archive: arc,
		Index:   a.index,
		LoadIndex: func(ctx context.Context) (retrieval.Index, error) {
			return retrieval.Open(ctx, indexSource(cfg))
		},
		AdvisoryStats:  a.stats,
		AdvisoryModel:  a.model,
		Metrics:        m.Handler(),
		APIKey:         cfg.APIKey,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		queue.Stop()
	}()

	log.Info("starting adgmcheck",
		"port", cfg.Port,
		"advisory", cfg.LLMProvider,
		"index_version", a.index.Version(),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		return err
	}
	<-done
	return nil
}
