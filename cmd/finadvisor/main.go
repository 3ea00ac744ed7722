package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finadvisor/internal/advisory"
	"finadvisor/internal/amqp"
	"finadvisor/internal/auth"
	"finadvisor/internal/cli"
	"finadvisor/internal/dashboard"
	apphttp "finadvisor/internal/http"
	"finadvisor/internal/log"
	"finadvisor/internal/mutation"
	"finadvisor/internal/pipeline"
	"finadvisor/internal/session"
)

const eventQueueSize = 256

func main() {
	cli.LoadEnvFile()

	cfg, cfgErr := cli.LoadConfig()
	logger := cli.SetupLogger(cfg)
	if cfgErr != nil {
		logger.Error("Failed to load config file", log.FieldError, cfgErr, "path", cfg.ConfigFile)
		os.Exit(1)
	}
	cli.ValidateConfig(logger, cfg)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	var persist session.Persister
	repo := cli.InitSQLite(logger, cfg)
	if repo != nil {
		persist = repo
	}

	store := session.NewStore(persist, logger)
	if err := store.Restore(startCtx); err != nil {
		logger.Warn("Could not restore saved session", log.FieldError, err)
	}

	publisher := amqp.NewAsyncPublisher(cli.ConnectAMQP(startCtx, logger, cfg), eventQueueSize, logger)
	store.Subscribe(amqp.SessionForwarder(publisher, logger))

	p := pipeline.New(cfg.APIBaseURL, store,
		pipeline.WithTimeouts(cfg.Timeout),
		pipeline.WithRateLimit(cfg.OutboundRPS, cfg.OutboundBurst),
		pipeline.WithLogger(logger),
	)

	dash := dashboard.New(p, store, logger)
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Auth:      auth.NewService(p, store, logger),
		Sessions:  store,
		Advisory:  advisory.New(p, store, logger),
		Dashboard: dash,
		Budgets:   mutation.NewBudgetSubmitter(p, store, dash, publisher, logger),
		Goals:     mutation.NewGoalSubmitter(p, store, dash, publisher, logger),
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		closed := make(chan error, 1)
		go func() { closed <- publisher.Close() }()
		select {
		case err := <-closed:
			if err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		case <-ctx.Done():
			logger.Warn("Gave up flushing lifecycle events", "dropped", publisher.Dropped())
		}
		if repo != nil {
			if err := repo.Close(); err != nil {
				logger.Warn("SQLite close error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting finadvisor",
		"port", cfg.Port,
		"api_base_url", cfg.APIBaseURL,
		"authenticated", store.IsAuthenticated())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
