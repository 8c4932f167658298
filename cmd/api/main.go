// @title EBICS Nexus Wire Gateway
// @version 1.0
// @description Taler wire-gateway HTTP facade backed by an EBICS bank
// @description connection: /config, /transfer, /history/incoming,
// @description /history/outgoing, /admin/add-incoming.
// @description
// @description ## Authentication
// @description Every endpoint requires HTTP Basic credentials.

// @license.name MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @tag.name facade
// @tag.description Wire-gateway HTTP endpoints
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ebicsnexus/internal/config"
	"ebicsnexus/internal/ebics"
	"ebicsnexus/internal/ebicsengine"
	"ebicsnexus/internal/httpapi"
	"ebicsnexus/internal/localbank"
	"ebicsnexus/internal/scheduler"
	"ebicsnexus/internal/store"
)

func main() {
	configPath := os.Getenv("NEXUS_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if configPath == "" {
		configPath = "nexus.conf"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, store.Config{
		Host:     cfg.NexusDB.Host,
		Port:     cfg.NexusDB.Port,
		User:     cfg.NexusDB.User,
		Password: cfg.NexusDB.Password,
		Name:     cfg.NexusDB.Name,
		SSLMode:  cfg.NexusDB.SSLMode,
		MaxConns: cfg.NexusDB.MaxConns,
	})
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	sub, err := st.LoadSubscriber(ctx, 1)
	if err != nil {
		slog.Error("failed to load subscriber 1; run the dbinit/ebics-setup CLI steps first", "error", err)
		os.Exit(1)
	}
	if sub.KeyState != store.StateReady {
		slog.Warn("subscriber key state is not READY; submitter/fetcher will idle until ebics-setup completes", "state", sub.KeyState)
	}

	transport := ebicsengine.NewHTTPTransport(cfg.NexusEbics.HostBaseURL)
	engine := ebicsengine.NewEngine(ebics.RequestContext{
		Version:   ebics.H004,
		HostID:    cfg.NexusEbics.HostID,
		PartnerID: cfg.NexusEbics.PartnerID,
		UserID:    cfg.NexusEbics.UserID,
	}, transport)

	sched := scheduler.New(st, engine, sub.ID, cfg.NexusEbics.IBAN, cfg.NexusEbics.BIC, cfg.NexusEbics.Name,
		scheduler.DefaultSubmitterConfig(), fetcherConfig(cfg))
	sched.Start(ctx)
	defer sched.Stop()

	localBank := localbank.New(st, sub.ID, cfg.NexusEbics.IBAN, nil)
	httpSrv := httpapi.New(st, httpapi.Config{
		Currency:       cfg.NexusEbics.Currency,
		SubscriberIBAN: cfg.NexusEbics.IBAN,
		BasicAuthUser:  os.Getenv("NEXUS_HTTP_USER"),
		BasicAuthPass:  os.Getenv("NEXUS_HTTP_PASSWORD"),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		AdminEnabled:   cfg.Environment != config.EnvProduction,
	}, localBank)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Start(ctx, ":"+cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("http server error", "error", err)
		}
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}

func fetcherConfig(cfg *config.Config) scheduler.FetcherConfig {
	fc := scheduler.DefaultFetcherConfig()
	if cfg.NexusFetch.Frequency > 0 {
		fc.PollInterval = cfg.NexusFetch.Frequency
	}
	fc.IgnoreTransactionsBefore = cfg.NexusFetch.IgnoreTransactionsBefore
	return fc
}

// setupLogging configures the global slog logger: JSON in production,
// text in development, matching the teacher's split exactly.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Environment == config.EnvProduction {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
