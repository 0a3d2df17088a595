package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"daysync/config"
	"daysync/internal/clients/caldav"
	"daysync/internal/clients/google"
	"daysync/internal/crypto"
	"daysync/internal/notify"
	"daysync/internal/scheduler"
	"daysync/internal/server"
	"daysync/internal/service"
	"daysync/internal/storage"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := config.Load()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to init storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	var sealer *crypto.Sealer
	if cfg.EncryptionSecret != "" {
		sealer, err = crypto.NewSealer(cfg.EncryptionSecret)
		if err != nil {
			level.Error(logger).Log("msg", "failed to init sealer", "err", err)
			os.Exit(1)
		}
	} else {
		level.Warn(logger).Log("msg", "CALENDAR_ENCRYPTION_KEY not set, calendar sync disabled")
	}

	googleClient := google.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL,
		log.With(logger, "component", "google"))
	caldavClient := caldav.NewClient(log.With(logger, "component", "caldav"))
	providers := map[string]service.Provider{
		"google": googleClient,
		"caldav": caldavClient,
	}

	vault := service.NewVaultService(store, googleClient, caldavClient, sealer, cfg.EncryptionSecret,
		log.With(logger, "component", "vault"))
	catalog := service.NewCatalogService(store, vault, providers, log.With(logger, "component", "catalog"))
	fetcher := service.NewFetchService(vault, providers, cfg.FetchWorkers, log.With(logger, "component", "fetch"))
	importer := service.NewImportService(store, log.With(logger, "component", "import"))

	srv := server.New(store, vault, catalog, fetcher, importer, store, cfg.FrontendURL,
		log.With(logger, "component", "http"))

	sched := scheduler.New(cfg, store, store, fetcher, importer, log.With(logger, "component", "scheduler"))
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			level.Warn(logger).Log("msg", "telegram notifier disabled", "err", err)
		} else {
			sched.SetNotifier(notifier)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			level.Error(logger).Log("msg", "scheduler error", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: srv.Handler(),
	}
	go func() {
		level.Info(logger).Log("msg", "http server listening", "port", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "http server error", "err", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "http shutdown error", "err", err)
	}

	level.Info(logger).Log("msg", "stopped")
}
