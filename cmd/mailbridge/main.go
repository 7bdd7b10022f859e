package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/mailbridge/internal/api"
	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/events"
	"github.io/infrasutra/mailbridge/internal/inbox"
	"github.io/infrasutra/mailbridge/internal/mailer"
	"github.io/infrasutra/mailbridge/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(db)
	dispatcher := mailer.New(mailer.SMTPDialer(cfg), logger)
	fetcher := inbox.NewFetcher(verifier, inbox.IMAPDialer(cfg), logger)
	hub := events.NewHub()
	apiServer := api.NewServer(db, verifier, dispatcher, fetcher, hub, logger)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr, "smtp", cfg.SMTPAddr(), "imap", cfg.IMAPAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
}
