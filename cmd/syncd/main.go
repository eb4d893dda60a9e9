package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/matchkeeper/matchsync/internal/channel"
	"github.com/matchkeeper/matchsync/internal/config"
	"github.com/matchkeeper/matchsync/internal/httpapi"
	"github.com/matchkeeper/matchsync/internal/publisher"
	"github.com/matchkeeper/matchsync/internal/reconcile"
	"github.com/matchkeeper/matchsync/internal/remote"
	"github.com/matchkeeper/matchsync/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment variables directly")
	}
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("open local store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := channel.New(channel.Config{
		URL:               cfg.ChannelURL,
		AckTimeout:        cfg.AckTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		MaxAttempts:       cfg.ReconnectMaxAttempts,
	}, logger)
	ch.Start(ctx)

	pub := publisher.New(st, ch, logger)

	client := remote.NewClient(nil, cfg.RemoteBaseURL, cfg.AuthToken)
	syn := reconcile.New(st, client, logger, cfg.UserID, ch.Connected)
	if err := syn.StartScheduler(cfg.FlushInterval); err != nil {
		logger.Fatal("start flush scheduler", zap.Error(err))
	}

	handler := httpapi.SetupRoutes(ch, pub, syn)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Teardown order matters: stop new passes first, then drop the
	// channel. Pending outbox rows stay pending for the next startup.
	syn.Stop()
	pub.Close()
	ch.Close()
	_ = srv.Shutdown(context.Background())
}
