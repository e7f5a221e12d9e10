package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"facloc/internal/api"
	"facloc/internal/buildinfo"
	"facloc/internal/integrations"
	"facloc/internal/integrations/jsonfile"
)

func main() {
	_ = godotenv.Load()

	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	srvDeps, err := api.NewServer(api.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal("failed to init server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir := os.Getenv("SEED_DIR"); dir != "" {
		tenant := getEnv("SEED_TENANT", "t_demo")
		recs, err := integrations.Import(ctx, jsonfile.Dir{Path: dir}, srvDeps.Store, tenant)
		if err != nil {
			log.Warn("seed instances", zap.String("dir", dir), zap.Error(err))
		}
		log.Info("seeded instances", zap.String("dir", dir), zap.String("tenant", tenant), zap.Int("count", len(recs)))
	}

	addr := ":" + getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srvDeps.NewWebhookWorker()
	go worker.Run(ctx)

	go func() {
		log.Info("API listening", zap.String("addr", addr), zap.String("version", buildinfo.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := srvDeps.Runs.Shutdown(shutdownCtx); err != nil {
		log.Warn("runs shutdown", zap.Error(err))
	}
	if c, ok := srvDeps.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := srvDeps.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_FORMAT") == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
