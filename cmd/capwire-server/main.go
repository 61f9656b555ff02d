// Command capwire-server hosts the weather capability provider over the
// bidirectional HTTP transport.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/capwire/capwire/internal/logctx"
	"github.com/capwire/capwire/server"
	"github.com/capwire/capwire/weather"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
	})
	slog.SetDefault(log)

	cfg := server.ConfigFromEnv()
	provider := weather.NewProvider(weather.NewClient(weather.WithLogger(log)))

	srv, err := server.New(cfg, provider, log)
	if err != nil {
		log.Error("failed to assemble server", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		log.Error("server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
