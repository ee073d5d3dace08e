package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"click-predict/internal/cfg"
	"click-predict/internal/metrics"
	"click-predict/internal/server"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	cfg.SetupLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	svc := server.NewService(mw)
	if err := svc.Load(c.ModelPath); err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model load failed")
	}

	srv := server.New(svc, mw, prometheus.DefaultGatherer, c.Port, c.RequestTimeout)
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server stopped")
}
