package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"click-predict/internal/cfg"
	"click-predict/internal/ingest"
	"click-predict/internal/storage"

	"github.com/joho/godotenv"
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

	src, err := cfg.LoadSources(c.SourcesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("sources load failed")
	}

	// The registry is optional; the import runs without it.
	store, err := storage.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without registry")
		store = nil
	}
	if store != nil {
		defer store.Close()
		logPreviousImport(store, c.JoinedPath)
	}

	if err := os.MkdirAll(filepath.Dir(c.JoinedPath), 0o755); err != nil {
		log.Fatal().Err(err).Str("path", c.JoinedPath).Msg("cannot create output directory")
	}

	stats, err := ingest.Run(ctx, src, c.JoinedPath)
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}

	if store == nil {
		return
	}
	rec, err := store.RecordImport(storage.ImportRecord{
		SessionsSource:   src.SessionsZip,
		HitsSource:       src.HitsZip,
		OutputPath:       c.JoinedPath,
		Sessions:         stats.Sessions,
		LabeledSessions:  stats.LabeledSessions,
		JoinedRows:       stats.JoinedRows,
		PositiveSessions: stats.PositiveSessions,
		Duration:         stats.Duration,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record import run")
		return
	}
	log.Info().Str("id", rec.ID).Msg("Import run recorded")
}

func logPreviousImport(store *storage.Store, out string) {
	prev, err := store.LatestImport(out)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to read previous import")
		return
	}
	log.Info().
		Str("id", prev.ID).
		Time("created_at", prev.CreatedAt).
		Int("joined_rows", prev.JoinedRows).
		Int("positive_sessions", prev.PositiveSessions).
		Str("path", out).
		Msg("Replacing joined table from previous import")
}
