package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"click-predict/internal/cfg"
	"click-predict/internal/ingest"
	"click-predict/internal/ml"
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

	// The registry is optional; training runs without it.
	store, err := storage.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without registry")
		store = nil
	}
	var previous *storage.RunRecord
	if store != nil {
		defer store.Close()
		previous = logHistory(store, c.JoinedPath)
	}

	rows, err := ingest.ReadJoined(c.JoinedPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.JoinedPath).Msg("failed to read joined table")
	}
	log.Info().Int("rows", len(rows)).Str("path", c.JoinedPath).Msg("Joined table loaded")

	trainCfg := ml.TrainConfigFromSettings(c)
	res, err := ml.NewTrainer(trainCfg).Train(ctx, rows)
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	artifact := &ml.Artifact{
		Pipeline: res.Pipeline,
		Metadata: ml.NewMetadata(c.Model, res.Pipeline.Model.Kind(), res.AUC, time.Now()),
	}
	sum, err := ml.Save(c.ModelPath, artifact)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("failed to save model")
	}

	event := log.Info().
		Str("path", c.ModelPath).
		Str("sha256", sum).
		Float64("roc_auc", res.AUC)
	if previous != nil {
		event = event.Float64("roc_auc_change", res.AUC-previous.ROCAUC)
	}
	event.Msg("Model saved")

	if store == nil {
		return
	}
	run, err := store.RecordRun(storage.RunRecord{
		CreatedAt:     artifact.Metadata.Date,
		ArtifactPath:  c.ModelPath,
		SHA256:        sum,
		ModelName:     artifact.Metadata.Name,
		ModelVersion:  artifact.Metadata.Version,
		ModelType:     artifact.Metadata.Type,
		ROCAUC:        res.AUC,
		BestIteration: res.BestIteration,
		TrainRows:     res.TrainRows,
		TestRows:      res.TestRows,
		Seed:          trainCfg.Seed,
		Duration:      res.Duration,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record training run")
		return
	}
	log.Info().Str("id", run.ID).Msg("Training run recorded")
}

// logHistory reports the import that wrote the joined table and the model
// about to be replaced. It returns the previous run, if any.
func logHistory(store *storage.Store, joinedPath string) *storage.RunRecord {
	imp, err := store.LatestImport(joinedPath)
	switch {
	case err == nil:
		log.Info().
			Str("id", imp.ID).
			Time("created_at", imp.CreatedAt).
			Int("joined_rows", imp.JoinedRows).
			Msg("Joined table provenance")
	case errors.Is(err, storage.ErrNotFound):
		log.Warn().Str("path", joinedPath).Msg("Joined table not found in import registry")
	default:
		log.Warn().Err(err).Msg("failed to read import registry")
	}

	prev, err := store.LatestRun()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read run registry")
		}
		return nil
	}
	log.Info().
		Str("id", prev.ID).
		Time("trained_at", prev.CreatedAt).
		Float64("roc_auc", prev.ROCAUC).
		Str("sha256", prev.SHA256).
		Msg("Previous model")
	return &prev
}
