package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"click-predict/internal/cfg"
	"click-predict/internal/client"
	"click-predict/internal/ml"
	"click-predict/internal/session"
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

	artifact, err := ml.Load(c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("failed to load model")
	}
	logLineage(c, artifact.Metadata)

	rec, err := readRecord(c.CheckPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.CheckPath).Msg("failed to read check record")
	}

	label, err := artifact.Pipeline.Predict(rec)
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}

	fmt.Printf("%-40s %s\n", "session_id", "predict_label")
	fmt.Printf("%-40s %d\n", rec.SessionID, label)

	if c.ServiceURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*c.RequestTimeout)
	defer cancel()

	remote, err := client.New(c.ServiceURL, c.RequestTimeout).Verify(ctx, artifact, rec)
	if err != nil {
		log.Fatal().Err(err).Str("url", c.ServiceURL).Msg("server check failed")
	}
	log.Info().Str("url", c.ServiceURL).Int("result", remote).Msg("Server serves the local model")
}

// readRecord loads one raw session from a JSON object. Non-string values are
// rendered as text; null becomes empty.
func readRecord(path string) (session.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Record{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return session.Record{}, fmt.Errorf("parse %s: %w", path, err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = v
		case json.Number:
			fields[k] = v.String()
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return session.RecordFromMap(fields)
}

// logLineage reports the training run that produced the artifact and warns
// when newer models have been trained since.
func logLineage(c cfg.Settings, md ml.Metadata) {
	if c.DataPath == "" {
		return
	}
	if _, err := os.Stat(c.DataPath); err != nil {
		return
	}
	data, err := os.ReadFile(c.ModelPath)
	if err != nil {
		return
	}
	sum := sha256.Sum256(data)

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Debug().Err(err).Msg("registry unavailable")
		return
	}
	defer store.Close()

	lineage, err := store.Lineage(hex.EncodeToString(sum[:]), md.Date)
	if err != nil {
		log.Debug().Err(err).Msg("registry lookup failed")
		return
	}

	if lineage.Known {
		log.Info().
			Str("run_id", lineage.Run.ID).
			Time("trained_at", lineage.Run.CreatedAt).
			Float64("roc_auc", lineage.Run.ROCAUC).
			Dur("age", time.Since(lineage.Run.CreatedAt)).
			Msg("Artifact provenance")
	} else {
		log.Warn().Str("path", c.ModelPath).Msg("Artifact not found in run registry")
	}

	if lineage.Stale() {
		newest := lineage.Newer[len(lineage.Newer)-1]
		log.Warn().
			Int("newer_runs", len(lineage.Newer)).
			Str("newest_sha256", newest.SHA256).
			Time("newest_trained_at", newest.CreatedAt).
			Float64("newest_roc_auc", newest.ROCAUC).
			Msg("Artifact is stale")
	}
}
