package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"click-predict/internal/cfg"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Artifact envelope identity. Schema changes whenever the envelope layout
// changes in an incompatible way.
const (
	ArtifactFormat = "click-predict/artifact"
	ArtifactSchema = 1
)

var (
	// ErrArtifactCorrupt is returned when the artifact bytes cannot be decoded.
	ErrArtifactCorrupt = errors.New("artifact is corrupt")
	// ErrArtifactSchema is returned for a foreign or incompatible artifact.
	ErrArtifactSchema = errors.New("artifact schema mismatch")
	// ErrArtifactIncomplete is returned when the pipeline or metadata is missing.
	ErrArtifactIncomplete = errors.New("artifact is incomplete")
)

// Metadata describes a trained model.
type Metadata struct {
	Name    string    `json:"name"`
	Author  string    `json:"author"`
	Version string    `json:"version"`
	Date    time.Time `json:"date"`
	Type    string    `json:"type"`
	ROCAUC  float64   `json:"ROC_AUC"`
}

// NewMetadata stamps a model of the given kind and held-out AUC.
func NewMetadata(info cfg.ModelInfo, kind string, auc float64, now time.Time) Metadata {
	return Metadata{
		Name:    info.Name,
		Author:  info.Author,
		Version: info.Version,
		Date:    now.UTC(),
		Type:    kind,
		ROCAUC:  auc,
	}
}

// Artifact is the unit handed from training to serving.
type Artifact struct {
	Pipeline *Pipeline `json:"pipeline"`
	Metadata Metadata  `json:"metadata"`
}

type envelope struct {
	Format   string    `json:"format"`
	Schema   int       `json:"schema"`
	Pipeline *Pipeline `json:"pipeline"`
	Metadata *Metadata `json:"metadata"`
}

// Save writes the artifact to path and returns the hex SHA-256 of the written
// file. The file is replaced atomically; on failure the previous file, if
// any, is left untouched.
func Save(path string, a *Artifact) (sum string, err error) {
	if a == nil || a.Pipeline == nil {
		return "", fmt.Errorf("%w: no pipeline", ErrArtifactIncomplete)
	}
	if err := a.Pipeline.validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(envelope{
		Format:   ArtifactFormat,
		Schema:   ArtifactSchema,
		Pipeline: a.Pipeline,
		Metadata: &a.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	data := enc.EncodeAll(raw, nil)
	enc.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}

	digest := sha256.Sum256(data)
	sum = hex.EncodeToString(digest[:])

	log.Info().
		Str("path", path).
		Int("bytes", len(data)).
		Int("trees", len(a.Pipeline.Model.Trees)).
		Str("sha256", sum).
		Msg("Artifact saved")

	return sum, nil
}

// Load reads an artifact written by Save. It returns a complete artifact or
// an error wrapping ErrArtifactCorrupt, ErrArtifactSchema or
// ErrArtifactIncomplete; a missing file surfaces the os error.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(data)
}

// Decode parses artifact bytes as written by Save.
func Decode(data []byte) (*Artifact, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if env.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: format %q", ErrArtifactSchema, env.Format)
	}
	if env.Schema != ArtifactSchema {
		return nil, fmt.Errorf("%w: envelope schema %d, want %d", ErrArtifactSchema, env.Schema, ArtifactSchema)
	}
	if env.Pipeline == nil {
		return nil, fmt.Errorf("%w: no pipeline", ErrArtifactIncomplete)
	}
	if env.Metadata == nil {
		return nil, fmt.Errorf("%w: no metadata", ErrArtifactIncomplete)
	}
	if err := env.Pipeline.validate(); err != nil {
		return nil, err
	}

	return &Artifact{Pipeline: env.Pipeline, Metadata: *env.Metadata}, nil
}
