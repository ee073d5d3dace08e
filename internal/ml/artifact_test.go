package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"click-predict/internal/cfg"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = cfg.ModelInfo{Name: "SberAutopodpiska_click_predict", Author: "Oleg Kulikov", Version: "1.0"}

func testArtifact(t *testing.T) *Artifact {
	t.Helper()
	p, _ := trainedPipeline(t)
	now := time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)
	return &Artifact{Pipeline: p, Metadata: NewMetadata(testInfo, p.Model.Kind(), 0.71, now)}
}

// writeEnvelope stores an arbitrary JSON document the way Save does.
func writeEnvelope(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	require.NoError(t, os.WriteFile(path, enc.EncodeAll(raw, nil), 0o644))
}

func TestMetadata_JSONKeys(t *testing.T) {
	md := NewMetadata(testInfo, GBDTKind, 0.68, time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC))

	raw, err := json.Marshal(md)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Len(t, m, 6)
	assert.Equal(t, "SberAutopodpiska_click_predict", m["name"])
	assert.Equal(t, "Oleg Kulikov", m["author"])
	assert.Equal(t, "1.0", m["version"])
	assert.Equal(t, "2023-05-04T12:00:00Z", m["date"])
	assert.Equal(t, "GBDTClassifier", m["type"])
	assert.Equal(t, 0.68, m["ROC_AUC"])
}

func TestArtifact_SaveLoad(t *testing.T) {
	a := testArtifact(t)
	path := filepath.Join(t.TempDir(), "model", "click_model.zst")

	sum, err := Save(path, a)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	digest := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(digest[:]), sum)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Metadata, loaded.Metadata)
	assert.Equal(t, a.Pipeline.Model.Trees, loaded.Pipeline.Model.Trees)
	assert.Equal(t, a.Pipeline.Features, loaded.Pipeline.Features)

	_, rows := trainedPipeline(t)
	for _, r := range rows[:20] {
		want, err := a.Pipeline.PredictProba(r.Record)
		require.NoError(t, err)
		got, err := loaded.Pipeline.PredictProba(r.Record)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".artifact-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestArtifact_LoadErrors(t *testing.T) {
	a := testArtifact(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.zst")
	_, err := Save(good, a)
	require.NoError(t, err)
	data, err := os.ReadFile(good)
	require.NoError(t, err)

	schema := CurrentFeatureSchema()
	renamed := CurrentFeatureSchema()
	renamed.Names[0] = "visits"

	tests := []struct {
		name    string
		prepare func(path string)
		want    error
	}{
		{"truncated", func(p string) { os.WriteFile(p, data[:len(data)/2], 0o644) }, ErrArtifactCorrupt},
		{"not zstd", func(p string) { os.WriteFile(p, []byte("definitely not an artifact"), 0o644) }, ErrArtifactCorrupt},
		{"empty", func(p string) { os.WriteFile(p, nil, 0o644) }, ErrArtifactCorrupt},
		{"not json", func(p string) {
			enc, _ := zstd.NewWriter(nil)
			defer enc.Close()
			os.WriteFile(p, enc.EncodeAll([]byte("{"), nil), 0o644)
		}, ErrArtifactCorrupt},
		{"foreign format", func(p string) {
			writeEnvelope(t, p, envelope{Format: "pickle", Schema: ArtifactSchema, Pipeline: a.Pipeline, Metadata: &a.Metadata})
		}, ErrArtifactSchema},
		{"newer envelope", func(p string) {
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema + 1, Pipeline: a.Pipeline, Metadata: &a.Metadata})
		}, ErrArtifactSchema},
		{"feature schema version", func(p string) {
			pl := *a.Pipeline
			pl.Features = FeatureSchema{Version: schema.Version + 1, Names: schema.Names}
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Pipeline: &pl, Metadata: &a.Metadata})
		}, ErrArtifactSchema},
		{"feature names", func(p string) {
			pl := *a.Pipeline
			pl.Features = renamed
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Pipeline: &pl, Metadata: &a.Metadata})
		}, ErrArtifactSchema},
		{"missing metadata", func(p string) {
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Pipeline: a.Pipeline})
		}, ErrArtifactIncomplete},
		{"missing pipeline", func(p string) {
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Metadata: &a.Metadata})
		}, ErrArtifactIncomplete},
		{"no trees", func(p string) {
			pl := *a.Pipeline
			pl.Model = &GBDT{Params: a.Pipeline.Model.Params, NumFeatures: a.Pipeline.Model.NumFeatures}
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Pipeline: &pl, Metadata: &a.Metadata})
		}, ErrArtifactIncomplete},
		{"broken tree", func(p string) {
			m := *a.Pipeline.Model
			m.Trees = append([]Tree{{Splits: []Split{{Feature: 0, Token: "1"}}, Leaves: []float64{0}}}, m.Trees...)
			pl := *a.Pipeline
			pl.Model = &m
			writeEnvelope(t, p, envelope{Format: ArtifactFormat, Schema: ArtifactSchema, Pipeline: &pl, Metadata: &a.Metadata})
		}, ErrArtifactCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.zst")
			tt.prepare(path)

			got, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestArtifact_LoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.zst"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestArtifact_SaveIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.zst")

	_, err := Save(path, &Artifact{})
	assert.True(t, errors.Is(err, ErrArtifactIncomplete))

	_, err = Save(path, &Artifact{Pipeline: NewPipeline(NewGBDT(fastConfig().Params))})
	assert.True(t, errors.Is(err, ErrArtifactIncomplete))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestArtifact_SaveReplacesPrevious(t *testing.T) {
	a := testArtifact(t)
	path := filepath.Join(t.TempDir(), "model.zst")

	first, err := Save(path, a)
	require.NoError(t, err)

	a.Metadata.ROCAUC = 0.9
	second, err := Save(path, a)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, loaded.Metadata.ROCAUC)
}
