// Package ml trains the session conversion classifier, composes it with the
// feature transform into a prediction pipeline and persists the result as a
// versioned artifact.
//
// The classifier works on categorical tokens only: every feature of a
// features.Vector, integers included, is one token.
package ml

import (
	"fmt"
	"slices"

	"click-predict/internal/features"
	"click-predict/internal/session"
)

// Threshold is the probability above which a session is predicted to convert.
const Threshold = 0.5

// FeatureSchema pins the feature transform a model was trained against.
type FeatureSchema struct {
	Version int      `json:"version"`
	Names   []string `json:"names"`
}

// CurrentFeatureSchema describes the transform compiled into this binary.
func CurrentFeatureSchema() FeatureSchema {
	return FeatureSchema{Version: features.SchemaVersion, Names: slices.Clone(features.Names)}
}

// Matches reports whether both schemas name the same transform.
func (s FeatureSchema) Matches(other FeatureSchema) bool {
	return s.Version == other.Version && slices.Equal(s.Names, other.Names)
}

// Pipeline is the feature transform followed by the fitted model. It maps a
// raw session straight to a label, so serving never transforms by hand.
type Pipeline struct {
	Features FeatureSchema `json:"features"`
	Model    *GBDT         `json:"model"`
}

// NewPipeline composes the current feature transform with model.
func NewPipeline(model *GBDT) *Pipeline {
	return &Pipeline{Features: CurrentFeatureSchema(), Model: model}
}

// PredictProba returns the conversion probability of one raw session.
func (p *Pipeline) PredictProba(rec session.Record) (float64, error) {
	v, err := features.Transform(rec)
	if err != nil {
		return 0, err
	}
	probs, err := p.Model.PredictProba([][]string{v.Tokens()})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// Predict returns the predicted label, 0 or 1, of one raw session.
func (p *Pipeline) Predict(rec session.Record) (int, error) {
	prob, err := p.PredictProba(rec)
	if err != nil {
		return 0, err
	}
	return Classify(prob), nil
}

// PredictProbaBatch scores raw sessions. The batch fails as a whole when any
// record cannot be transformed.
func (p *Pipeline) PredictProbaBatch(recs []session.Record) ([]float64, error) {
	vecs, err := features.TransformBatch(recs)
	if err != nil {
		return nil, err
	}
	return p.Model.PredictProba(tokens(vecs))
}

func (p *Pipeline) validate() error {
	if !p.Features.Matches(CurrentFeatureSchema()) {
		return fmt.Errorf("%w: feature schema v%d %v, binary has v%d",
			ErrArtifactSchema, p.Features.Version, p.Features.Names, features.SchemaVersion)
	}
	if p.Model == nil || len(p.Model.Trees) == 0 {
		return fmt.Errorf("%w: pipeline has no fitted model", ErrArtifactIncomplete)
	}
	if p.Model.NumFeatures != len(features.Names) {
		return fmt.Errorf("%w: model expects %d features, transform yields %d",
			ErrArtifactSchema, p.Model.NumFeatures, len(features.Names))
	}
	if err := p.Model.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	return nil
}

func tokens(vecs []features.Vector) [][]string {
	out := make([][]string, len(vecs))
	for i, v := range vecs {
		out[i] = v.Tokens()
	}
	return out
}

// Classify turns a probability into a label at Threshold.
func Classify(prob float64) int {
	if prob > Threshold {
		return 1
	}
	return 0
}
