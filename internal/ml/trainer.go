package ml

import (
	"context"
	"fmt"
	"time"

	"click-predict/internal/cfg"
	"click-predict/internal/dataset"
	"click-predict/internal/features"
	"click-predict/internal/session"

	"github.com/rs/zerolog/log"
)

// TrainConfig controls a training run.
type TrainConfig struct {
	Seed          int64
	TrainFraction float64
	Params        Params
}

// TrainConfigFromSettings maps loaded settings onto a TrainConfig.
func TrainConfigFromSettings(s cfg.Settings) TrainConfig {
	return TrainConfig{
		Seed:          s.Seed,
		TrainFraction: s.Training.TrainFraction,
		Params: Params{
			Iterations:   s.Training.Iterations,
			LearningRate: s.Training.LearningRate,
			Depth:        s.Training.Depth,
			L2:           s.Training.L2,
			Patience:     s.Training.Patience,
		},
	}
}

// TrainResult is the outcome of a training run.
type TrainResult struct {
	Pipeline      *Pipeline
	AUC           float64
	BestIteration int
	Importance    []FeatureStats
	Negatives     int // class counts of the input rows
	Positives     int
	TrainRows     int
	TestRows      int
	Duration      time.Duration
}

// Trainer fits the prediction pipeline on a joined table.
type Trainer struct {
	Config TrainConfig
}

// NewTrainer returns a trainer for c.
func NewTrainer(c TrainConfig) *Trainer {
	return &Trainer{Config: c}
}

// Train splits rows into stratified train and test sets, balances each,
// fits the classifier with the test set as early stopping monitor and
// reports the AUC of the composed pipeline on the balanced test set.
func (t *Trainer) Train(ctx context.Context, rows []session.Labeled) (*TrainResult, error) {
	start := time.Now()
	c := t.Config
	neg, pos := dataset.Counts(rows, session.Label)

	trainRaw, testRaw, err := dataset.StratifiedSplit(rows, session.Label, c.TrainFraction, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	train, err := dataset.Balance(trainRaw, session.Label, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("balance train split: %w", err)
	}
	test, err := dataset.Balance(testRaw, session.Label, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("balance test split: %w", err)
	}

	log.Info().
		Int("rows", len(rows)).
		Int("negatives", neg).
		Int("positives", pos).
		Int("train_rows", len(train)).
		Int("test_rows", len(test)).
		Int64("seed", c.Seed).
		Msg("Dataset prepared")

	trainX, trainY, err := matrix(train)
	if err != nil {
		return nil, fmt.Errorf("transform train split: %w", err)
	}
	testX, testY, err := matrix(test)
	if err != nil {
		return nil, fmt.Errorf("transform test split: %w", err)
	}

	model := NewGBDT(c.Params)
	if err := model.Fit(ctx, trainX, trainY, testX, testY); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	pipeline := NewPipeline(model)

	auc, err := evaluate(pipeline, test)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	importance, err := FeatureImportance(model, pipeline.Features.Names, testX, testY, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("feature importance: %w", err)
	}

	res := &TrainResult{
		Pipeline:      pipeline,
		AUC:           auc,
		BestIteration: model.BestIteration,
		Importance:    importance,
		Negatives:     neg,
		Positives:     pos,
		TrainRows:     len(train),
		TestRows:      len(test),
		Duration:      time.Since(start),
	}

	log.Info().
		Float64("roc_auc", res.AUC).
		Int("best_iteration", res.BestIteration).
		Int("trees", len(model.Trees)).
		Dur("duration", res.Duration).
		Msg("Training completed")

	for _, fs := range importance[:min(5, len(importance))] {
		log.Debug().
			Str("feature", fs.Name).
			Int("splits", fs.Splits).
			Float64("permutation_score", fs.PermutationScore).
			Msg("Feature importance")
	}

	return res, nil
}

// evaluate scores raw sessions through the full pipeline.
func evaluate(p *Pipeline, rows []session.Labeled) (float64, error) {
	recs, y := unzip(rows)
	probs, err := p.PredictProbaBatch(recs)
	if err != nil {
		return 0, err
	}
	return AUC(y, probs)
}

func matrix(rows []session.Labeled) ([][]string, []int, error) {
	recs, y := unzip(rows)
	vecs, err := features.TransformBatch(recs)
	if err != nil {
		return nil, nil, err
	}
	return tokens(vecs), y, nil
}

func unzip(rows []session.Labeled) ([]session.Record, []int) {
	recs := make([]session.Record, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		recs[i] = r.Record
		y[i] = r.Target
	}
	return recs, y
}
