package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"click-predict/internal/dataset"

	"github.com/rs/zerolog/log"
)

// GBDTKind is reported by GBDT.Kind and stored in artifact metadata.
const GBDTKind = "GBDTClassifier"

// minGain is the smallest gain accepted for a new tree level.
const minGain = 1e-12

// ErrNotFitted is returned when predicting with a model that holds no trees.
var ErrNotFitted = errors.New("model is not fitted")

// Params are the boosting hyperparameters.
type Params struct {
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	Depth        int     `json:"depth"`
	L2           float64 `json:"l2_leaf_reg"`
	Patience     int     `json:"patience"`
}

// Split sends a row right when its token for Feature equals Token.
type Split struct {
	Feature int    `json:"feature"`
	Token   string `json:"token"`
}

// Tree is an oblivious tree: every row at the same depth is tested against
// the same split, so a leaf is addressed by the bit pattern of the outcomes.
type Tree struct {
	Splits []Split   `json:"splits"`
	Leaves []float64 `json:"leaves"`
}

func (t *Tree) leaf(row []string) int {
	idx := 0
	for d, s := range t.Splits {
		if row[s.Feature] == s.Token {
			idx |= 1 << d
		}
	}
	return idx
}

// GBDT is a gradient boosted ensemble of oblivious trees over categorical
// tokens, trained with the logloss objective. A token not seen at fit time
// never matches a split.
type GBDT struct {
	Params        Params  `json:"params"`
	NumFeatures   int     `json:"num_features"`
	Bias          float64 `json:"bias"`
	Trees         []Tree  `json:"trees"`
	BestIteration int     `json:"best_iteration"`
	BestScore     float64 `json:"best_validation_auc"`
}

// NewGBDT returns an unfitted model.
func NewGBDT(p Params) *GBDT {
	return &GBDT{Params: p}
}

// Kind names the model type recorded in artifact metadata.
func (m *GBDT) Kind() string { return GBDTKind }

// Fit boosts trees on the training rows. When validation rows are given the
// validation AUC is tracked after every iteration, boosting stops once it has
// not improved for Params.Patience iterations, and the ensemble is truncated
// to the best iteration.
func (m *GBDT) Fit(ctx context.Context, trainX [][]string, trainY []int, validX [][]string, validY []int) error {
	if err := m.checkParams(); err != nil {
		return err
	}
	if len(trainX) == 0 {
		return fmt.Errorf("empty training set")
	}
	if len(trainX) != len(trainY) || len(validX) != len(validY) {
		return fmt.Errorf("feature/label length mismatch")
	}

	m.NumFeatures = len(trainX[0])
	for i, row := range trainX {
		if len(row) != m.NumFeatures {
			return fmt.Errorf("train row %d has %d features, want %d", i, len(row), m.NumFeatures)
		}
	}
	for i, row := range validX {
		if len(row) != m.NumFeatures {
			return fmt.Errorf("validation row %d has %d features, want %d", i, len(row), m.NumFeatures)
		}
	}

	pos := 0
	for _, y := range trainY {
		pos += y
	}
	if pos == 0 || pos == len(trainY) {
		return fmt.Errorf("%w: %d positive of %d training rows", dataset.ErrDegenerateClass, pos, len(trainY))
	}
	mean := float64(pos) / float64(len(trainY))
	m.Bias = math.Log(mean / (1 - mean))
	m.Trees = m.Trees[:0]

	enc := newEncoding(trainX)
	b := newBooster(enc, m.Params, trainY, m.Bias)

	validRaw := make([]float64, len(validX))
	for i := range validRaw {
		validRaw[i] = m.Bias
	}
	early := len(validX) > 0
	best, bestAUC := -1, math.Inf(-1)

	for it := 0; it < m.Params.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tree := b.grow()
		m.Trees = append(m.Trees, tree)

		if !early {
			continue
		}
		for i, row := range validX {
			validRaw[i] += tree.Leaves[tree.leaf(row)]
		}
		auc, err := AUC(validY, validRaw)
		if err != nil {
			return fmt.Errorf("validation auc: %w", err)
		}
		if auc > bestAUC {
			best, bestAUC = it, auc
		}
		if it-best >= m.Params.Patience {
			log.Debug().Int("iteration", it).Int("best_iteration", best).Float64("best_auc", bestAUC).Msg("Early stopping")
			break
		}
		if it%100 == 0 {
			log.Debug().Int("iteration", it).Float64("validation_auc", auc).Msg("Boosting progress")
		}
	}

	if early {
		m.Trees = m.Trees[:best+1]
		m.BestIteration = best
		m.BestScore = bestAUC
	} else {
		m.BestIteration = len(m.Trees) - 1
	}
	return nil
}

// PredictProba returns the probability of the positive class for every row.
func (m *GBDT) PredictProba(rows [][]string) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != m.NumFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), m.NumFeatures)
		}
		out[i] = sigmoid(m.raw(row))
	}
	return out, nil
}

func (m *GBDT) raw(row []string) float64 {
	score := m.Bias
	for i := range m.Trees {
		t := &m.Trees[i]
		score += t.Leaves[t.leaf(row)]
	}
	return score
}

func (m *GBDT) checkParams() error {
	p := m.Params
	switch {
	case p.Iterations <= 0:
		return fmt.Errorf("iterations must be positive, got %d", p.Iterations)
	case p.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %f", p.LearningRate)
	case p.Depth <= 0 || p.Depth > 16:
		return fmt.Errorf("depth must be in [1, 16], got %d", p.Depth)
	case p.L2 < 0:
		return fmt.Errorf("l2 must not be negative, got %f", p.L2)
	case p.Patience <= 0:
		return fmt.Errorf("patience must be positive, got %d", p.Patience)
	}
	return nil
}

// validate checks a decoded model for structural consistency.
func (m *GBDT) validate() error {
	for i, t := range m.Trees {
		if len(t.Leaves) != 1<<len(t.Splits) {
			return fmt.Errorf("tree %d has %d leaves for %d splits", i, len(t.Leaves), len(t.Splits))
		}
		for _, s := range t.Splits {
			if s.Feature < 0 || s.Feature >= m.NumFeatures {
				return fmt.Errorf("tree %d splits on feature %d of %d", i, s.Feature, m.NumFeatures)
			}
		}
	}
	return nil
}

// encoding maps every (feature, token) pair seen at fit time to a dense
// candidate id. Tokens are numbered in sorted order per feature.
type encoding struct {
	codes  [][]int32 // row -> feature -> token id
	tokens [][]string
	offset []int
	total  int
}

func newEncoding(x [][]string) *encoding {
	nf := len(x[0])
	e := &encoding{
		codes:  make([][]int32, len(x)),
		tokens: make([][]string, nf),
		offset: make([]int, nf),
	}

	ids := make([]map[string]int32, nf)
	for f := 0; f < nf; f++ {
		seen := make(map[string]struct{})
		for _, row := range x {
			seen[row[f]] = struct{}{}
		}
		toks := make([]string, 0, len(seen))
		for tok := range seen {
			toks = append(toks, tok)
		}
		sort.Strings(toks)

		ids[f] = make(map[string]int32, len(toks))
		for i, tok := range toks {
			ids[f][tok] = int32(i)
		}
		e.tokens[f] = toks
		e.offset[f] = e.total
		e.total += len(toks)
	}

	for i, row := range x {
		c := make([]int32, nf)
		for f, tok := range row {
			c[f] = ids[f][tok]
		}
		e.codes[i] = c
	}
	return e
}

// booster holds the per-row state of a running fit.
type booster struct {
	enc    *encoding
	params Params
	y      []int
	raw    []float64
	grad   []float64
	hess   []float64
	leaf   []int
	gs, hs []float64 // leaf x candidate histograms
}

func newBooster(enc *encoding, p Params, y []int, bias float64) *booster {
	n := len(y)
	b := &booster{
		enc:    enc,
		params: p,
		y:      y,
		raw:    make([]float64, n),
		grad:   make([]float64, n),
		hess:   make([]float64, n),
		leaf:   make([]int, n),
		gs:     make([]float64, (1<<(p.Depth-1))*enc.total),
		hs:     make([]float64, (1<<(p.Depth-1))*enc.total),
	}
	for i := range b.raw {
		b.raw[i] = bias
	}
	return b
}

// grow fits one tree to the current gradients and applies it to the
// training scores.
func (b *booster) grow() Tree {
	for i, r := range b.raw {
		p := sigmoid(r)
		b.grad[i] = p - float64(b.y[i])
		b.hess[i] = p * (1 - p)
		b.leaf[i] = 0
	}

	var tree Tree
	used := make(map[int]bool)
	for depth := 0; depth < b.params.Depth; depth++ {
		cand, ok := b.bestSplit(1<<depth, used)
		if !ok {
			break
		}
		used[cand] = true

		f, tok := b.candidate(cand)
		tree.Splits = append(tree.Splits, Split{Feature: f, Token: b.enc.tokens[f][tok]})
		for i, codes := range b.enc.codes {
			if int(codes[f]) == tok {
				b.leaf[i] |= 1 << depth
			}
		}
	}

	nLeaves := 1 << len(tree.Splits)
	g := make([]float64, nLeaves)
	h := make([]float64, nLeaves)
	for i, l := range b.leaf {
		g[l] += b.grad[i]
		h[l] += b.hess[i]
	}
	tree.Leaves = make([]float64, nLeaves)
	for l := range tree.Leaves {
		if h[l]+b.params.L2 > 0 {
			tree.Leaves[l] = -b.params.LearningRate * g[l] / (h[l] + b.params.L2)
		}
	}
	for i, l := range b.leaf {
		b.raw[i] += tree.Leaves[l]
	}
	return tree
}

// bestSplit scores every unused candidate across all current leaves and
// returns the one with the largest total gain. Ties keep the lowest id.
func (b *booster) bestSplit(nLeaves int, used map[int]bool) (int, bool) {
	total := b.enc.total
	gs := b.gs[:nLeaves*total]
	hs := b.hs[:nLeaves*total]
	for i := range gs {
		gs[i], hs[i] = 0, 0
	}
	leafG := make([]float64, nLeaves)
	leafH := make([]float64, nLeaves)

	for i, codes := range b.enc.codes {
		l := b.leaf[i]
		g, h := b.grad[i], b.hess[i]
		leafG[l] += g
		leafH[l] += h
		base := l * total
		for f, c := range codes {
			k := base + b.enc.offset[f] + int(c)
			gs[k] += g
			hs[k] += h
		}
	}

	l2 := b.params.L2
	parent := 0.0
	for l := 0; l < nLeaves; l++ {
		parent += score(leafG[l], leafH[l], l2)
	}

	best, bestGain := -1, minGain
	for c := 0; c < total; c++ {
		if used[c] {
			continue
		}
		gain := -parent
		for l := 0; l < nLeaves; l++ {
			ge, he := gs[l*total+c], hs[l*total+c]
			gain += score(ge, he, l2) + score(leafG[l]-ge, leafH[l]-he, l2)
		}
		if gain > bestGain {
			best, bestGain = c, gain
		}
	}
	return best, best >= 0
}

func (b *booster) candidate(c int) (feature, token int) {
	f := sort.Search(len(b.enc.offset), func(i int) bool { return b.enc.offset[i] > c }) - 1
	return f, c - b.enc.offset[f]
}

func score(g, h, l2 float64) float64 {
	if h+l2 <= 0 {
		return 0
	}
	return g * g / (h + l2)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
