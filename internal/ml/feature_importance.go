package ml

import (
	"fmt"
	"math/rand"
	"slices"
	"sort"
)

// FeatureStats summarizes how much a trained model relies on one feature.
type FeatureStats struct {
	Name             string  `json:"name"`
	Splits           int     `json:"splits"`
	PermutationScore float64 `json:"permutation_score"`
}

// FeatureImportance measures, per feature, the AUC lost on (x, y) when that
// feature's column is shuffled. Results are sorted by PermutationScore,
// highest first.
func FeatureImportance(m *GBDT, names []string, x [][]string, y []int, seed int64) ([]FeatureStats, error) {
	if len(names) != m.NumFeatures {
		return nil, fmt.Errorf("feature importance: %d names for %d features", len(names), m.NumFeatures)
	}
	probs, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	base, err := AUC(y, probs)
	if err != nil {
		return nil, err
	}

	splits := make([]int, m.NumFeatures)
	for _, t := range m.Trees {
		for _, s := range t.Splits {
			splits[s.Feature]++
		}
	}

	rng := rand.New(rand.NewSource(seed))
	shuffled := make([][]string, len(x))
	for i, row := range x {
		shuffled[i] = slices.Clone(row)
	}
	perm := make([]int, len(x))

	out := make([]FeatureStats, m.NumFeatures)
	for f := range m.NumFeatures {
		out[f] = FeatureStats{Name: names[f], Splits: splits[f]}
		// a feature no split reads cannot move a prediction
		if splits[f] == 0 {
			continue
		}

		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		for i := range shuffled {
			shuffled[i][f] = x[perm[i]][f]
		}

		probs, err := m.PredictProba(shuffled)
		if err != nil {
			return nil, err
		}
		auc, err := AUC(y, probs)
		if err != nil {
			return nil, err
		}
		out[f].PermutationScore = base - auc

		for i := range shuffled {
			shuffled[i][f] = x[i][f]
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PermutationScore > out[j].PermutationScore
	})
	return out, nil
}
