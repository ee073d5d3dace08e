package ml

import (
	"fmt"
	"sort"

	"click-predict/internal/dataset"
)

// AUC returns the area under the ROC curve of scores against binary labels,
// computed as the Mann-Whitney U statistic. Tied scores share their average
// rank. Both classes must be present.
func AUC(labels []int, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("auc: %d labels for %d scores", len(labels), len(scores))
	}

	var pos, neg float64
	for i, y := range labels {
		switch y {
		case 1:
			pos++
		case 0:
			neg++
		default:
			return 0, fmt.Errorf("auc: label %d at %d is not binary", y, i)
		}
	}
	if pos == 0 || neg == 0 {
		return 0, fmt.Errorf("auc: %w: %v positive, %v negative", dataset.ErrDegenerateClass, pos, neg)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	rankSum := 0.0
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		// 1-based ranks i+1..j+1 share their mean.
		rank := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			if labels[order[k]] == 1 {
				rankSum += rank
			}
		}
		i = j + 1
	}

	return (rankSum - pos*(pos+1)/2) / (pos * neg), nil
}
