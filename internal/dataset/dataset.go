// Package dataset builds class-balanced and stratified views of a labeled
// table. Every operation is deterministic for a given seed.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrDegenerateClass is returned when a label class has no members, which
// makes undersampling (and stratification) undefined.
var ErrDegenerateClass = errors.New("label class has no members")

// Balance undersamples the larger class to the size of the smaller one
// without replacement, then shuffles the result. Calls with the same rows and
// seed return identical output.
func Balance[T any](rows []T, label func(T) int, seed int64) ([]T, error) {
	pos, neg, err := partition(rows, label)
	if err != nil {
		return nil, err
	}

	small, large := pos, neg
	if len(small) > len(large) {
		small, large = large, small
	}

	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(large))[:len(small)]

	out := make([]T, 0, 2*len(small))
	for _, i := range small {
		out = append(out, rows[i])
	}
	for _, i := range picked {
		out = append(out, rows[large[i]])
	}

	shuffle := rand.New(rand.NewSource(seed))
	shuffle.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	return out, nil
}

// BalanceXY balances a feature slice and its label slice together. Both
// outputs are row-aligned.
func BalanceXY[X any](x []X, y []int, seed int64) ([]X, []int, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("feature/label length mismatch: %d != %d", len(x), len(y))
	}

	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	balanced, err := Balance(idx, func(i int) int { return y[i] }, seed)
	if err != nil {
		return nil, nil, err
	}

	bx := make([]X, len(balanced))
	by := make([]int, len(balanced))
	for k, i := range balanced {
		bx[k] = x[i]
		by[k] = y[i]
	}
	return bx, by, nil
}

// StratifiedSplit divides rows into train and test sets keeping the class
// ratio. Each class contributes ceil((1-trainFrac)*n) rows to the test set.
func StratifiedSplit[T any](rows []T, label func(T) int, trainFrac float64, seed int64) (train, test []T, err error) {
	if trainFrac <= 0 || trainFrac >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1), got %f", trainFrac)
	}

	pos, neg, err := partition(rows, label)
	if err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	for _, class := range [][]int{neg, pos} {
		order := rng.Perm(len(class))
		// Per-class rounding: sizes can differ by one row per class from a
		// split that rounds the total test size once.
		nTest := int(math.Ceil((1-trainFrac)*float64(len(class)) - 1e-9))
		for k, p := range order {
			row := rows[class[p]]
			if k < nTest {
				test = append(test, row)
			} else {
				train = append(train, row)
			}
		}
	}

	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })

	return train, test, nil
}

// Counts returns the number of negative and positive rows.
func Counts[T any](rows []T, label func(T) int) (neg, pos int) {
	for _, r := range rows {
		if label(r) == 1 {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}

func partition[T any](rows []T, label func(T) int) (pos, neg []int, err error) {
	for i, r := range rows {
		switch label(r) {
		case 1:
			pos = append(pos, i)
		case 0:
			neg = append(neg, i)
		default:
			return nil, nil, fmt.Errorf("row %d: label %d is not binary", i, label(r))
		}
	}
	if len(pos) == 0 || len(neg) == 0 {
		return nil, nil, fmt.Errorf("%w: %d positive, %d negative", ErrDegenerateClass, len(pos), len(neg))
	}
	return pos, neg, nil
}
