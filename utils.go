package gpnet

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"
)

//////
// Helper functions.
//////

// meanAbsoluteError returns the mean absolute error between the observed
// targets and the predictions. NaN for empty input.
func meanAbsoluteError(targets, predictions []float64) float64 {
	if len(targets) == 0 {
		return math.NaN()
	}

	var sum float64

	for i := range targets {
		sum += math.Abs(predictions[i] - targets[i])
	}

	return sum / float64(len(targets))
}

// meanSquaredError returns the mean squared error between the observed
// targets and the predictions. NaN for empty input.
func meanSquaredError(targets, predictions []float64) float64 {
	if len(targets) == 0 {
		return math.NaN()
	}

	var sum float64

	for i := range targets {
		d := predictions[i] - targets[i]
		sum += d * d
	}

	return sum / float64(len(targets))
}

// stdAbsoluteError returns the population standard deviation of the
// absolute errors (the SAE statistic). NaN for empty input.
func stdAbsoluteError(targets, predictions []float64) float64 {
	if len(targets) == 0 {
		return math.NaN()
	}

	abs := make([]float64, len(targets))
	for i := range targets {
		abs[i] = math.Abs(predictions[i] - targets[i])
	}

	m := mean(abs)

	var sum float64

	for _, v := range abs {
		d := v - m
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(abs)))
}

// pearson returns the Pearson correlation coefficient between the observed
// targets and the predictions.
func pearson(targets, predictions []float64) float64 {
	if len(targets) < 2 {
		return math.NaN()
	}

	return stat.Correlation(targets, predictions, nil)
}

// mean returns the arithmetic mean. NaN for empty input.
func mean[T constraints.Float](xs []T) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}

	var sum float64

	for _, v := range xs {
		sum += float64(v)
	}

	return sum / float64(len(xs))
}

// argMin returns the index of the smallest value, skipping NaN entries and
// breaking ties toward the earliest index. Returns 0 when every entry is
// NaN.
func argMin(xs []float64) int {
	best := 0
	bestVal := math.Inf(1)
	found := false

	for i, v := range xs {
		if math.IsNaN(v) {
			continue
		}

		if !found || v < bestVal {
			best = i
			bestVal = v
			found = true
		}
	}

	return best
}

// intsToFloats converts migrated index lists for artifact persistence. The
// sink stores float64 arrays only; index values convert exactly.
func intsToFloats[T constraints.Integer](ints []T) []float64 {
	floats := make([]float64, len(ints))

	for i, v := range ints {
		floats[i] = float64(v)
	}

	return floats
}
