package gpnet

import (
	"fmt"
	"math/rand"
	"sort"
)

//////
// Available sampling policies for active learning.
// Each policy decides which test-partition points are migrated into the
// training set for the next cycle, trading off informativeness (entropy)
// against an unbiased baseline (random).
//////

// EntropySelection migrates the quota test points with the highest posterior
// variance into the training partition.
//
// The GP's own uncertainty at a point is used as the acquisition score: the
// higher the variance, the more the model expects to learn from having that
// structure computed and added to the training pool. Ranking is descending
// by variance with ties broken toward the lower index, so the selection is
// fully deterministic.
//
// Parameters:
//   - cycle: the current cycle index, for logging and audit only
//   - p: the current train/val/test partitions
//   - variance: posterior variance over the test partition, index aligned
//     with p.Test
//   - quota: how many points to migrate; 0 is a no-op
//
// Returns the updated partitions and the migrated test indices in selection
// order. The caller's partitions are never mutated; the partition-sum and
// index-alignment invariants hold on the result.
func EntropySelection(cycle int, p Partitions, variance []float64, quota int) (Partitions, []int, error) {
	if err := validateSelection(p, quota); err != nil {
		return Partitions{}, nil, err
	}

	if len(variance) != p.Test.Len() {
		return Partitions{}, nil, fmt.Errorf("%w: %d variance entries for %d test points",
			ErrLengthMismatch, len(variance), p.Test.Len())
	}

	ranked := make([]int, len(variance))
	for i := range ranked {
		ranked[i] = i
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return variance[ranked[a]] > variance[ranked[b]]
	})

	return migrate(p, ranked[:quota])
}

// RandomSelection migrates quota uniformly random test points into the
// training partition, without replacement. The caller supplies the rng so
// runs are reproducible under a fixed seed.
func RandomSelection(cycle int, p Partitions, rng *rand.Rand, quota int) (Partitions, []int, error) {
	if err := validateSelection(p, quota); err != nil {
		return Partitions{}, nil, err
	}

	return migrate(p, rng.Perm(p.Test.Len())[:quota])
}

//////
// Helpers.
//////

func validateSelection(p Partitions, quota int) error {
	if err := p.Validate(0); err != nil {
		return err
	}

	if quota < 0 || quota > p.Test.Len() {
		return fmt.Errorf("%w: quota %d with %d test points", ErrTestExhausted, quota, p.Test.Len())
	}

	return nil
}

// migrate moves the selected test rows into the training partition. The
// remaining test rows keep their relative order, so future variance
// rankings stay index aligned.
func migrate(p Partitions, selected []int) (Partitions, []int, error) {
	out := Partitions{
		Train: concat(p.Train.Clone(), p.Test.take(selected)),
		Val:   p.Val.Clone(),
		Test:  p.Test.drop(selected),
	}

	moved := append([]int{}, selected...)

	return out, moved, nil
}
