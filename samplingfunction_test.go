package gpnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selectionPartitions builds a small train/val/test split with recognizable
// targets so migrated rows can be traced by value.
func selectionPartitions(trainN, valN, testN int) Partitions {
	full := gridDataset(trainN + valN + testN)

	for i := range full.Targets {
		full.Targets[i] = float64(i)
	}

	return Partitions{
		Train: full.take(indexRange(0, trainN)),
		Val:   full.take(indexRange(trainN, trainN+valN)),
		Test:  full.take(indexRange(trainN+valN, trainN+valN+testN)),
	}
}

func indexRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}

	return out
}

func TestEntropySelectionPicksHighestVariance(t *testing.T) {
	p := selectionPartitions(5, 2, 10)

	variance := []float64{0.1, 0.9, 0.3, 0.8, 0.2, 0.7, 0.05, 0.4, 0.6, 0.15}

	next, moved, err := EntropySelection(0, p, variance, 3)
	require.NoError(t, err)

	// Exactly the three highest-variance test indices, highest first.
	assert.Equal(t, []int{1, 3, 5}, moved)

	// The migrated rows land at the end of the training partition, in
	// selection order.
	require.Equal(t, 8, next.Train.Len())
	assert.Equal(t, p.Test.Targets[1], next.Train.Targets[5])
	assert.Equal(t, p.Test.Targets[3], next.Train.Targets[6])
	assert.Equal(t, p.Test.Targets[5], next.Train.Targets[7])

	// The surviving test rows keep their relative order.
	require.Equal(t, 7, next.Test.Len())
	assert.Equal(t, p.Test.Targets[0], next.Test.Targets[0])
	assert.Equal(t, p.Test.Targets[2], next.Test.Targets[1])
	assert.Equal(t, p.Test.Targets[4], next.Test.Targets[2])

	// Deterministic.
	again, movedAgain, err := EntropySelection(0, p, variance, 3)
	require.NoError(t, err)
	assert.Equal(t, next, again)
	assert.Equal(t, moved, movedAgain)
}

func TestEntropySelectionTieBreaksTowardLowerIndex(t *testing.T) {
	p := selectionPartitions(2, 1, 4)

	variance := []float64{0.5, 0.5, 0.9, 0.5}

	_, moved, err := EntropySelection(0, p, variance, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 0}, moved)
}

func TestEntropySelectionQuotaZeroIsNoop(t *testing.T) {
	p := selectionPartitions(3, 2, 5)

	variance := make([]float64, 5)

	next, moved, err := EntropySelection(0, p, variance, 0)
	require.NoError(t, err)

	assert.Empty(t, moved)
	assert.Equal(t, p.Train, next.Train)
	assert.Equal(t, p.Val, next.Val)
	assert.Equal(t, p.Test, next.Test)
}

func TestEntropySelectionPreservesPartitionSum(t *testing.T) {
	p := selectionPartitions(4, 3, 8)

	variance := []float64{3, 1, 4, 1, 5, 9, 2, 6}

	next, _, err := EntropySelection(0, p, variance, 5)
	require.NoError(t, err)

	assert.Equal(t, p.Len(), next.Len())
	assert.Equal(t, p.Val.Len(), next.Val.Len())
	assert.Equal(t, p.Train.Len()+5, next.Train.Len())
	assert.Equal(t, p.Test.Len()-5, next.Test.Len())
}

func TestEntropySelectionDoesNotMutateInput(t *testing.T) {
	p := selectionPartitions(3, 1, 6)

	trainBefore := p.Train.Len()
	testBefore := p.Test.Len()
	firstTarget := p.Test.Targets[0]

	variance := []float64{9, 8, 7, 6, 5, 4}

	next, _, err := EntropySelection(0, p, variance, 4)
	require.NoError(t, err)

	assert.Equal(t, trainBefore, p.Train.Len())
	assert.Equal(t, testBefore, p.Test.Len())
	assert.Equal(t, firstTarget, p.Test.Targets[0])

	// Mutating the result must not reach back into the input.
	next.Train.Targets[0] = -1
	assert.NotEqual(t, -1.0, p.Train.Targets[0])
}

func TestEntropySelectionErrors(t *testing.T) {
	p := selectionPartitions(3, 2, 5)

	// Oversized quota exhausts the test partition.
	_, _, err := EntropySelection(0, p, make([]float64, 5), 6)
	assert.ErrorIs(t, err, ErrTestExhausted)

	_, _, err = EntropySelection(0, p, make([]float64, 5), -1)
	assert.ErrorIs(t, err, ErrTestExhausted)

	// Variance must align with the test partition.
	_, _, err = EntropySelection(0, p, make([]float64, 4), 2)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestRandomSelectionSeeded(t *testing.T) {
	p := selectionPartitions(3, 2, 10)

	next1, moved1, err := RandomSelection(0, p, rand.New(rand.NewSource(11)), 4)
	require.NoError(t, err)

	next2, moved2, err := RandomSelection(0, p, rand.New(rand.NewSource(11)), 4)
	require.NoError(t, err)

	assert.Equal(t, moved1, moved2)
	assert.Equal(t, next1, next2)

	// Without replacement: all migrated indices distinct and in range.
	seen := make(map[int]struct{}, len(moved1))
	for _, idx := range moved1 {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 10)

		_, dup := seen[idx]
		assert.False(t, dup, "index %d selected twice", idx)

		seen[idx] = struct{}{}
	}

	assert.Equal(t, p.Train.Len()+4, next1.Train.Len())
	assert.Equal(t, p.Test.Len()-4, next1.Test.Len())
}

func TestRandomSelectionQuotaErrors(t *testing.T) {
	p := selectionPartitions(2, 1, 3)

	_, _, err := RandomSelection(0, p, rand.New(rand.NewSource(1)), 4)
	assert.ErrorIs(t, err, ErrTestExhausted)
}
