package gpnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossValidateBudgetCardinality(t *testing.T) {
	pool := gridDataset(20)
	test := gridDataset(5)

	// Splits == 1 needs exactly one budget.
	cfg := CrossValidateConfig{FitConfig: DefaultFitConfig(), Splits: 1, MaxIters: []int{2, 5}}
	_, err := CrossValidate(cfg, pool, test)
	assert.ErrorIs(t, err, ErrIterationBudget)

	// Splits > 1 needs exactly two.
	cfg = CrossValidateConfig{FitConfig: DefaultFitConfig(), Splits: 5, MaxIters: []int{2}}
	_, err = CrossValidate(cfg, pool, test)
	assert.ErrorIs(t, err, ErrIterationBudget)

	cfg = CrossValidateConfig{FitConfig: DefaultFitConfig(), Splits: 5, MaxIters: []int{2, 5, 7}}
	_, err = CrossValidate(cfg, pool, test)
	assert.ErrorIs(t, err, ErrIterationBudget)

	cfg = CrossValidateConfig{FitConfig: DefaultFitConfig(), Splits: 0, MaxIters: []int{2}}
	_, err = CrossValidate(cfg, pool, test)
	assert.Error(t, err)
}

func TestKFoldPartitionDisjointCover(t *testing.T) {
	training, validation := kFoldPartition(100, 5, 0)

	require.Len(t, training, 5)
	require.Len(t, validation, 5)

	seen := make(map[int]int)

	for fold := 0; fold < 5; fold++ {
		assert.Len(t, validation[fold], 20)
		assert.Len(t, training[fold], 80)

		for _, idx := range validation[fold] {
			seen[idx]++
		}

		// No index sits in both halves of the same fold.
		inTrain := make(map[int]struct{}, len(training[fold]))
		for _, idx := range training[fold] {
			inTrain[idx] = struct{}{}
		}

		for _, idx := range validation[fold] {
			_, ok := inTrain[idx]
			assert.False(t, ok, "index %d in both partitions of fold %d", idx, fold)
		}
	}

	// Validation sets are disjoint and cover the pool exactly once.
	require.Len(t, seen, 100)
	for idx, count := range seen {
		assert.Equal(t, 1, count, "index %d", idx)
	}
}

func TestKFoldPartitionUnevenSizes(t *testing.T) {
	_, validation := kFoldPartition(10, 3, 42)

	// First n%k folds take the extra element.
	assert.Len(t, validation[0], 4)
	assert.Len(t, validation[1], 3)
	assert.Len(t, validation[2], 3)
}

func TestKFoldPartitionSeeded(t *testing.T) {
	tr1, va1 := kFoldPartition(30, 3, 7)
	tr2, va2 := kFoldPartition(30, 3, 7)

	assert.Equal(t, tr1, tr2)
	assert.Equal(t, va1, va2)

	_, other := kFoldPartition(30, 3, 8)
	assert.NotEqual(t, va1, other)
}

func TestCrossValidateRuns(t *testing.T) {
	pool := gridDataset(20)
	test := gridDataset(5)

	cfg := CrossValidateConfig{
		FitConfig: DefaultFitConfig(),
		Splits:    4,
		MaxIters:  []int{3, 5},
	}

	res, err := CrossValidate(cfg, pool, test)
	require.NoError(t, err)
	require.Len(t, res.Folds, 4)

	for i, fold := range res.Folds {
		assert.Equal(t, i, fold.Fold)
		assert.Greater(t, fold.Amplitude, 0.0)
		assert.Greater(t, fold.LengthScale, 0.0)
		assert.False(t, math.IsNaN(fold.ValMAE))
	}

	assert.False(t, math.IsNaN(res.MeanValMAE))
	assert.False(t, math.IsNaN(res.MeanValMSE))

	// The winning fold's hyperparameters travel in memory.
	require.GreaterOrEqual(t, res.BestFold, 0)
	assert.Equal(t, res.Folds[res.BestFold].Amplitude, res.BestKernel.Amplitude)
	assert.Equal(t, res.Folds[res.BestFold].LengthScale, res.BestKernel.LengthScale)

	for _, fold := range res.Folds {
		assert.LessOrEqual(t, res.Folds[res.BestFold].ValMAE, fold.ValMAE)
	}

	// The final refit uses the second budget on the full pool.
	require.Len(t, res.Final.Trace, 5)
	assert.Len(t, res.Final.Posterior.Mean, test.Len())
}

func TestCrossValidateSingleSplitDegenerates(t *testing.T) {
	pool := gridDataset(16)
	test := gridDataset(4)

	cfg := CrossValidateConfig{
		FitConfig: DefaultFitConfig(),
		Splits:    1,
		MaxIters:  []int{4},
	}

	res, err := CrossValidate(cfg, pool, test)
	require.NoError(t, err)

	assert.Empty(t, res.Folds)
	require.Len(t, res.Final.Trace, 4)
	assert.Equal(t, res.Final.Amplitude, res.BestKernel.Amplitude)
}

func TestTrainTestSplitRecordsArtifacts(t *testing.T) {
	pool := gridDataset(16)
	test := gridDataset(4)

	sink := NewMemorySink()

	cfg := DefaultFitConfig()
	cfg.MaxIters = 3
	cfg.Sink = sink

	res, err := TrainTestSplit(cfg, pool, test)
	require.NoError(t, err)

	for _, name := range []string{
		"OptLoss", "OptAmp", "OptLength", "Optmae", "Optmse", "Optsae",
		"ypool", "ytest", "gp_mean", "gp_stddev", "gp_variance",
	} {
		values, ok := sink.Load(name)
		require.True(t, ok, "missing artifact %q", name)
		assert.NotEmpty(t, values, "artifact %q", name)
	}

	loss, _ := sink.Load("OptLoss")
	assert.Len(t, loss, 3)

	mean, _ := sink.Load("gp_mean")
	assert.Equal(t, res.Posterior.Mean, mean)
}

func TestTrainTestSplitNoTraceArtifacts(t *testing.T) {
	sink := NewMemorySink()

	cfg := DefaultFitConfig()
	cfg.Sink = sink

	_, err := TrainTestSplit(cfg, gridDataset(16), gridDataset(4))
	require.NoError(t, err)

	// No optimization, no trace artifacts.
	_, ok := sink.Load("OptLoss")
	assert.False(t, ok)

	_, ok = sink.Load("gp_mean")
	assert.True(t, ok)
}

func TestSplitTrainTest(t *testing.T) {
	full := gridDataset(20)

	pool, test, err := SplitTrainTest(full, 0.3)
	require.NoError(t, err)

	assert.Equal(t, 6, pool.Len())
	assert.Equal(t, 14, test.Len())
	assert.Equal(t, full.Len(), pool.Len()+test.Len())

	for _, bad := range []float64{0, 1, -0.2, 1.5} {
		_, _, err := SplitTrainTest(full, bad)
		assert.ErrorIs(t, err, ErrFraction, "fraction %v", bad)
	}
}

func TestCarveValidation(t *testing.T) {
	pool := gridDataset(20)

	train, val, err := CarveValidation(pool, 0.3)
	require.NoError(t, err)

	// The validation partition comes from the tail of the pool.
	assert.Equal(t, 14, train.Len())
	assert.Equal(t, 6, val.Len())
	assert.Equal(t, pool.Points[14], val.Points[0])

	_, _, err = CarveValidation(pool, 1.0)
	assert.ErrorIs(t, err, ErrFraction)
}

func TestSplitThreeWay(t *testing.T) {
	full := gridDataset(20)

	parts, err := SplitThreeWay(full, 0.5, 0.2)
	require.NoError(t, err)

	assert.Equal(t, 10, parts.Train.Len())
	assert.Equal(t, 4, parts.Val.Len())
	assert.Equal(t, 6, parts.Test.Len())
	assert.Equal(t, full.Len(), parts.Len())

	// Fractions must sum to less than 1.
	_, err = SplitThreeWay(full, 0.7, 0.3)
	assert.ErrorIs(t, err, ErrFraction)

	_, err = SplitThreeWay(full, 0.0, 0.3)
	assert.ErrorIs(t, err, ErrFraction)
}
