package gpnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitTestConfig(maxIters int) FitConfig {
	cfg := DefaultFitConfig()
	cfg.MaxIters = maxIters

	return cfg
}

func TestFitNoOptimization(t *testing.T) {
	train := gridDataset(9)
	test := gridDataset(16)

	res, err := Fit(fitTestConfig(0), train, test, test)
	require.NoError(t, err)

	// No trace, priors used directly.
	assert.Nil(t, res.Trace)
	assert.Equal(t, 1.0, res.Amplitude)
	assert.Equal(t, 1.0, res.LengthScale)

	// Validation metrics only exist when an optimization ran.
	assert.True(t, math.IsNaN(res.ValMAE))
	assert.True(t, math.IsNaN(res.ValMSE))
	assert.True(t, math.IsNaN(res.ValSAE))

	assert.Len(t, res.Posterior.Mean, test.Len())
	assert.False(t, math.IsNaN(res.TestMAE))

	// Deterministic: no optimizer randomness is involved.
	again, err := Fit(fitTestConfig(0), train, test, test)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestFitNegativeItersIsNoOptimization(t *testing.T) {
	train := gridDataset(9)
	test := gridDataset(4)

	res, err := Fit(fitTestConfig(-3), train, test, test)
	require.NoError(t, err)
	assert.Nil(t, res.Trace)
}

func TestFitTraceLengthAndPositivity(t *testing.T) {
	train := gridDataset(12)
	val := gridDataset(6)
	test := gridDataset(8)

	cfg := fitTestConfig(20)
	cfg.LearningRate = 0.1

	res, err := Fit(cfg, train, val, test)
	require.NoError(t, err)
	require.Len(t, res.Trace, 20)

	// Optimized hyperparameters stay strictly positive at every iteration
	// regardless of gradient sign.
	for i, step := range res.Trace {
		assert.Greater(t, step.Amplitude, 0.0, "step %d", i)
		assert.Greater(t, step.LengthScale, 0.0, "step %d", i)
	}

	assert.Greater(t, res.Amplitude, 0.0)
	assert.Greater(t, res.LengthScale, 0.0)
}

// The first bias-corrected Adam step has magnitude rate*g/(|g|+eps), which
// is the learning rate up to epsilon. The raw (log-space) parameters must
// therefore move by almost exactly the learning rate.
func TestFitFirstAdamStepSize(t *testing.T) {
	train := gridDataset(9)
	test := gridDataset(4)

	cfg := fitTestConfig(1)
	cfg.LearningRate = 0.01

	res, err := Fit(cfg, train, test, test)
	require.NoError(t, err)
	require.Len(t, res.Trace, 1)

	moveAmp := math.Abs(math.Log(res.Trace[0].Amplitude) - math.Log(cfg.Amplitude))
	moveLen := math.Abs(math.Log(res.Trace[0].LengthScale) - math.Log(cfg.LengthScale))

	assert.InDelta(t, cfg.LearningRate, moveAmp, 1e-5)
	assert.InDelta(t, cfg.LearningRate, moveLen, 1e-5)
}

func TestFitBestIterateMetrics(t *testing.T) {
	train := gridDataset(12)
	val := gridDataset(6)
	test := gridDataset(8)

	cfg := fitTestConfig(15)

	res, err := Fit(cfg, train, val, test)
	require.NoError(t, err)

	best := res.Trace.Best()
	require.GreaterOrEqual(t, best, 0)

	// The reported hyperparameters and validation metrics are the best
	// iterate's, not the last one's.
	assert.Equal(t, res.Trace[best].Amplitude, res.Amplitude)
	assert.Equal(t, res.Trace[best].LengthScale, res.LengthScale)
	assert.Equal(t, res.Trace[best].ValMAE, res.ValMAE)
	assert.Equal(t, res.Trace[best].ValMSE, res.ValMSE)
	assert.Equal(t, res.Trace[best].ValSAE, res.ValSAE)

	// And the best iterate minimizes validation MAE.
	for _, step := range res.Trace {
		if !math.IsNaN(step.ValMAE) {
			assert.LessOrEqual(t, res.ValMAE, step.ValMAE)
		}
	}
}

func TestFitDataErrors(t *testing.T) {
	train := gridDataset(9)
	train.Targets = train.Targets[:5]

	_, err := Fit(fitTestConfig(0), train, gridDataset(4), gridDataset(4))
	assert.ErrorIs(t, err, ErrLengthMismatch)

	cfg := fitTestConfig(0)
	cfg.FeatureDims = 4

	_, err = Fit(cfg, gridDataset(9), gridDataset(4), gridDataset(4))
	assert.ErrorIs(t, err, ErrFeatureDims)
}

func TestTraceBest(t *testing.T) {
	nan := math.NaN()

	trace := FitTrace{
		{ValMAE: nan},
		{ValMAE: 0.5},
		{ValMAE: 0.5},
		{ValMAE: 0.7},
	}

	// NaN entries are skipped; ties break toward the earliest step.
	assert.Equal(t, 1, trace.Best())

	assert.Equal(t, -1, FitTrace{}.Best())
}

func TestAdamUpdateMoments(t *testing.T) {
	opt := newAdam(0.1, 1)

	// Two identical gradients: with bias correction the step magnitude
	// stays at rate*g/(|g|+eps) for a constant gradient.
	first := opt.update([]float64{2.0})
	second := opt.update([]float64{2.0})

	assert.InDelta(t, 0.1, first[0], 1e-6)
	assert.InDelta(t, 0.1, second[0], 1e-6)

	// Opposite gradient flips the direction.
	down := newAdam(0.1, 1).update([]float64{-2.0})
	assert.InDelta(t, -0.1, down[0], 1e-6)
}
