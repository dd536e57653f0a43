package gpnet

import (
	"math"

	"go.uber.org/zap"
)

//////
// Const, vars, types.
//////

// Conventional Adam defaults.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// adam holds the state of a first-order Adam optimizer over a small fixed
// set of scalars: exponential moving averages of the gradient and its
// square, bias corrected before each update.
type adam struct {
	rate float64
	step int
	m    []float64
	v    []float64
}

//////
// Methods.
//////

func newAdam(rate float64, params int) *adam {
	return &adam{
		rate: rate,
		m:    make([]float64, params),
		v:    make([]float64, params),
	}
}

// update applies one Adam step and returns the per-parameter deltas to
// subtract from the raw values.
func (a *adam) update(grads []float64) []float64 {
	a.step++

	deltas := make([]float64, len(grads))

	for i, g := range grads {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g

		mHat := a.m[i] / (1 - math.Pow(adamBeta1, float64(a.step)))
		vHat := a.v[i] / (1 - math.Pow(adamBeta2, float64(a.step)))

		deltas[i] = a.rate * mHat / (math.Sqrt(vHat) + adamEpsilon)
	}

	return deltas
}

//////
// Exported functionalities.
//////

// Fit optimizes the kernel amplitude and length scale on the training
// partition and evaluates the resulting model on the query partition.
//
// Each iteration computes the negative log marginal likelihood of the
// training targets under the current kernel, takes its gradient with respect
// to the log-reparameterized hyperparameters, applies one Adam step, then
// recomputes the posterior over the validation partition and records
// {loss, amplitude, length scale, val MAE/MSE/SAE} into the trace. The loss
// is the pre-step value; everything else reflects the post-step
// hyperparameters.
//
// The best iterate is the one minimizing validation MAE (earliest wins on
// ties). Its hyperparameters are the optimized result, and the returned
// posterior is recomputed with them against the query partition, not the
// validation one.
//
// Edge cases:
//   - cfg.MaxIters <= 0 skips the loop entirely: the caller-supplied priors
//     are used for a single posterior evaluation and the trace is nil. This
//     is a normal code path, not an error.
//   - A NaN or non-improving loss is recorded in the trace as-is and logged
//     as a warning; no retry or early stopping happens. If the covariance
//     factorization itself fails, the parameter update for that step is
//     skipped.
func Fit(cfg FitConfig, train, val, query Dataset) (FitResult, error) {
	log := cfg.logger()

	for _, d := range []Dataset{train, val, query} {
		if err := d.Validate(cfg.FeatureDims); err != nil {
			return FitResult{}, err
		}
	}

	if cfg.MaxIters <= 0 {
		return fitPrior(cfg, train, query, log)
	}

	log.Info("Requested optimisation with Adam algorithm",
		zap.Float64("rate", cfg.LearningRate),
		zap.Int("maxiters", cfg.MaxIters),
		zap.Float64("amp_prior", cfg.Amplitude),
		zap.Float64("length_prior", cfg.LengthScale))

	amp := NewPositive(cfg.Amplitude)
	length := NewPositive(cfg.LengthScale)
	opt := newAdam(cfg.LearningRate, 2)

	trace := make(FitTrace, 0, cfg.MaxIters)

	prevLoss := math.Inf(1)

	for i := 0; i < cfg.MaxIters; i++ {
		kernel := Kernel{
			Amplitude:   amp.Value(),
			LengthScale: length.Value(),
			FeatureDims: cfg.FeatureDims,
		}

		loss, gradAmp, gradLen, err := kernel.lossAndGrad(train)
		if err != nil {
			// Numerical warning, not fatal: keep the trace entry and
			// move on without updating the parameters.
			log.Warn("Covariance factorization failed, skipping update",
				zap.Int("step", i), zap.Error(err))

			loss = math.NaN()
		} else {
			deltas := opt.update([]float64{gradAmp, gradLen})
			amp = amp.Add(-deltas[0])
			length = length.Add(-deltas[1])
		}

		if math.IsNaN(loss) || loss > prevLoss {
			log.Warn("Non-improving loss", zap.Int("step", i), zap.Float64("loss", loss))
		}

		prevLoss = loss

		stepKernel := Kernel{
			Amplitude:   amp.Value(),
			LengthScale: length.Value(),
			FeatureDims: cfg.FeatureDims,
		}

		entry := TraceStep{
			Loss:        loss,
			Amplitude:   stepKernel.Amplitude,
			LengthScale: stepKernel.LengthScale,
			ValMAE:      math.NaN(),
			ValMSE:      math.NaN(),
			ValSAE:      math.NaN(),
		}

		post, err := stepKernel.Posterior(train, val)
		if err == nil {
			entry.ValMAE = meanAbsoluteError(val.Targets, post.Mean)
			entry.ValMSE = meanSquaredError(val.Targets, post.Mean)
			entry.ValSAE = stdAbsoluteError(val.Targets, post.Mean)
		}

		trace = append(trace, entry)

		if i%10 == 0 || i+1 == cfg.MaxIters {
			log.Info("Optimisation step",
				zap.Int("step", i),
				zap.Float64("loss", entry.Loss),
				zap.Float64("amplitude", entry.Amplitude),
				zap.Float64("length_scale", entry.LengthScale),
				zap.Float64("mae", entry.ValMAE),
				zap.Float64("mse", entry.ValMSE),
				zap.Float64("sae", entry.ValSAE))
		}
	}

	best := trace.Best()

	log.Info("Best-fitted parameters",
		zap.Float64("amplitude", trace[best].Amplitude),
		zap.Float64("length_scale", trace[best].LengthScale))

	bestKernel := Kernel{
		Amplitude:   trace[best].Amplitude,
		LengthScale: trace[best].LengthScale,
		FeatureDims: cfg.FeatureDims,
	}

	post, err := bestKernel.Posterior(train, query)
	if err != nil {
		return FitResult{}, err
	}

	res := FitResult{
		Amplitude:   bestKernel.Amplitude,
		LengthScale: bestKernel.LengthScale,
		Trace:       trace,
		Posterior:   post,
		ValMAE:      trace[best].ValMAE,
		ValMSE:      trace[best].ValMSE,
		ValSAE:      trace[best].ValSAE,
	}

	fillTestMetrics(&res, query.Targets)

	return res, nil
}

//////
// Helpers.
//////

// fitPrior is the no-optimization path: a single posterior evaluation with
// the caller-supplied hyperparameters and no trace.
func fitPrior(cfg FitConfig, train, query Dataset, log *zap.Logger) (FitResult, error) {
	log.Info("No optimisation requested, using priors directly",
		zap.Float64("amplitude", cfg.Amplitude),
		zap.Float64("length_scale", cfg.LengthScale))

	kernel := Kernel{
		Amplitude:   cfg.Amplitude,
		LengthScale: cfg.LengthScale,
		FeatureDims: cfg.FeatureDims,
	}

	post, err := kernel.Posterior(train, query)
	if err != nil {
		return FitResult{}, err
	}

	res := FitResult{
		Amplitude:   cfg.Amplitude,
		LengthScale: cfg.LengthScale,
		Posterior:   post,
		ValMAE:      math.NaN(),
		ValMSE:      math.NaN(),
		ValSAE:      math.NaN(),
	}

	fillTestMetrics(&res, query.Targets)

	return res, nil
}

// fillTestMetrics computes the reported test-partition statistics between
// the posterior mean and the query targets.
func fillTestMetrics(res *FitResult, targets []float64) {
	res.TestMAE = meanAbsoluteError(targets, res.Posterior.Mean)
	res.TestMSE = meanSquaredError(targets, res.Posterior.Mean)
	res.TestSAE = stdAbsoluteError(targets, res.Posterior.Mean)
	res.PearsonR = pearson(targets, res.Posterior.Mean)
}
