package gpnet

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

//////
// Exported functionalities.
//////

// TrainTestSplit fits the GP with the train/test-split protocol: the whole
// pool is the training partition and the test partition doubles as the
// validation set, so the best iterate is the one minimizing test MAE. The
// final posterior is evaluated on the test partition.
//
// Persisted artifacts (through cfg.Sink): the optimization trace, the pool
// and test targets, and the posterior mean/stddev/variance.
func TrainTestSplit(cfg FitConfig, pool, test Dataset) (FitResult, error) {
	cfg.logger().Info("Train-test split approach requested",
		zap.Int("pool", pool.Len()), zap.Int("test", test.Len()))

	res, err := Fit(cfg, pool, test, test)
	if err != nil {
		return FitResult{}, err
	}

	if err := recordTrace(cfg.sink(), res.Trace, "Optmae", "Optmse", "Optsae"); err != nil {
		return FitResult{}, err
	}

	if err := recordAll(cfg.sink(), []namedArray{
		{"ypool", pool.Targets},
		{"ytest", test.Targets},
		{"gp_mean", res.Posterior.Mean},
		{"gp_stddev", res.Posterior.Stddev},
		{"gp_variance", res.Posterior.Variance},
	}); err != nil {
		return FitResult{}, err
	}

	return res, nil
}

// CrossValidate fits the GP with k-fold cross-validation over the pool.
//
// With cfg.Splits == 1 there is no cross-validation: exactly one iteration
// budget is required and the call degenerates to TrainTestSplit. With
// cfg.Splits > 1 exactly two budgets are required, the first for each fold
// and the second for the final refit on the full pool. Any other budget
// cardinality is ErrIterationBudget.
//
// Folds come from a seeded shuffled partition of the pool indices, so runs
// are reproducible. Each fold optimizes on (fold-train, fold-val) and
// reports the test MAE at the fold's best iterate. After all folds, the
// fold statistics are averaged, the winning fold's hyperparameters are
// carried on KFoldResult.BestKernel, and the reported final model comes
// from the full-pool refit.
func CrossValidate(cfg CrossValidateConfig, pool, test Dataset) (KFoldResult, error) {
	log := cfg.logger()

	if cfg.Splits < 1 {
		return KFoldResult{}, fmt.Errorf("gpnet: nsplit must be at least 1, got %d", cfg.Splits)
	}

	if cfg.Splits == 1 {
		if len(cfg.MaxIters) != 1 {
			return KFoldResult{}, fmt.Errorf("%w: train-test split needs 1 budget, got %d",
				ErrIterationBudget, len(cfg.MaxIters))
		}

		fitCfg := cfg.FitConfig
		fitCfg.MaxIters = cfg.MaxIters[0]

		res, err := TrainTestSplit(fitCfg, pool, test)
		if err != nil {
			return KFoldResult{}, err
		}

		return KFoldResult{
			BestKernel: Kernel{
				Amplitude:   res.Amplitude,
				LengthScale: res.LengthScale,
				FeatureDims: cfg.FeatureDims,
			},
			Final: res,
		}, nil
	}

	if len(cfg.MaxIters) != 2 {
		return KFoldResult{}, fmt.Errorf("%w: %d-fold cross-validation needs 2 budgets, got %d",
			ErrIterationBudget, cfg.Splits, len(cfg.MaxIters))
	}

	log.Info("K-fold cross-validation requested",
		zap.Int("nsplit", cfg.Splits), zap.Int("pool", pool.Len()))

	training, validation := kFoldPartition(pool.Len(), cfg.Splits, cfg.Seed)

	out := KFoldResult{Folds: make([]FoldResult, 0, cfg.Splits)}

	for fold := range training {
		log.Info("Fitting fold", zap.Int("fold", fold))

		fitCfg := cfg.FitConfig
		fitCfg.MaxIters = cfg.MaxIters[0]

		res, err := Fit(fitCfg, pool.take(training[fold]), pool.take(validation[fold]), test)
		if err != nil {
			return KFoldResult{}, fmt.Errorf("gpnet: fold %d: %w", fold, err)
		}

		out.Folds = append(out.Folds, FoldResult{
			Fold:        fold,
			Amplitude:   res.Amplitude,
			LengthScale: res.LengthScale,
			ValMAE:      res.ValMAE,
			ValMSE:      res.ValMSE,
			TestMAE:     res.TestMAE,
		})
	}

	valMAEs := make([]float64, len(out.Folds))
	valMSEs := make([]float64, len(out.Folds))

	for i, f := range out.Folds {
		valMAEs[i] = f.ValMAE
		valMSEs[i] = f.ValMSE
	}

	out.MeanValMAE = mean(valMAEs)
	out.MeanValMSE = mean(valMSEs)
	out.BestFold = argMin(valMAEs)
	out.BestKernel = Kernel{
		Amplitude:   out.Folds[out.BestFold].Amplitude,
		LengthScale: out.Folds[out.BestFold].LengthScale,
		FeatureDims: cfg.FeatureDims,
	}

	log.Info("Cross-validation complete",
		zap.Float64("mae", out.MeanValMAE), zap.Float64("mse", out.MeanValMSE),
		zap.Int("best_fold", out.BestFold))

	// Final refit on the full pool with the second budget.
	fitCfg := cfg.FitConfig
	fitCfg.MaxIters = cfg.MaxIters[1]

	final, err := TrainTestSplit(fitCfg, pool, test)
	if err != nil {
		return KFoldResult{}, err
	}

	out.Final = final

	return out, nil
}

// Active fits the GP with the active-learning protocol: optimize on the
// current cycle's (train, val) partitions and evaluate on the current test
// partition. The driver owns the cycle loop; this call handles exactly one
// cycle's fit.
func Active(cfg FitConfig, p Partitions) (FitResult, error) {
	res, err := Fit(cfg, p.Train, p.Val, p.Test)
	if err != nil {
		return FitResult{}, err
	}

	if err := recordTrace(cfg.sink(), res.Trace, "Optmae_val", "Optmse_val", "Optsae_val"); err != nil {
		return FitResult{}, err
	}

	if err := recordAll(cfg.sink(), []namedArray{
		{"ytrain", p.Train.Targets},
		{"yval", p.Val.Targets},
		{"ytest", p.Test.Targets},
		{"gp_mean", res.Posterior.Mean},
		{"gp_stddev", res.Posterior.Stddev},
		{"gp_variance", res.Posterior.Variance},
	}); err != nil {
		return FitResult{}, err
	}

	return res, nil
}

// SplitTrainTest splits a dataset into a leading pool and a trailing test
// partition. trainFrac must lie in (0, 1).
func SplitTrainTest(full Dataset, trainFrac float64) (pool, test Dataset, err error) {
	if err := full.Validate(0); err != nil {
		return Dataset{}, Dataset{}, err
	}

	if trainFrac <= 0 || trainFrac >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: train fraction %v", ErrFraction, trainFrac)
	}

	boundary := int(float64(full.Len()) * trainFrac)

	pool = Dataset{Points: full.Points[:boundary], Targets: full.Targets[:boundary]}
	test = Dataset{Points: full.Points[boundary:], Targets: full.Targets[boundary:]}

	return pool, test, nil
}

// CarveValidation carves the trailing valFrac of a pool into a validation
// partition, leaving the rest as the training partition. valFrac must lie
// in (0, 1).
func CarveValidation(pool Dataset, valFrac float64) (train, val Dataset, err error) {
	if err := pool.Validate(0); err != nil {
		return Dataset{}, Dataset{}, err
	}

	if valFrac <= 0 || valFrac >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: validation fraction %v", ErrFraction, valFrac)
	}

	boundary := int(float64(pool.Len()) * valFrac)
	split := pool.Len() - boundary

	train = Dataset{Points: pool.Points[:split], Targets: pool.Targets[:split]}
	val = Dataset{Points: pool.Points[split:], Targets: pool.Targets[split:]}

	return train, val, nil
}

// SplitThreeWay builds the repeat-variant initial partitions: a leading
// training fraction, a validation fraction after it, and the remainder as
// the test partition. Both fractions must lie in (0, 1) and sum to less
// than 1.
func SplitThreeWay(full Dataset, trainFrac, valFrac float64) (Partitions, error) {
	if err := full.Validate(0); err != nil {
		return Partitions{}, err
	}

	if trainFrac <= 0 || trainFrac >= 1 || valFrac <= 0 || valFrac >= 1 {
		return Partitions{}, fmt.Errorf("%w: fractions %v, %v", ErrFraction, trainFrac, valFrac)
	}

	if trainFrac+valFrac >= 1 {
		return Partitions{}, fmt.Errorf("%w: fractions %v and %v must sum to less than 1",
			ErrFraction, trainFrac, valFrac)
	}

	n := full.Len()
	trainEnd := int(float64(n) * trainFrac)
	valEnd := trainEnd + int(float64(n)*valFrac)

	return Partitions{
		Train: Dataset{Points: full.Points[:trainEnd], Targets: full.Targets[:trainEnd]},
		Val:   Dataset{Points: full.Points[trainEnd:valEnd], Targets: full.Targets[trainEnd:valEnd]},
		Test:  Dataset{Points: full.Points[valEnd:], Targets: full.Targets[valEnd:]},
	}, nil
}

//////
// Helpers.
//////

// kFoldPartition shuffles n indices with the given seed and splits them
// into k validation chunks, the first n%k chunks one element larger. The
// training set of each fold is every index outside its validation chunk.
func kFoldPartition(n, k int, seed int64) (training, validation [][]int) {
	indices := rand.New(rand.NewSource(seed)).Perm(n)

	training = make([][]int, k)
	validation = make([][]int, k)

	size := n / k
	extra := n % k

	start := 0

	for fold := 0; fold < k; fold++ {
		end := start + size
		if fold < extra {
			end++
		}

		validation[fold] = append([]int{}, indices[start:end]...)
		training[fold] = append(append([]int{}, indices[:start]...), indices[end:]...)

		start = end
	}

	return training, validation
}

// recordTrace persists the per-iteration trace columns under the original
// artifact names. A nil trace (no optimization) records nothing.
func recordTrace(sink Sink, trace FitTrace, maeName, mseName, saeName string) error {
	if len(trace) == 0 {
		return nil
	}

	return recordAll(sink, []namedArray{
		{"OptLoss", trace.Losses()},
		{"OptAmp", trace.Amplitudes()},
		{"OptLength", trace.LengthScales()},
		{maeName, trace.ValMAEs()},
		{mseName, trace.ValMSEs()},
		{saeName, trace.ValSAEs()},
	})
}

type namedArray struct {
	name   string
	values []float64
}

func recordAll(sink Sink, arrays []namedArray) error {
	for _, a := range arrays {
		if len(a.values) == 0 {
			continue
		}

		if err := sink.Record(a.name, a.values); err != nil {
			return fmt.Errorf("gpnet: recording %q: %w", a.name, err)
		}
	}

	return nil
}
