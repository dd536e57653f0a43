package gpnet

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

//////
// Exported functionalities.
//////

// DefaultFitConfig returns the default fit configuration: unit kernel
// priors, the conventional Adam learning rate, and no optimization (a
// single prior evaluation).
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Amplitude:    1.0,
		LengthScale:  1.0,
		FeatureDims:  2,
		LearningRate: 0.01,
		MaxIters:     0,
	}
}

// RunActiveLearning drives the multi-cycle active-learning loop over the
// initial partitions.
//
// Each cycle fits the GP on the current (train, val) partitions with the
// active-learning protocol, evaluates it on the current test partition, and
// appends a CycleRecord. On every cycle except the terminal one, the
// configured sampling policy migrates cfg.Quota test points into the
// training set for the next cycle. The loop runs cfg.MaxCycles+1 cycles in
// total; cfg.MaxCycles == 0 means exactly one fit and no migration.
//
// Hyperparameter handling follows cfg.ReoptimizeEachCycle:
//   - true (repeat variant): every cycle optimizes for cfg.MaxIters steps,
//     seeded with the previous cycle's best hyperparameters.
//   - false (no-repeat variant): cycle 0 performs the one full
//     optimization; every later cycle reuses the frozen cycle-0
//     hyperparameters with the iteration budget forced to 0, so the
//     optimization cost is paid once while resampling continues.
//
// Configuration errors (unknown policy, stop fraction outside (0, 1), a
// quota/cycle combination that would exhaust the test partition before the
// terminal cycle) are rejected before the first cycle starts; nothing is
// partially executed.
//
// Persisted artifacts (through cfg.Sink, after the loop): per-cycle
// training-set sizes, test MAE/MSE/SAE, validation MAE for optimized
// cycles, and the migrated index history.
func RunActiveLearning(cfg ActiveConfig, parts Partitions) (RunResult, error) {
	log := cfg.logger()

	if cfg.Policy != SamplingEntropy && cfg.Policy != SamplingRandom {
		return RunResult{}, fmt.Errorf("%w: got %q", ErrSamplingPolicy, cfg.Policy)
	}

	if cfg.StopFraction <= 0 || cfg.StopFraction >= 1 {
		return RunResult{}, fmt.Errorf("%w: stop fraction %v", ErrFraction, cfg.StopFraction)
	}

	if cfg.Quota < 0 || cfg.MaxCycles < 0 {
		return RunResult{}, fmt.Errorf("%w: quota %d, cycles %d", ErrTestExhausted, cfg.Quota, cfg.MaxCycles)
	}

	if err := parts.Validate(cfg.FeatureDims); err != nil {
		return RunResult{}, err
	}

	// Eager stop check: the planned sampling must leave at least the stop
	// fraction of the test set intact through the terminal cycle.
	if cfg.Quota*cfg.MaxCycles >= int(cfg.StopFraction*float64(parts.Test.Len())) {
		return RunResult{}, fmt.Errorf("%w: quota %d over %d cycles against %d test points at stop fraction %v",
			ErrTestExhausted, cfg.Quota, cfg.MaxCycles, parts.Test.Len(), cfg.StopFraction)
	}

	log.Info("Perform active learning",
		zap.String("samp", string(cfg.Policy)),
		zap.Int("quota", cfg.Quota),
		zap.Int("cycles", cfg.MaxCycles),
		zap.Bool("repeat", cfg.ReoptimizeEachCycle))

	rng := rand.New(rand.NewSource(cfg.Seed))

	out := RunResult{Cycles: make([]CycleRecord, 0, cfg.MaxCycles+1)}

	var (
		frozenAmp float64
		frozenLen float64
	)

	trainSizes := make([]float64, 0, cfg.MaxCycles+1)
	testMAEs := make([]float64, 0, cfg.MaxCycles+1)
	testMSEs := make([]float64, 0, cfg.MaxCycles+1)
	testSAEs := make([]float64, 0, cfg.MaxCycles+1)
	valMAEs := make([]float64, 0, cfg.MaxCycles+1)

	var res FitResult

	for i := 0; i <= cfg.MaxCycles; i++ {
		log.Info("Query number", zap.Int("cycle", i))

		fitCfg := cfg.FitConfig

		switch {
		case i == 0:
			// Cycle 0 always runs the configured optimization.
		case cfg.ReoptimizeEachCycle:
			// Repeat variant: the previous best seeds this cycle's priors.
			fitCfg.Amplitude = res.Amplitude
			fitCfg.LengthScale = res.LengthScale
		default:
			// No-repeat variant: frozen hyperparameters, re-evaluation only.
			fitCfg.MaxIters = 0
			fitCfg.Amplitude = frozenAmp
			fitCfg.LengthScale = frozenLen
		}

		var err error

		res, err = Active(fitCfg, parts)
		if err != nil {
			return RunResult{}, fmt.Errorf("gpnet: cycle %d: %w", i, err)
		}

		if i == 0 {
			frozenAmp = res.Amplitude
			frozenLen = res.LengthScale
		}

		out.Cycles = append(out.Cycles, CycleRecord{
			Cycle:     i,
			TrainSize: parts.Train.Len(),
			ValMAE:    res.ValMAE,
			TestMAE:   res.TestMAE,
			TestMSE:   res.TestMSE,
			TestSAE:   res.TestSAE,
			PearsonR:  res.PearsonR,
		})

		trainSizes = append(trainSizes, float64(parts.Train.Len()))
		testMAEs = append(testMAEs, res.TestMAE)
		testMSEs = append(testMSEs, res.TestMSE)
		testSAEs = append(testSAEs, res.TestSAE)

		if len(res.Trace) > 0 {
			valMAEs = append(valMAEs, res.ValMAE)
		}

		if i == cfg.MaxCycles {
			break
		}

		var moved []int

		switch cfg.Policy {
		case SamplingEntropy:
			parts, moved, err = EntropySelection(i, parts, res.Posterior.Variance, cfg.Quota)
		case SamplingRandom:
			parts, moved, err = RandomSelection(i, parts, rng, cfg.Quota)
		}

		if err != nil {
			return RunResult{}, fmt.Errorf("gpnet: cycle %d selection: %w", i, err)
		}

		out.Sampled = append(out.Sampled, moved...)
	}

	out.Final = res
	out.Partitions = parts

	if err := recordAll(cfg.sink(), []namedArray{
		{"training_data", trainSizes},
		{"gp_mae", testMAEs},
		{"gp_mse", testMSEs},
		{"gp_sae", testSAEs},
		{"val_mae", valMAEs},
		{"samp_indices", intsToFloats(out.Sampled)},
	}); err != nil {
		return RunResult{}, err
	}

	log.Info("Active learning complete",
		zap.Int("cycles", len(out.Cycles)),
		zap.Int("sampled", len(out.Sampled)),
		zap.Int("final_train", parts.Train.Len()),
		zap.Int("final_test", parts.Test.Len()))

	return out, nil
}
