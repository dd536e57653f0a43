// Package gpnet provides active-learning-driven uncertainty quantification
// for predicted material optical properties. A Gaussian Process regresses a
// target property from latent embeddings of candidate material structures,
// yielding both a point prediction and a calibrated uncertainty estimate;
// an active-learning loop uses that uncertainty to choose which additional
// structures are worth computing expensively and adding to the training
// pool.
//
// # Features
//
// The package includes the following key features:
//
//   - Gaussian Process regression with an exponentiated-quadratic kernel
//     over 1-, 2-, or 3-dimensional latent points, computed with a Cholesky
//     factorization
//   - Adam optimization of the kernel amplitude and length scale against
//     the negative log marginal likelihood, with a positivity-preserving
//     reparameterization of both hyperparameters
//   - Three fitting protocols: train/test split, k-fold cross-validation,
//     and the per-cycle active-learning fit
//   - Two sampling policies for active learning: entropy (posterior
//     variance ranking) and random (seeded uniform baseline)
//   - Per-iteration fit traces and per-cycle diagnostic records, with
//     best-iterate selection by validation MAE
//   - A pluggable artifact sink: numeric arrays can be kept in memory for
//     tests or written one blob file per named quantity
//
// # Fitting
//
// A fit call optimizes the two kernel hyperparameters on a training
// partition and evaluates on a query partition:
//
//	cfg := gpnet.DefaultFitConfig()
//	cfg.MaxIters = 100
//
//	res, err := gpnet.TrainTestSplit(cfg, pool, test)
//	if err != nil {
//	    // Configuration or data error: nothing was partially executed.
//	}
//	fmt.Println(res.Amplitude, res.LengthScale, res.TestMAE, res.PearsonR)
//
// MaxIters <= 0 requests no optimization at all: the caller-supplied priors
// are used for a single posterior evaluation and the trace is nil. That is
// a normal code path, not an error.
//
// # Active learning
//
// The driver runs MaxCycles+1 fit cycles, migrating Quota test points into
// the training set between cycles:
//
//	cfg := gpnet.ActiveConfig{
//	    FitConfig:    gpnet.DefaultFitConfig(),
//	    Policy:       gpnet.SamplingEntropy,
//	    Quota:        10,
//	    MaxCycles:    5,
//	    StopFraction: 0.1,
//	}
//
//	run, err := gpnet.RunActiveLearning(cfg, parts)
//
// A quota/cycle/stop-fraction combination that would exhaust the test
// partition before the terminal cycle is rejected eagerly, before the first
// cycle starts.
//
// # Concurrency
//
// The core is single-threaded by design: each optimization iteration
// depends on the previous iterate, and one process invocation owns one
// fit/cycle sequence. Multiple properties of interest are independent,
// serially executed pipelines with no shared mutable state.
package gpnet
