package gpnet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

//////
// Const, vars, types.
//////

// SamplingPolicy names the strategy used to pick which test-set points are
// migrated into the training set on each active-learning cycle.
type SamplingPolicy string

const (
	// SamplingEntropy ranks test points by posterior variance and migrates
	// the most uncertain ones. The GP's own uncertainty at a point is the
	// acquisition score: higher variance means a more informative sample.
	SamplingEntropy SamplingPolicy = "entropy"

	// SamplingRandom migrates uniformly random test points without
	// replacement. Mostly useful as a baseline against SamplingEntropy.
	SamplingRandom SamplingPolicy = "random"
)

// Configuration errors. These are reported eagerly, before any partial
// execution, and never raised mid-run.
var (
	// ErrSamplingPolicy indicates an unrecognized sampling policy name.
	ErrSamplingPolicy = errors.New("gpnet: sampling policy must be \"entropy\" or \"random\"")

	// ErrIterationBudget indicates that the number of supplied iteration
	// budgets does not match the selected fitting protocol: k-fold
	// cross-validation with more than one split needs exactly two (one per
	// fold, one for the final full-pool refit), every other protocol needs
	// exactly one.
	ErrIterationBudget = errors.New("gpnet: iteration budget cardinality does not match the fitting protocol")

	// ErrFraction indicates a split fraction outside the open interval
	// (0, 1), or a set of fractions that does not sum to the required total.
	ErrFraction = errors.New("gpnet: fraction out of range")

	// ErrTestExhausted indicates a quota/cycle/stop-fraction combination
	// that would empty the test partition before the final cycle. This is a
	// configuration error detected before the loop starts, not a runtime
	// condition to recover from.
	ErrTestExhausted = errors.New("gpnet: sampling quota and cycle count would exhaust the test set")
)

// Data errors.
var (
	// ErrLengthMismatch indicates latent points and targets of different
	// lengths. The two are paired positionally and must stay index aligned
	// through every partition operation.
	ErrLengthMismatch = errors.New("gpnet: latent points and targets must have the same length")

	// ErrFeatureDims indicates an unsupported latent feature
	// dimensionality. After reduction the latent vectors must have 1, 2, or
	// 3 components; the dimensionality is an input precondition, never
	// inferred.
	ErrFeatureDims = errors.New("gpnet: feature dimensionality must be 1, 2, or 3")
)

// Dataset is an ordered set of fixed-dimension latent feature vectors, one
// per material structure, paired positionally with the DFT-calculated target
// value for that structure.
//
// Invariant: len(Points) == len(Targets) at all times. Every partition or
// reindex operation in this package preserves the pairing.
type Dataset struct {
	// Points holds the latent feature vectors. All vectors in one Dataset
	// share the same trailing dimensionality (1, 2, or 3 after reduction).
	Points [][]float64

	// Targets holds the scalar property values, index aligned with Points.
	Targets []float64
}

// Partitions is the disjoint train/validation/test split the fitting
// protocols and the sample selector operate on. The conceptual "pool" of the
// active-learning loop is the union of Train and Val.
type Partitions struct {
	Train Dataset
	Val   Dataset
	Test  Dataset
}

// Kernel holds the exponentiated-quadratic covariance function parameters.
//
// Covariance between two latent points x and y:
//
//	k(x, y) = Amplitude^2 * exp(-||x-y||^2 / (2 * LengthScale^2))
type Kernel struct {
	// Amplitude is the maximum value of the kernel. Strictly positive.
	Amplitude float64

	// LengthScale is the width of the kernel. Strictly positive.
	LengthScale float64

	// FeatureDims is the declared dimensionality of the latent vectors the
	// kernel operates on. Must be 1, 2, or 3.
	FeatureDims int
}

// Posterior is a GP regression posterior evaluated over a set of query
// points. It is derived, never stored: recomputed whenever hyperparameters
// or conditioning data change.
type Posterior struct {
	// Mean is the predicted property value at each query point.
	Mean []float64

	// Stddev is the predictive standard deviation at each query point.
	Stddev []float64

	// Variance is Stddev squared. Since a log loss is minimised during
	// fitting, the variance is the preferred uncertainty measure for
	// sample selection.
	Variance []float64
}

// TraceStep is one entry of a fit trace: the state of the optimization after
// a single Adam step. Loss is the negative log marginal likelihood computed
// before the step; Amplitude, LengthScale and the validation metrics reflect
// the hyperparameters after the step.
type TraceStep struct {
	Loss        float64
	Amplitude   float64
	LengthScale float64
	ValMAE      float64
	ValMSE      float64
	ValSAE      float64
}

// FitTrace is the ordered per-iteration record of one optimization run. It
// is created fresh per fit call and consumed to select the best iterate.
type FitTrace []TraceStep

// FitResult is the outcome of a single fit call: the optimized
// hyperparameters, the per-iteration trace (nil when no optimization was
// requested), the posterior over the query partition, and the reported
// error statistics.
type FitResult struct {
	// Amplitude and LengthScale are the optimized hyperparameters: the
	// best iterate's values, or the caller-supplied priors when MaxIters
	// was zero or negative.
	Amplitude   float64
	LengthScale float64

	// Trace holds one entry per optimization iteration. Nil on the
	// no-optimization path.
	Trace FitTrace

	// Posterior is evaluated with the optimized hyperparameters over the
	// query partition (the test set, for every protocol in this package).
	Posterior Posterior

	// ValMAE, ValMSE and ValSAE are the best iterate's validation metrics.
	// NaN on the no-optimization path.
	ValMAE float64
	ValMSE float64
	ValSAE float64

	// TestMAE, TestMSE and TestSAE are computed between the posterior mean
	// and the query targets.
	TestMAE float64
	TestMSE float64
	TestSAE float64

	// PearsonR is the Pearson correlation coefficient between the
	// posterior mean and the query targets. Reported as a diagnostic; it
	// drives no control-flow decision.
	PearsonR float64
}

// FoldResult is the per-fold summary of a k-fold cross-validation run.
type FoldResult struct {
	Fold        int
	Amplitude   float64
	LengthScale float64
	ValMAE      float64
	ValMSE      float64
	TestMAE     float64
}

// KFoldResult aggregates a full cross-validation run: the per-fold
// summaries, their mean validation statistics, the winning fold, and the
// final model refit on the whole pool.
type KFoldResult struct {
	Folds      []FoldResult
	MeanValMAE float64
	MeanValMSE float64

	// BestFold is the index of the fold with the lowest validation MAE.
	// BestKernel carries that fold's hyperparameters directly; selecting
	// the winner never goes through the artifact sink.
	BestFold   int
	BestKernel Kernel

	// Final is the full-pool refit using the second iteration budget.
	Final FitResult
}

// CycleRecord is the per-cycle diagnostic snapshot of an active-learning
// run. Records are appended once per cycle and never mutated retroactively.
type CycleRecord struct {
	Cycle     int
	TrainSize int

	// ValMAE is the cycle's best validation MAE. NaN on cycles that reused
	// frozen hyperparameters without re-optimizing.
	ValMAE float64

	TestMAE  float64
	TestMSE  float64
	TestSAE  float64
	PearsonR float64
}

// RunResult is the outcome of a complete active-learning run.
type RunResult struct {
	// Cycles holds one record per cycle, in order.
	Cycles []CycleRecord

	// Sampled is the concatenated list of test-partition indices migrated
	// into the training set, in migration order.
	Sampled []int

	// Final is the last cycle's fit result.
	Final FitResult

	// Partitions is the terminal train/val/test state.
	Partitions Partitions
}

// FitConfig configures a single fit call.
type FitConfig struct {
	// Amplitude and LengthScale are the kernel priors. When MaxIters <= 0
	// they are used directly, with no positivity reparameterization
	// applied.
	Amplitude   float64
	LengthScale float64

	// FeatureDims declares the latent vector dimensionality (1, 2, or 3).
	FeatureDims int

	// LearningRate is the Adam step size.
	LearningRate float64

	// MaxIters is the optimization budget. Zero or negative means "no
	// optimization": a single posterior evaluation with the priors and a
	// nil trace. This is a normal code path, not an error.
	MaxIters int

	// Logger receives fit progress. Nil defaults to zap.NewNop().
	Logger *zap.Logger

	// Sink receives the named numeric artifacts of the fit. Nil defaults
	// to Discard.
	Sink Sink
}

// CrossValidateConfig configures CrossValidate.
type CrossValidateConfig struct {
	// FitConfig supplies the priors, learning rate, logger and sink.
	// FitConfig.MaxIters is ignored; the budgets come from MaxIters below.
	FitConfig

	// Splits is the number of folds. 1 degenerates to a plain train/test
	// split.
	Splits int

	// MaxIters holds the iteration budgets: exactly one entry when
	// Splits == 1, exactly two (per-fold, final refit) when Splits > 1.
	MaxIters []int

	// Seed feeds the fold shuffle so splits are reproducible.
	Seed int64
}

// ActiveConfig configures an active-learning run.
type ActiveConfig struct {
	FitConfig

	// Policy selects the sampling strategy.
	Policy SamplingPolicy

	// Quota is the number of test points migrated into the training set
	// per cycle.
	Quota int

	// MaxCycles is the index of the terminal cycle. The loop runs
	// MaxCycles+1 cycles in total; MaxCycles == 0 means a single fit and
	// no migration.
	MaxCycles int

	// StopFraction is the minimum fraction of the initial test set that
	// must survive the whole run. Must lie in (0, 1).
	StopFraction float64

	// ReoptimizeEachCycle selects the repeat variant: every cycle runs a
	// full optimization, seeded with the previous cycle's best
	// hyperparameters. When false, cycle 0 optimizes once and later cycles
	// reuse the frozen result with MaxIters forced to 0.
	ReoptimizeEachCycle bool

	// Seed feeds the random sampling policy. Ignored by SamplingEntropy.
	Seed int64
}

//////
// Methods.
//////

// Len returns the number of structures in the dataset.
func (d Dataset) Len() int {
	return len(d.Points)
}

// Validate checks the index-alignment invariant and, when featureDims is
// positive, that every latent vector has the declared dimensionality.
func (d Dataset) Validate(featureDims int) error {
	if len(d.Points) != len(d.Targets) {
		return fmt.Errorf("%w: %d points, %d targets", ErrLengthMismatch, len(d.Points), len(d.Targets))
	}

	if featureDims != 0 && (featureDims < 1 || featureDims > 3) {
		return fmt.Errorf("%w: got %d", ErrFeatureDims, featureDims)
	}

	for i, p := range d.Points {
		if featureDims != 0 && len(p) != featureDims {
			return fmt.Errorf("%w: point %d has %d components, expected %d",
				ErrFeatureDims, i, len(p), featureDims)
		}
	}

	return nil
}

// Clone returns a deep copy. Selection policies operate on copies so the
// caller's partitions are never mutated in place.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Points:  make([][]float64, len(d.Points)),
		Targets: make([]float64, len(d.Targets)),
	}

	for i, p := range d.Points {
		cp := make([]float64, len(p))
		copy(cp, p)
		out.Points[i] = cp
	}

	copy(out.Targets, d.Targets)

	return out
}

// take returns the rows at the given indices, in the given order.
func (d Dataset) take(indices []int) Dataset {
	out := Dataset{
		Points:  make([][]float64, 0, len(indices)),
		Targets: make([]float64, 0, len(indices)),
	}

	for _, i := range indices {
		out.Points = append(out.Points, d.Points[i])
		out.Targets = append(out.Targets, d.Targets[i])
	}

	return out
}

// drop returns the rows not listed in indices, preserving their order.
func (d Dataset) drop(indices []int) Dataset {
	skip := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		skip[i] = struct{}{}
	}

	out := Dataset{}

	for i := range d.Points {
		if _, ok := skip[i]; ok {
			continue
		}

		out.Points = append(out.Points, d.Points[i])
		out.Targets = append(out.Targets, d.Targets[i])
	}

	return out
}

// concat appends b's rows after a's.
func concat(a, b Dataset) Dataset {
	out := Dataset{
		Points:  make([][]float64, 0, a.Len()+b.Len()),
		Targets: make([]float64, 0, a.Len()+b.Len()),
	}

	out.Points = append(out.Points, a.Points...)
	out.Points = append(out.Points, b.Points...)
	out.Targets = append(out.Targets, a.Targets...)
	out.Targets = append(out.Targets, b.Targets...)

	return out
}

// Len returns the total number of structures across the three partitions.
func (p Partitions) Len() int {
	return p.Train.Len() + p.Val.Len() + p.Test.Len()
}

// Pool returns the conceptual pool of the active-learning loop: the union
// of the training and validation partitions.
func (p Partitions) Pool() Dataset {
	return concat(p.Train, p.Val)
}

// Validate checks every partition against the declared feature
// dimensionality.
func (p Partitions) Validate(featureDims int) error {
	for _, d := range []Dataset{p.Train, p.Val, p.Test} {
		if err := d.Validate(featureDims); err != nil {
			return err
		}
	}

	return nil
}

// Best returns the index of the trace step with the lowest validation MAE.
// Ties break toward the earliest step. Returns -1 for an empty trace.
func (t FitTrace) Best() int {
	if len(t) == 0 {
		return -1
	}

	return argMin(t.ValMAEs())
}

// Losses returns the per-iteration loss column of the trace.
func (t FitTrace) Losses() []float64 {
	return t.column(func(s TraceStep) float64 { return s.Loss })
}

// Amplitudes returns the per-iteration amplitude column of the trace.
func (t FitTrace) Amplitudes() []float64 {
	return t.column(func(s TraceStep) float64 { return s.Amplitude })
}

// LengthScales returns the per-iteration length-scale column of the trace.
func (t FitTrace) LengthScales() []float64 {
	return t.column(func(s TraceStep) float64 { return s.LengthScale })
}

// ValMAEs returns the per-iteration validation MAE column of the trace.
func (t FitTrace) ValMAEs() []float64 {
	return t.column(func(s TraceStep) float64 { return s.ValMAE })
}

// ValMSEs returns the per-iteration validation MSE column of the trace.
func (t FitTrace) ValMSEs() []float64 {
	return t.column(func(s TraceStep) float64 { return s.ValMSE })
}

// ValSAEs returns the per-iteration validation SAE column of the trace.
func (t FitTrace) ValSAEs() []float64 {
	return t.column(func(s TraceStep) float64 { return s.ValSAE })
}

func (t FitTrace) column(f func(TraceStep) float64) []float64 {
	out := make([]float64, len(t))
	for i, s := range t {
		out[i] = f(s)
	}

	return out
}

// logger returns the configured logger, or a no-op one.
func (c FitConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}

	return c.Logger
}

// sink returns the configured sink, or Discard.
func (c FitConfig) sink() Sink {
	if c.Sink == nil {
		return Discard
	}

	return c.Sink
}
