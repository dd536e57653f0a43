package gpnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// jitter is the constant added to the diagonal of the training covariance
// matrix before Cholesky factorization. The GP is noiseless; the jitter only
// keeps the factorization numerically stable.
const jitter = 1e-6

// Positive is a positivity-preserving reparameterization of a scalar
// hyperparameter. The optimizer works on the unconstrained Raw value; every
// kernel evaluation uses the exponentiated Value, which is strictly positive
// for any finite Raw regardless of gradient sign.
type Positive struct {
	raw float64
}

//////
// Methods.
//////

// NewPositive wraps an already-positive value.
func NewPositive(value float64) Positive {
	return Positive{raw: math.Log(value)}
}

// Value returns the constrained (strictly positive) value.
func (p Positive) Value() float64 {
	return math.Exp(p.raw)
}

// Raw returns the unconstrained value, the gradient target.
func (p Positive) Raw() float64 {
	return p.raw
}

// Add shifts the unconstrained value by delta and returns the result.
func (p Positive) Add(delta float64) Positive {
	return Positive{raw: p.raw + delta}
}

// Validate checks the kernel hyperparameters and the declared feature
// dimensionality.
func (k Kernel) Validate() error {
	if k.FeatureDims < 1 || k.FeatureDims > 3 {
		return fmt.Errorf("%w: got %d", ErrFeatureDims, k.FeatureDims)
	}

	if k.Amplitude <= 0 || k.LengthScale <= 0 {
		return fmt.Errorf("gpnet: kernel hyperparameters must be positive, got amplitude=%v length_scale=%v",
			k.Amplitude, k.LengthScale)
	}

	return nil
}

// Eval computes the exponentiated-quadratic covariance between two latent
// points:
//
//	k(x, y) = amplitude^2 * exp(-||x-y||^2 / (2 * length_scale^2))
//
// Identical points evaluate to amplitude^2; distant points decay toward 0.
func (k Kernel) Eval(x, y []float64) float64 {
	return k.Amplitude * k.Amplitude * math.Exp(-sqDist(x, y)/(2*k.LengthScale*k.LengthScale))
}

// Posterior computes the GP regression posterior over the query points,
// conditioned on the training observations.
//
// Parameters:
//   - train: observed latent points paired with their property values
//   - query: latent points to predict at
//
// Returns the posterior mean, standard deviation and variance, one entry per
// query point, or a data error if the inputs violate the index-alignment or
// dimensionality preconditions.
//
// An empty training set is the pure-prior case: zero mean and amplitude^2
// variance at every query point.
func (k Kernel) Posterior(train, query Dataset) (Posterior, error) {
	if err := k.Validate(); err != nil {
		return Posterior{}, err
	}

	if err := train.Validate(k.FeatureDims); err != nil {
		return Posterior{}, err
	}

	if err := query.Validate(k.FeatureDims); err != nil {
		return Posterior{}, err
	}

	m := query.Len()

	out := Posterior{
		Mean:     make([]float64, m),
		Stddev:   make([]float64, m),
		Variance: make([]float64, m),
	}

	n := train.Len()
	if n == 0 {
		// Prior evaluation.
		for i := 0; i < m; i++ {
			out.Variance[i] = k.Amplitude * k.Amplitude
			out.Stddev[i] = k.Amplitude
		}

		return out, nil
	}

	chol, err := k.factorize(train.Points)
	if err != nil {
		return Posterior{}, err
	}

	// alpha = K^-1 y.
	y := mat.NewVecDense(n, train.Targets)

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return Posterior{}, fmt.Errorf("gpnet: posterior solve failed: %w", err)
	}

	ks := mat.NewVecDense(n, nil)
	w := mat.NewVecDense(n, nil)

	for i := 0; i < m; i++ {
		q := query.Points[i]

		for j := 0; j < n; j++ {
			ks.SetVec(j, k.Eval(q, train.Points[j]))
		}

		out.Mean[i] = mat.Dot(ks, alpha)

		// var = k(x*, x*) - k*^T K^-1 k*, clamped at zero against
		// round-off.
		if err := chol.SolveVecTo(w, ks); err != nil {
			return Posterior{}, fmt.Errorf("gpnet: posterior solve failed: %w", err)
		}

		v := k.Amplitude*k.Amplitude - mat.Dot(ks, w)
		if v < 0 {
			v = 0
		}

		out.Variance[i] = v
		out.Stddev[i] = math.Sqrt(v)
	}

	return out, nil
}

// NegLogLikelihood computes the negative log marginal likelihood of the
// training targets under the GP prior with this kernel:
//
//	nll = 0.5*y^T K^-1 y + 0.5*log|K| + n/2*log(2*pi)
func (k Kernel) NegLogLikelihood(train Dataset) (float64, error) {
	nll, _, _, err := k.lossAndGrad(train)

	return nll, err
}

// lossAndGrad computes the negative log marginal likelihood together with
// its gradients with respect to the log-reparameterized amplitude and
// length scale.
//
// With W = K^-1 - alpha*alpha^T and alpha = K^-1 y:
//
//	d nll / d theta = 0.5 * tr(W * dK/dtheta)
//
// For the exponentiated-quadratic kernel Kt (the jitter-free part of K),
// dK/d(log amp) = 2*Kt and dK/d(log ls) = Kt .* D2 / ls^2, where D2 is the
// squared-distance matrix.
func (k Kernel) lossAndGrad(train Dataset) (nll, gradLogAmp, gradLogLen float64, err error) {
	if err := k.Validate(); err != nil {
		return 0, 0, 0, err
	}

	if err := train.Validate(k.FeatureDims); err != nil {
		return 0, 0, 0, err
	}

	n := train.Len()
	if n == 0 {
		return 0, 0, 0, nil
	}

	chol, err := k.factorize(train.Points)
	if err != nil {
		return 0, 0, 0, err
	}

	y := mat.NewVecDense(n, train.Targets)

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return 0, 0, 0, fmt.Errorf("gpnet: likelihood solve failed: %w", err)
	}

	nll = 0.5*mat.Dot(y, alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)

	var kinv mat.SymDense
	if err := chol.InverseTo(&kinv); err != nil {
		return 0, 0, 0, fmt.Errorf("gpnet: covariance inverse failed: %w", err)
	}

	ls2 := k.LengthScale * k.LengthScale

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kt := k.Eval(train.Points[i], train.Points[j])
			w := kinv.At(i, j) - alpha.AtVec(i)*alpha.AtVec(j)

			gradLogAmp += 0.5 * w * 2 * kt
			gradLogLen += 0.5 * w * kt * sqDist(train.Points[i], train.Points[j]) / ls2
		}
	}

	return nll, gradLogAmp, gradLogLen, nil
}

// factorize builds the jittered training covariance matrix and returns its
// Cholesky factorization.
func (k Kernel) factorize(points [][]float64) (*mat.Cholesky, error) {
	n := len(points)

	cov := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.Eval(points[i], points[j])
			if i == j {
				v += jitter
			}

			cov.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("gpnet: covariance matrix is not positive definite (amplitude=%v, length_scale=%v)",
			k.Amplitude, k.LengthScale)
	}

	return &chol, nil
}

//////
// Helpers.
//////

// sqDist returns the squared Euclidean distance between two latent points.
func sqDist(x, y []float64) float64 {
	var sum float64

	for i := range x {
		d := x[i] - y[i]
		sum += d * d
	}

	return sum
}
