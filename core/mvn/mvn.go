// Package mvn evaluates multivariate normal densities from precomputed
// inverse covariances and log-determinants.
//
// The factorization work lives in core/linalg; callers factor a covariance
// once and evaluate it against many points here. Passing a covariance that is
// not positive-definite is a caller error and is not detected.
package mvn

import (
	"math"

	"github.com/YuminosukeSato/scihmm/core/parallel"
	"gonum.org/v1/gonum/mat"
)

// Log2Pi is log(2π).
var Log2Pi = math.Log(2 * math.Pi)

// Evaluate returns the density of x under N(mean, Σ), given Σ⁻¹ and log|Σ|.
func Evaluate(x, mean []float64, invCov mat.Matrix, logDet float64, diagonal bool) float64 {
	return math.Exp(LogEvaluate(x, mean, invCov, logDet, diagonal))
}

// LogEvaluate returns the log-density of x:
//
//	-D/2·log(2π) - ½·log|Σ| - ½·(x-μ)ᵀΣ⁻¹(x-μ)
//
// With diagonal set only the diagonal of invCov is read.
func LogEvaluate(x, mean []float64, invCov mat.Matrix, logDet float64, diagonal bool) float64 {
	d := len(x)
	return -0.5*float64(d)*Log2Pi - 0.5*logDet - 0.5*Mahalanobis(x, mean, invCov, diagonal)
}

// Mahalanobis returns the squared Mahalanobis distance (x-μ)ᵀΣ⁻¹(x-μ).
func Mahalanobis(x, mean []float64, invCov mat.Matrix, diagonal bool) float64 {
	if diagonal {
		q := 0.0
		for i := range x {
			diff := x[i] - mean[i]
			q += diff * diff * invCov.At(i, i)
		}
		return q
	}
	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - mean[i]
	}
	v := mat.NewVecDense(len(diff), diff)
	return mat.Inner(v, invCov, v)
}

// LogEvaluateBatch evaluates every row of X and writes the log-densities to
// dst, which is allocated when nil or too short. Rows are split across
// goroutines for large inputs.
func LogEvaluateBatch(X mat.Matrix, mean []float64, invCov mat.Matrix, logDet float64, diagonal bool, dst []float64) []float64 {
	n, d := X.Dims()
	if len(dst) < n {
		dst = make([]float64, n)
	}
	parallel.ForRows(n, func(i int) {
		row := make([]float64, d)
		mat.Row(row, i, X)
		dst[i] = LogEvaluate(row, mean, invCov, logDet, diagonal)
	})
	return dst[:n]
}

// EvaluateBatch is LogEvaluateBatch followed by exponentiation.
func EvaluateBatch(X mat.Matrix, mean []float64, invCov mat.Matrix, logDet float64, diagonal bool, dst []float64) []float64 {
	dst = LogEvaluateBatch(X, mean, invCov, logDet, diagonal, dst)
	for i, v := range dst {
		dst[i] = math.Exp(v)
	}
	return dst
}
