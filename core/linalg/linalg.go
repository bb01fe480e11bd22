// Package linalg wraps the gonum factorizations used by the mixture and HMM
// estimators and reports failures with the project's structured errors.
//
// Every function is pure: inputs are never modified and results are freshly
// allocated.
package linalg

import (
	"math"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Cholesky factors the symmetric positive-definite matrix a and returns the
// upper-triangular U with UᵀU = a. A matrix that is not positive-definite
// yields a SingularMatrixError.
func Cholesky(a mat.Symmetric) (*mat.TriDense, error) {
	chol, err := Factorize(a)
	if err != nil {
		return nil, err
	}
	var u mat.TriDense
	chol.UTo(&u)
	return &u, nil
}

// Factorize returns the gonum Cholesky factorization of a so that callers can
// derive the inverse and log-determinant from a single decomposition.
func Factorize(a mat.Symmetric) (*mat.Cholesky, error) {
	if a.SymmetricDim() == 0 {
		return nil, errors.NewValidationError("a", "matrix must be non-empty", 0)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.NewSingularMatrixError("linalg.Cholesky", -1)
	}
	return &chol, nil
}

// Determinant returns det(a). With posDef set the Cholesky diagonal is used,
// otherwise an LU factorization.
func Determinant(a mat.Matrix, posDef bool) (float64, error) {
	if err := requireSquare("linalg.Determinant", a); err != nil {
		return 0, err
	}
	if posDef {
		chol, err := Factorize(Symmetrize(a))
		if err != nil {
			return 0, err
		}
		return chol.Det(), nil
	}
	var lu mat.LU
	lu.Factorize(a)
	return lu.Det(), nil
}

// LogDeterminant returns log(det(a)). A zero determinant yields a
// SingularMatrixError; a negative one has no real logarithm and yields a
// ValueError.
func LogDeterminant(a mat.Matrix, posDef bool) (float64, error) {
	if err := requireSquare("linalg.LogDeterminant", a); err != nil {
		return 0, err
	}
	if posDef {
		chol, err := Factorize(Symmetrize(a))
		if err != nil {
			return 0, err
		}
		return chol.LogDet(), nil
	}
	var lu mat.LU
	lu.Factorize(a)
	logDet, sign := lu.LogDet()
	switch {
	case sign == 0 || math.IsInf(logDet, -1) || math.IsNaN(logDet):
		return 0, errors.NewSingularMatrixError("linalg.LogDeterminant", -1)
	case sign < 0:
		return 0, errors.NewValueError("linalg.LogDeterminant", "determinant is negative")
	}
	return logDet, nil
}

// Inverse returns a⁻¹ computed from an LU factorization. Singular or
// numerically singular matrices yield a SingularMatrixError.
func Inverse(a mat.Matrix) (*mat.Dense, error) {
	if err := requireSquare("linalg.Inverse", a); err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, errors.WithStack(&errors.SingularMatrixError{Op: "linalg.Inverse", State: -1, Component: -1})
	}
	return &inv, nil
}

// InverseSPD inverts a symmetric positive-definite matrix through its Cholesky factor.
func InverseSPD(a mat.Symmetric) (*mat.SymDense, error) {
	chol, err := Factorize(a)
	if err != nil {
		return nil, err
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, errors.NewSingularMatrixError("linalg.InverseSPD", -1)
	}
	return &inv, nil
}

// Solve returns X with A·X = B for square A.
func Solve(a, b mat.Matrix) (*mat.Dense, error) {
	if err := requireSquare("linalg.Solve", a); err != nil {
		return nil, err
	}
	ar, _ := a.Dims()
	br, _ := b.Dims()
	if br != ar {
		return nil, errors.NewDimensionError("linalg.Solve", ar, br, 0)
	}
	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return nil, errors.NewSingularMatrixError("linalg.Solve", -1)
	}
	return &x, nil
}

// Symmetrize returns (a + aᵀ)/2 as a SymDense. Symmetric inputs are copied.
func Symmetrize(a mat.Matrix) *mat.SymDense {
	if s, ok := a.(mat.Symmetric); ok {
		n := s.SymmetricDim()
		out := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				out.SetSym(i, j, s.At(i, j))
			}
		}
		return out
	}
	n, _ := a.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out
}

func requireSquare(op string, a mat.Matrix) error {
	r, c := a.Dims()
	if r == 0 {
		return errors.NewValidationError("a", "matrix must be non-empty", 0)
	}
	if r != c {
		return errors.NewDimensionError(op, r, c, 1)
	}
	return nil
}
