package linalg

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func spd() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		4, 2, 0.6,
		2, 5, 1,
		0.6, 1, 3,
	})
}

func TestCholeskyReconstructs(t *testing.T) {
	a := spd()
	u, err := Cholesky(a)
	require.NoError(t, err)

	var got mat.Dense
	got.Mul(u.T(), u)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, a.At(i, j), got.At(i, j), 1e-12)
		}
		for j := 0; j < i; j++ {
			assert.Zero(t, u.At(i, j), "U must be upper triangular")
		}
	}
}

func TestCholeskyNotPositiveDefinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	_, err := Cholesky(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))

	zero := mat.NewSymDense(2, nil)
	_, err = Cholesky(zero)
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))
}

func TestDeterminantPaths(t *testing.T) {
	a := spd()
	fast, err := Determinant(a, true)
	require.NoError(t, err)
	general, err := Determinant(a, false)
	require.NoError(t, err)
	assert.InDelta(t, general, fast, 1e-10)

	logFast, err := LogDeterminant(a, true)
	require.NoError(t, err)
	logGeneral, err := LogDeterminant(a, false)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(fast), logFast, 1e-10)
	assert.InDelta(t, logFast, logGeneral, 1e-10)
}

func TestLogDeterminantSingular(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 2, 4})
	_, err := LogDeterminant(a, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))

	neg := mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	_, err = LogDeterminant(neg, false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrSingularMatrix))
}

func TestInverse(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{4, 7, 2, 6})
	inv, err := Inverse(a)
	require.NoError(t, err)

	var id mat.Dense
	id.Mul(a, inv)
	assert.True(t, mat.EqualApprox(&id, mat.NewDiagDense(2, []float64{1, 1}), 1e-12))

	_, err = Inverse(mat.NewDense(2, 2, []float64{1, 2, 2, 4}))
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))
}

func TestInverseSPDMatchesInverse(t *testing.T) {
	a := spd()
	viaChol, err := InverseSPD(a)
	require.NoError(t, err)
	viaLU, err := Inverse(a)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(viaChol, viaLU, 1e-10))
}

func TestSolve(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{3, 1, 1, 2})
	b := mat.NewDense(2, 1, []float64{9, 8})
	x, err := Solve(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x.At(0, 0), 1e-12)
	assert.InDelta(t, 3.0, x.At(1, 0), 1e-12)

	_, err = Solve(a, mat.NewDense(3, 1, nil))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestNonSquareRejected(t *testing.T) {
	_, err := Inverse(mat.NewDense(2, 3, nil))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	_, err = Determinant(mat.NewDense(3, 2, nil), false)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestSymmetrize(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 4, 3})
	s := Symmetrize(a)
	assert.Equal(t, 3.0, s.At(0, 1))
	assert.Equal(t, 3.0, s.At(1, 0))
	assert.Equal(t, 1.0, a.At(0, 0))
	assert.Equal(t, 2.0, a.At(0, 1), "input must not be modified")
}
