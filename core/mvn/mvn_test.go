package mvn

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/scihmm/core/linalg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

func TestLogEvaluateMatchesDistmv(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1})
	mean := []float64{1, -1}
	inv, err := linalg.InverseSPD(cov)
	require.NoError(t, err)
	logDet, err := linalg.LogDeterminant(cov, true)
	require.NoError(t, err)

	ref, ok := distmv.NewNormal(mean, cov, nil)
	require.True(t, ok)

	for _, x := range [][]float64{{0, 0}, {1, -1}, {3, 2}, {-4, 0.5}} {
		got := LogEvaluate(x, mean, inv, logDet, false)
		assert.InDelta(t, ref.LogProb(x), got, 1e-10)
		assert.InDelta(t, math.Exp(got), Evaluate(x, mean, inv, logDet, false), 1e-14)
	}
}

func TestDiagonalFastPath(t *testing.T) {
	variances := []float64{0.5, 4}
	inv := mat.NewDiagDense(2, []float64{1 / variances[0], 1 / variances[1]})
	logDet := math.Log(variances[0]) + math.Log(variances[1])
	mean := []float64{0, 3}
	x := []float64{1, 1}

	diag := LogEvaluate(x, mean, inv, logDet, true)
	full := LogEvaluate(x, mean, inv, logDet, false)
	assert.InDelta(t, full, diag, 1e-12)

	want := 0.0
	for d := range x {
		want += -0.5*math.Log(2*math.Pi*variances[d]) - 0.5*(x[d]-mean[d])*(x[d]-mean[d])/variances[d]
	}
	assert.InDelta(t, want, diag, 1e-12)
}

func TestBatchMatchesScalar(t *testing.T) {
	n := 1000
	data := make([]float64, n*2)
	for i := range data {
		data[i] = math.Sin(float64(i))
	}
	X := mat.NewDense(n, 2, data)
	inv := mat.NewDiagDense(2, []float64{1, 1})
	mean := []float64{0.1, -0.2}

	got := LogEvaluateBatch(X, mean, inv, 0, true, nil)
	require.Len(t, got, n)
	for i := 0; i < n; i += 97 {
		assert.Equal(t, LogEvaluate(X.RawRowView(i), mean, inv, 0, true), got[i])
	}

	dens := EvaluateBatch(X, mean, inv, 0, true, make([]float64, n+3))
	require.Len(t, dens, n)
	for _, v := range dens {
		assert.False(t, math.IsNaN(v))
		assert.Greater(t, v, 0.0)
	}
}
