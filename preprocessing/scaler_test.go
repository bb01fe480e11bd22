package preprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

var _ model.InverseTransformer = (*StandardScaler)(nil)
var _ model.InverseTransformer = (*MinMaxScaler)(nil)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2.5, 10}, s.Mean, 1e-12)
	// 定数列のスケールは1
	assert.InDeltaSlice(t, []float64{1.118033988749895, 1}, s.Scale, 1e-12)
	assert.InDelta(t, -1.3416407864998738, Xs.At(0, 0), 1e-12)
	assert.InDelta(t, 0, Xs.At(2, 1), 1e-12)

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScalerWithoutMean(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{2, 4})
	s := NewStandardScaler(false, true)
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, Xs.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0, Xs.At(1, 0), 1e-12)
}

func TestStandardScalerErrors(t *testing.T) {
	s := NewStandardScalerDefault()
	_, err := s.Transform(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestStandardScalerWeights(t *testing.T) {
	s := NewStandardScalerDefault()
	require.NoError(t, s.Fit(mat.NewDense(3, 2, []float64{1, 5, 2, 7, 3, 9})))

	w := model.NewModelWeights("GMMHMM")
	require.NoError(t, s.ExportInto(w, "scaler."))

	restored := NewStandardScalerDefault()
	require.NoError(t, restored.ImportFrom(w, "scaler."))
	assert.Equal(t, s.Mean, restored.Mean)
	assert.Equal(t, s.Scale, restored.Scale)
	assert.True(t, restored.IsFitted())

	require.Error(t, NewStandardScalerDefault().ExportInto(w, "x."))
}

func TestMinMaxScaler(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		0, 5,
		5, 5,
		10, 5,
	})
	m := NewMinMaxScaler([2]float64{-1, 1})
	Xs, err := m.FitTransform(X)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, Xs.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, Xs.At(1, 0), 1e-12)
	assert.InDelta(t, 1.0, Xs.At(2, 0), 1e-12)
	assert.InDelta(t, -1.0, Xs.At(1, 1), 1e-12)

	back, err := m.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))

	bad := NewMinMaxScaler([2]float64{1, 1})
	assert.True(t, errors.Is(bad.Fit(X), errors.ErrInvalidArgument))
}
