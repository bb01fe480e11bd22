package mixture

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

func twoBlobs(seed int64, n int) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(2*n, 2, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, -5+rng.NormFloat64())
		X.Set(i, 1, -5+0.5*rng.NormFloat64())
		X.Set(n+i, 0, 5+0.5*rng.NormFloat64())
		X.Set(n+i, 1, 5+rng.NormFloat64())
	}
	return X
}

func newGMM(t *testing.T, k int, opts ...Option) *GaussianMixture {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelWarn)
	gm, err := NewGaussianMixture(2, k, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return gm
}

func TestNewGaussianMixtureValidation(t *testing.T) {
	_, err := NewGaussianMixture(0, 2)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	_, err = NewGaussianMixture(2, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	_, err = NewGaussianMixture(2, 2, WithWeights([]float64{1}))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	_, err = NewGaussianMixture(2, 2, WithMeans(mat.NewDense(2, 3, nil)))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestExplicitParametersInitialize(t *testing.T) {
	gm, err := NewGaussianMixture(1, 2,
		WithWeights([]float64{1, 3}),
		WithMeans(mat.NewDense(2, 1, []float64{0, 10})),
		WithCovariances([]mat.Symmetric{
			mat.NewSymDense(1, []float64{1}),
			mat.NewSymDense(1, []float64{4}),
		}),
	)
	require.NoError(t, err)
	assert.True(t, gm.IsInitialized())
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, gm.Weights(), 1e-12)

	total, comps, err := gm.Evaluate(mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	want := 0.25/math.Sqrt(2*math.Pi) + 0.75*math.Exp(-100.0/8)/math.Sqrt(2*math.Pi*4)
	assert.InDelta(t, want, total[0], 1e-12)
	assert.InDelta(t, total[0], comps.At(0, 0)+comps.At(0, 1), 1e-15)
}

func TestWeightsSumToOneThroughTraining(t *testing.T) {
	X := twoBlobs(1, 60)
	gm := newGMM(t, 3, WithRandomState(5))
	assert.InDelta(t, 1.0, floats.Sum(gm.Weights()), 1e-12)

	require.NoError(t, gm.Randomize(X, nil, nil))
	assert.InDelta(t, 1.0, floats.Sum(gm.Weights()), 1e-12)

	for i := 0; i < 5; i++ {
		require.NoError(t, gm.Train(X, 1, ConvergenceRule{}))
		assert.InDelta(t, 1.0, floats.Sum(gm.Weights()), 1e-9)
	}
}

func TestSoftAndHardRecoverBlobs(t *testing.T) {
	X := twoBlobs(2, 100)
	for _, strategy := range []TrainingStrategy{SoftResponsibilityEM, HardAssignmentEM} {
		t.Run(strategy.String(), func(t *testing.T) {
			gm := newGMM(t, 2, WithRandomState(3), WithStrategy(strategy))
			require.NoError(t, gm.Fit(X))
			assert.True(t, gm.IsFitted())

			means := gm.Means()
			lo, hi := 0, 1
			if means.At(0, 0) > means.At(1, 0) {
				lo, hi = 1, 0
			}
			assert.InDelta(t, -5.0, means.At(lo, 0), 0.4)
			assert.InDelta(t, -5.0, means.At(lo, 1), 0.4)
			assert.InDelta(t, 5.0, means.At(hi, 0), 0.4)
			assert.InDelta(t, 5.0, means.At(hi, 1), 0.4)
			assert.InDeltaSlice(t, []float64{0.5, 0.5}, gm.Weights(), 0.05)

			labels, err := gm.Predict(X)
			require.NoError(t, err)
			assert.Equal(t, lo, labels[0])
			assert.Equal(t, hi, labels[150])
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	X := twoBlobs(3, 40)
	gm := newGMM(t, 2, WithRandomState(9))
	require.NoError(t, gm.Fit(X))

	a, ac, err := gm.Evaluate(X)
	require.NoError(t, err)
	b, bc, err := gm.Evaluate(X)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, mat.Equal(ac, bc))
}

func TestDeterministicWithSeed(t *testing.T) {
	X := twoBlobs(4, 50)
	run := func() *GaussianMixture {
		gm := newGMM(t, 2, WithRandomState(21))
		require.NoError(t, gm.Fit(X))
		return gm
	}
	a, b := run(), run()
	assert.Equal(t, a.Weights(), b.Weights())
	assert.True(t, mat.Equal(a.Means(), b.Means()))
	for k := range a.Covariances() {
		assert.True(t, mat.Equal(a.Covariances()[k], b.Covariances()[k]))
	}
}

func TestDuplicatePointsSurfaceSingularMatrix(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 1, 2})

	gm := newGMM(t, 2, WithRandomState(1))
	err := gm.Fit(X)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))
	var sme *errors.SingularMatrixError
	require.True(t, errors.As(err, &sme))
	assert.GreaterOrEqual(t, sme.Component, 0)

	_, err = gm.ScoreSamples(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf), "a failed covariance update must require re-randomization")

	for _, c := range gm.Covariances() {
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.False(t, math.IsNaN(c.At(i, j)))
			}
		}
	}
}

func TestTrainOnDuplicatesAbortsWithSingularMatrix(t *testing.T) {
	gm, err := NewGaussianMixture(2, 2,
		WithWeights([]float64{0.5, 0.5}),
		WithMeans(mat.NewDense(2, 2, []float64{0, 0, 3, 3})),
		WithCovariances([]mat.Symmetric{
			mat.NewSymDense(2, []float64{1, 0, 0, 1}),
			mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		}),
	)
	require.NoError(t, err)

	X := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	err = gm.Train(X, 10, ConvergenceRule{StableIterations: 5})
	assert.True(t, errors.Is(err, errors.ErrSingularMatrix))
}

func TestRegularizationAvoidsSingularity(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 1, 1, 1, 1, 1})
	gm, err := NewGaussianMixture(2, 1,
		WithWeights([]float64{1}),
		WithMeans(mat.NewDense(1, 2, []float64{0, 0})),
		WithCovariances([]mat.Symmetric{mat.NewSymDense(2, []float64{1, 0, 0, 1})}),
		WithRegularization(1e-3),
	)
	require.NoError(t, err)
	require.NoError(t, gm.Train(X, 3, ConvergenceRule{}))
	assert.InDelta(t, 1e-3, gm.Covariances()[0].At(0, 0), 1e-12)
}

func TestReadOnlyMeansStayFixed(t *testing.T) {
	X := twoBlobs(5, 50)
	fixed := mat.NewDense(2, 2, []float64{-4, -4, 0, 0})
	gm := newGMM(t, 2, WithRandomState(2))
	require.NoError(t, gm.Randomize(X, fixed, []bool{true, false}))
	require.NoError(t, gm.Train(X, 10, DefaultConvergenceRule))

	means := gm.Means()
	assert.Equal(t, []float64{-4, -4}, means.RawRowView(0))
	assert.False(t, math.IsNaN(means.At(1, 0)))
	assert.InDelta(t, 1.0, floats.Sum(gm.Weights()), 1e-9)
}

func TestDiagonalCovariance(t *testing.T) {
	X := twoBlobs(6, 80)
	gm := newGMM(t, 2, WithRandomState(4), WithCovarianceType(DiagonalCovariance))
	require.NoError(t, gm.Fit(X))
	for _, c := range gm.Covariances() {
		assert.Zero(t, c.At(0, 1))
		assert.Greater(t, c.At(0, 0), 0.0)
	}
	proba, err := gm.PredictProba(X)
	require.NoError(t, err)
	rows, _ := proba.Dims()
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, floats.Sum(proba.RawRowView(i)), 1e-12)
	}
}

func TestGenerateMatchesParameters(t *testing.T) {
	gm, err := NewGaussianMixture(2, 2,
		WithWeights([]float64{0.3, 0.7}),
		WithMeans(mat.NewDense(2, 2, []float64{-3, 0, 3, 1})),
		WithCovariances([]mat.Symmetric{
			mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1}),
			mat.NewSymDense(2, []float64{0.5, 0, 0, 2}),
		}),
		WithRandomState(8),
	)
	require.NoError(t, err)

	n := 20000
	X, labels, err := gm.Generate(n)
	require.NoError(t, err)
	count := 0
	var sx, sy, sxy float64
	for i, k := range labels {
		if k != 0 {
			continue
		}
		count++
		x, y := X.At(i, 0)+3, X.At(i, 1)
		sx += x * x
		sy += y * y
		sxy += x * y
	}
	assert.InDelta(t, 0.3, float64(count)/float64(n), 0.02)
	c := float64(count)
	assert.InDelta(t, 1.0, sx/c, 0.08)
	assert.InDelta(t, 1.0, sy/c, 0.08)
	assert.InDelta(t, 0.5, sxy/c, 0.08)
}

func TestExportImportRoundTrip(t *testing.T) {
	X := twoBlobs(7, 40)
	gm := newGMM(t, 2, WithRandomState(6))
	require.NoError(t, gm.Fit(X))

	w, err := gm.ExportWeights()
	require.NoError(t, err)
	require.NoError(t, w.Validate())

	restored := newGMM(t, 2)
	require.NoError(t, restored.ImportWeights(w))
	assert.True(t, restored.IsFitted())

	a, err := gm.ScoreSamples(X)
	require.NoError(t, err)
	b, err := restored.ScoreSamples(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a, b, 1e-9)
}

func TestImportRejectsCovarianceTypeMismatch(t *testing.T) {
	src, err := NewGaussianMixture(2, 1,
		WithStrategy(HardAssignmentEM),
		WithWeights([]float64{1}),
		WithMeans(mat.NewDense(1, 2, []float64{0, 0})),
		WithCovariances([]mat.Symmetric{mat.NewSymDense(2, []float64{1, 0.9, 0.9, 1})}),
	)
	require.NoError(t, err)
	w, err := src.ExportWeights()
	require.NoError(t, err)
	assert.Equal(t, "full", w.Metadata["covariance_type"])

	diag, err := NewGaussianMixture(2, 1, WithCovarianceType(DiagonalCovariance))
	require.NoError(t, err)
	err = diag.ImportWeights(w)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	assert.False(t, diag.IsInitialized())

	full, err := NewGaussianMixture(2, 1)
	require.NoError(t, err)
	assert.Equal(t, SoftResponsibilityEM, full.Strategy())
	require.NoError(t, full.ImportWeights(w))
	assert.Equal(t, HardAssignmentEM, full.Strategy())
	assert.InDelta(t, 0.9, full.Component(0).Matrix.At(0, 1), 1e-12)
}

func TestMaximizeMatchesWeightedMoments(t *testing.T) {
	for _, rows := range []int{40, 600} {
		rng := rand.New(rand.NewSource(int64(rows)))
		X := mat.NewDense(rows, 2, nil)
		resp := mat.NewDense(rows, 3, nil)
		for i := 0; i < rows; i++ {
			X.Set(i, 0, rng.NormFloat64())
			X.Set(i, 1, 2*rng.NormFloat64()+1)
			r := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
			errors.Normalize(r)
			resp.SetRow(i, r)
		}

		gm, err := NewGaussianMixture(2, 3)
		require.NoError(t, err)
		require.NoError(t, gm.Maximize(X, resp, Freeze{}))

		means := gm.Means()
		covs := gm.Covariances()
		for k := 0; k < 3; k++ {
			var nk, mx, my float64
			for i := 0; i < rows; i++ {
				r := resp.At(i, k)
				nk += r
				mx += r * X.At(i, 0)
				my += r * X.At(i, 1)
			}
			mx /= nk
			my /= nk
			var sxx, sxy, syy float64
			for i := 0; i < rows; i++ {
				r := resp.At(i, k)
				dx, dy := X.At(i, 0)-mx, X.At(i, 1)-my
				sxx += r * dx * dx
				sxy += r * dx * dy
				syy += r * dy * dy
			}
			assert.InDelta(t, nk/float64(rows), gm.Weights()[k], 1e-12, "rows %d", rows)
			assert.InDeltaSlice(t, []float64{mx, my}, means.RawRowView(k), 1e-10, "rows %d", rows)
			assert.InDelta(t, sxx/nk, covs[k].At(0, 0), 1e-10, "rows %d", rows)
			assert.InDelta(t, sxy/nk, covs[k].At(0, 1), 1e-10, "rows %d", rows)
			assert.InDelta(t, syy/nk, covs[k].At(1, 1), 1e-10, "rows %d", rows)
		}
	}
}

func TestRandomizeSeedsMeansWithoutMask(t *testing.T) {
	X := twoBlobs(9, 40)
	start := mat.NewDense(2, 2, []float64{1, 1, 4, 4})
	gm := newGMM(t, 2, WithRandomState(3), WithKMeansRefinement(false, 0))

	require.NoError(t, gm.Randomize(X, start, nil))
	assert.True(t, mat.Equal(start, gm.Means()))

	require.NoError(t, gm.Train(X, 5, ConvergenceRule{StableIterations: 2}))
	assert.False(t, mat.Equal(start, gm.Means()))
}

func TestNotInitialized(t *testing.T) {
	gm := newGMM(t, 2)
	_, err := gm.Score(mat.NewDense(1, 2, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
	_, _, err = gm.Generate(3)
	assert.Error(t, err)
}

func TestCategoricalSkipsZeroWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		k := Categorical(rng, []float64{0, 0.5, 0, 0.5})
		assert.Contains(t, []int{1, 3}, k)
	}
}
