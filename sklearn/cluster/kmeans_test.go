package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

func blobs(seed int64, perCluster int, centers [][]float64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	d := len(centers[0])
	X := mat.NewDense(perCluster*len(centers), d, nil)
	for c, center := range centers {
		for i := 0; i < perCluster; i++ {
			for j := 0; j < d; j++ {
				X.Set(c*perCluster+i, j, center[j]+0.3*rng.NormFloat64())
			}
		}
	}
	return X
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	X := blobs(1, 50, [][]float64{{0, 0}, {10, 10}, {-10, 10}})
	km := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(7))
	require.NoError(t, km.Fit(X))

	labels := km.Labels()
	for c := 0; c < 3; c++ {
		first := labels[c*50]
		for i := 1; i < 50; i++ {
			assert.Equal(t, first, labels[c*50+i], "blob %d split", c)
		}
	}
	assert.Greater(t, km.NIterations(), 0)
	assert.Less(t, km.Inertia(), 150*0.3*0.3*2*3)

	pred, err := km.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, labels, pred)
}

func TestKMeansDegenerateIdentity(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{1, 1, 2, 2, 3, 3, 1, 1})
	km := NewKMeans(WithKMeansNClusters(4), WithKMeansRandomState(0))
	require.NoError(t, km.Fit(X))

	assert.Equal(t, 0, km.NIterations())
	assert.Equal(t, []int{0, 1, 2, 3}, km.Labels())
	centers := km.ClusterCenters()
	for i := 0; i < 4; i++ {
		assert.Equal(t, mat.Row(nil, i, X), centers[i])
	}
	assert.Zero(t, km.Inertia())
}

func TestKMeansInvalidArgument(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	err := NewKMeans(WithKMeansNClusters(4)).Fit(X)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	dup := mat.NewDense(4, 1, []float64{1, 1, 1, 2})
	err = NewKMeans(WithKMeansNClusters(3)).Fit(dup)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	err = NewKMeans(WithKMeansNClusters(0)).Fit(X)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestKMeansReadOnlyCenters(t *testing.T) {
	X := blobs(2, 30, [][]float64{{0, 0}, {5, 5}})
	fixed := []float64{-1, -1}
	km := NewKMeans(
		WithKMeansNClusters(2),
		WithKMeansInitialCenters([][]float64{fixed, {4, 4}}, []bool{true, false}),
	)
	require.NoError(t, km.Fit(X))

	centers := km.ClusterCenters()
	assert.Equal(t, fixed, centers[0])
	assert.InDelta(t, 5.0, centers[1][0], 0.3)
}

func TestKMeansTiesGoToLowestIndex(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 2, 4})
	km := NewKMeans(
		WithKMeansNClusters(2),
		WithKMeansInitialCenters([][]float64{{1}, {3}}, []bool{true, true}),
	)
	require.NoError(t, km.Fit(X))
	// 2 is equidistant from 1 and 3
	assert.Equal(t, []int{0, 0, 1}, km.Labels())
}

func TestKMeansEmptyClusterKeepsCenter(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 0.1, 0.2, 0.3})
	km := NewKMeans(
		WithKMeansNClusters(2),
		WithKMeansInitialCenters([][]float64{{0}, {100}}, nil),
	)
	require.NoError(t, km.Fit(X))
	assert.Equal(t, []float64{100}, km.ClusterCenters()[1])
	assert.Equal(t, []int{0, 0, 0, 0}, km.Labels())
}

func TestKMeansDeterministic(t *testing.T) {
	X := blobs(3, 40, [][]float64{{0, 0}, {3, 3}, {6, 0}})
	a := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(11), WithKMeansInit("random"))
	b := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(11), WithKMeansInit("random"))
	require.NoError(t, a.Fit(X))
	require.NoError(t, b.Fit(X))
	assert.Equal(t, a.ClusterCenters(), b.ClusterCenters())
	assert.Equal(t, a.NIterations(), b.NIterations())
}

func TestKMeansMaxIterStops(t *testing.T) {
	X := blobs(4, 40, [][]float64{{0, 0}, {1, 1}, {2, 0}})
	km := NewKMeans(WithKMeansNClusters(3), WithKMeansMaxIter(1), WithKMeansRandomState(1))
	require.NoError(t, km.Fit(X))
	assert.Equal(t, 1, km.NIterations())
}

func TestKMeansMinChangeStopsEarly(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	start := [][]float64{{0}, {1}}

	// 1回目: 4点が変化、中心は 0 と 22/3
	// 2回目: 点1だけが中心0へ移る
	// 3回目: 変化なし
	tests := []struct {
		name      string
		minChange int
		wantIter  int
		wantLabel []int
	}{
		{"default", 0, 3, []int{0, 0, 1, 1}},
		{"one change tolerated", 1, 2, []int{0, 0, 1, 1}},
		{"first pass tolerated", 4, 1, []int{0, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := NewKMeans(
				WithKMeansNClusters(2),
				WithKMeansInitialCenters(start, nil),
				WithKMeansMinChange(tt.minChange),
			)
			require.NoError(t, km.Fit(X))
			assert.Equal(t, tt.wantIter, km.NIterations())
			assert.Equal(t, tt.wantLabel, km.Labels())
		})
	}

	km := NewKMeans(
		WithKMeansNClusters(2),
		WithKMeansInitialCenters(start, nil),
		WithKMeansMinChange(1),
	)
	require.NoError(t, km.Fit(X))
	centers := km.ClusterCenters()
	assert.InDelta(t, 0.0, centers[0][0], 1e-12)
	assert.InDelta(t, 22.0/3, centers[1][0], 1e-12)
}

func TestKMeansTransformAndDistance(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 0, 3, 4})
	km := NewKMeans(WithKMeansNClusters(2), WithKMeansDistance(Manhattan))
	require.NoError(t, km.Fit(X))

	dist, err := km.Transform(mat.NewDense(1, 2, []float64{0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, dist.At(0, 0))
	assert.Equal(t, 7.0, dist.At(0, 1))

	_, err = km.Predict(mat.NewDense(1, 3, nil))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestKMeansNotFitted(t *testing.T) {
	_, err := NewKMeans().Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestKMeansLogsSummary(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	X := blobs(5, 20, [][]float64{{0, 0}, {8, 8}})
	km := NewKMeans(WithKMeansNClusters(2), WithKMeansRandomState(3), WithKMeansLogger(logger))
	require.NoError(t, km.Fit(X))

	assert.True(t, logger.ContainsMessage("kmeans finished"))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "KMeans"))
	assert.GreaterOrEqual(t, logger.CountMessages("kmeans iteration"), 1)
}
