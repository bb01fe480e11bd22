package mixture

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
	"github.com/YuminosukeSato/scihmm/sklearn/cluster"
)

// Randomize はデータからパラメータを乱数で初期化する
//
// 重みは一様乱数を正規化した値、平均はランダムに選んだデータ点になる。
// readOnly[k] が true の成分は fixedMeans の k 行目を平均とし、学習中も固定する。
// readOnly が nil で fixedMeans が与えられた場合は全成分の平均を fixedMeans で
// 初期化し、学習中は更新する。fixedMeans と readOnly は nil でもよい。共分散は特徴量ごとの分散を尺度とした
// 乱数で与え、KMeansによる改善が有効なら平均をKMeansで調整し、十分な点を持つ
// クラスタの標本共分散で置き換える。最後に UpdateCovariance を呼ぶ。
func (gm *GaussianMixture) Randomize(X mat.Matrix, fixedMeans mat.Matrix, readOnly []bool) (err error) {
	defer errors.Recover(&err, "GaussianMixture.Randomize")

	rows, cols := X.Dims()
	if rows == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if cols != gm.nFeatures {
		return errors.NewDimensionError("GaussianMixture.Randomize", gm.nFeatures, cols, 1)
	}
	if readOnly != nil {
		if len(readOnly) != gm.nComponents {
			return errors.NewDimensionError("GaussianMixture.Randomize", gm.nComponents, len(readOnly), 0)
		}
		if fixedMeans == nil {
			return errors.NewValidationError("fixed_means", "required when a read-only mask is given", nil)
		}
	}
	if fixedMeans != nil {
		r, c := fixedMeans.Dims()
		if r != gm.nComponents || c != gm.nFeatures {
			return errors.NewDimensionError("GaussianMixture.Randomize", gm.nComponents, r, 0)
		}
	}

	gm.Reset()
	if readOnly != nil {
		gm.readOnly = append([]bool(nil), readOnly...)
	} else {
		gm.readOnly = nil
	}

	for k := range gm.weights {
		gm.weights[k] = 1 - gm.rng.Float64()
	}
	errors.Normalize(gm.weights)

	// 点が足りる場合は成分ごとに異なる点を選ぶ
	var perm []int
	if rows >= gm.nComponents {
		perm = gm.rng.Perm(rows)
	}
	for k := 0; k < gm.nComponents; k++ {
		if gm.isReadOnly(k) || (readOnly == nil && fixedMeans != nil) {
			gm.means.SetRow(k, mat.Row(nil, k, fixedMeans))
			continue
		}
		idx := 0
		if perm != nil {
			idx = perm[k]
		} else {
			idx = gm.rng.Intn(rows)
		}
		gm.means.SetRow(k, mat.Row(nil, idx, X))
	}

	variances := featureVariances(X)
	for k := range gm.covariances {
		gm.covariances[k] = gm.randomCovariance(variances)
	}

	if gm.kmeansRefine && gm.nComponents > 1 {
		if err := gm.refineWithKMeans(X); err != nil {
			return err
		}
	}

	if err := gm.UpdateCovariance(); err != nil {
		return err
	}

	gm.logger.Debug("randomized",
		log.OperationKey, log.OperationRandomize,
		log.SamplesKey, rows,
		log.ComponentsKey, gm.nComponents,
		log.CovarianceTypeKey, gm.covarianceType.String(),
	)
	gm.SetInitialized()
	return nil
}

// randomCovariance は対角型なら var_d·(0.5+U) の対角行列を、完全型なら
// ランダムな対称行列 S の二乗 S·S を返す。
func (gm *GaussianMixture) randomCovariance(variances []float64) *Covariance {
	d := gm.nFeatures
	c := &Covariance{Diagonal: gm.covarianceType == DiagonalCovariance}

	if c.Diagonal {
		m := mat.NewSymDense(d, nil)
		for i := 0; i < d; i++ {
			m.SetSym(i, i, variances[i]*(0.5+gm.rng.Float64()))
		}
		c.Matrix = m
		return c
	}

	// S = D^½ R D^½, R は対角優位な対称乱数行列
	s := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		si := math.Sqrt(variances[i])
		s.SetSym(i, i, si*(0.5+0.5*gm.rng.Float64()))
		for j := i + 1; j < d; j++ {
			sj := math.Sqrt(variances[j])
			s.SetSym(i, j, math.Sqrt(si*sj)*(gm.rng.Float64()-0.5)/float64(d))
		}
	}
	var sq mat.SymDense
	sq.SymOuterK(1, s)
	c.Matrix = &sq
	return c
}

// refineWithKMeans は現在の平均を初期中心としてKMeansを実行する
func (gm *GaussianMixture) refineWithKMeans(X mat.Matrix) error {
	rows, cols := X.Dims()
	if rows < gm.nComponents {
		return nil
	}

	centers := make([][]float64, gm.nComponents)
	for k := range centers {
		centers[k] = mat.Row(nil, k, gm.means)
	}
	km := cluster.NewKMeans(
		cluster.WithKMeansNClusters(gm.nComponents),
		cluster.WithKMeansMaxIter(gm.kmeansMaxIter),
		cluster.WithKMeansInitialCenters(centers, gm.readOnly),
		cluster.WithKMeansRand(gm.rng),
		cluster.WithKMeansLogger(gm.logger),
	)
	if err := km.Fit(X); err != nil {
		if errors.Is(err, errors.ErrInvalidArgument) {
			// 異なる点が成分数より少ない場合は改善を行わない
			gm.logger.Debug("kmeans refinement skipped", log.ErrorTypeKey, err.Error())
			return nil
		}
		return err
	}

	labels := km.Labels()
	for k, c := range km.ClusterCenters() {
		gm.means.SetRow(k, c)
	}

	members := make([][]int, gm.nComponents)
	for i, k := range labels {
		members[k] = append(members[k], i)
	}
	for k, idx := range members {
		if len(idx) < cols+1 {
			continue
		}
		pts := mat.NewDense(len(idx), cols, nil)
		for r, i := range idx {
			pts.SetRow(r, mat.Row(nil, i, X))
		}
		var cov mat.SymDense
		stat.CovarianceMatrix(&cov, pts, nil)
		candidate := &Covariance{Diagonal: gm.covarianceType == DiagonalCovariance}
		candidate.Set(&cov)
		if candidate.Update() == nil {
			gm.covariances[k] = candidate
		}
	}
	return nil
}

// featureVariances は列ごとの不偏分散を返す。1行しかない場合は0。
func featureVariances(X mat.Matrix) []float64 {
	rows, cols := X.Dims()
	out := make([]float64, cols)
	if rows < 2 {
		return out
	}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, X)
		out[j] = stat.Variance(col, nil)
	}
	return out
}
