package cluster

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/core/parallel"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

var _ model.Clusterer = (*KMeans)(nil)

// DistanceFunc は2点間の距離を返す
type DistanceFunc func(a, b []float64) float64

// KMeans はLloydアルゴリズムによるK-meansクラスタリング
//
// 割り当ての同点は番号の小さいクラスタが優先される。割り当て点が0個の
// クラスタ、および読み取り専用のクラスタは中心を更新しない。
type KMeans struct {
	model.BaseEstimator

	// ハイパーパラメータ
	nClusters   int          // クラスタ数
	init        string       // 初期化方法: "k-means++", "random"
	maxIter     int          // 最大イテレーション数
	minChange   int          // 割り当て変更数がこれ以下なら収束
	distance    DistanceFunc // 距離関数
	randomState int64        // 乱数シード

	initialCenters [][]float64 // 指定された初期中心
	readOnly       []bool      // 固定するクラスタ

	// 学習パラメータ
	clusterCenters_ [][]float64 // クラスタ中心（nClusters x nFeatures）
	labels_         []int       // 各サンプルのクラスタラベル
	inertia_        float64     // クラスタ内平方和誤差
	nIter_          int         // 実行されたイテレーション数
	nFeatures_      int

	// 内部状態
	mu     sync.RWMutex
	rng    *rand.Rand
	logger log.Logger
}

// NewKMeans は新しいKMeansを作成
func NewKMeans(options ...KMeansOption) *KMeans {
	kmeans := &KMeans{
		nClusters:   8,
		init:        "k-means++",
		maxIter:     300,
		minChange:   0,
		distance:    Euclidean,
		randomState: -1,
	}

	for _, opt := range options {
		opt(kmeans)
	}

	if kmeans.rng == nil {
		if kmeans.randomState >= 0 {
			kmeans.rng = rand.New(rand.NewSource(kmeans.randomState))
		} else {
			kmeans.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
	}
	if kmeans.logger == nil {
		kmeans.logger = log.GetLogger()
	}
	kmeans.logger = kmeans.logger.With(
		log.ModelNameKey, "KMeans",
		log.EstimatorIDKey, uuid.NewString(),
		log.ComponentKey, "cluster",
	)

	return kmeans
}

// KMeansOption はKMeansの設定オプション
type KMeansOption func(*KMeans)

// WithKMeansNClusters はクラスタ数を設定
func WithKMeansNClusters(n int) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.nClusters = n
	}
}

// WithKMeansInit は初期化方法を設定
func WithKMeansInit(init string) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.init = init
	}
}

// WithKMeansMaxIter は最大イテレーション数を設定
func WithKMeansMaxIter(maxIter int) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.maxIter = maxIter
	}
}

// WithKMeansMinChange は収束とみなす割り当て変更数の上限を設定
func WithKMeansMinChange(n int) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.minChange = n
	}
}

// WithKMeansDistance は距離関数を設定（デフォルトは Euclidean）
func WithKMeansDistance(fn DistanceFunc) KMeansOption {
	return func(kmeans *KMeans) {
		if fn != nil {
			kmeans.distance = fn
		}
	}
}

// WithKMeansRandomState は乱数シードを設定
func WithKMeansRandomState(seed int64) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.randomState = seed
		if seed >= 0 {
			kmeans.rng = rand.New(rand.NewSource(seed))
		}
	}
}

// WithKMeansRand は呼び出し側の乱数生成器を共有する
func WithKMeansRand(rng *rand.Rand) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.rng = rng
	}
}

// WithKMeansInitialCenters は初期中心を指定する。readOnly[k] が true の
// クラスタは学習中も中心が固定される。readOnly は nil でもよい。
func WithKMeansInitialCenters(centers [][]float64, readOnly []bool) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.initialCenters = make([][]float64, len(centers))
		for i, c := range centers {
			kmeans.initialCenters[i] = append([]float64(nil), c...)
		}
		if readOnly != nil {
			kmeans.readOnly = append([]bool(nil), readOnly...)
		}
	}
}

// WithKMeansLogger はロガーを設定
func WithKMeansLogger(logger log.Logger) KMeansOption {
	return func(kmeans *KMeans) {
		kmeans.logger = logger
	}
}

// Fit はモデルを訓練
func (kmeans *KMeans) Fit(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "KMeans.Fit")

	kmeans.mu.Lock()
	defer kmeans.mu.Unlock()

	start := time.Now()
	rows, cols := X.Dims()
	if err := kmeans.validate(X); err != nil {
		return err
	}
	kmeans.nFeatures_ = cols

	// 縮退ケース: クラスタ数がサンプル数と等しい場合は各点が自身の中心
	if kmeans.nClusters == rows {
		kmeans.clusterCenters_ = make([][]float64, rows)
		kmeans.labels_ = make([]int, rows)
		for i := 0; i < rows; i++ {
			if kmeans.isReadOnly(i) {
				kmeans.clusterCenters_[i] = append([]float64(nil), kmeans.initialCenters[i]...)
			} else {
				kmeans.clusterCenters_[i] = mat.Row(nil, i, X)
			}
			kmeans.labels_[i] = i
		}
		kmeans.nIter_ = 0
		kmeans.inertia_ = computeInertia(X, kmeans.clusterCenters_, kmeans.labels_)
		kmeans.SetFitted()
		return nil
	}

	if distinct := countDistinctRows(X); kmeans.nClusters > distinct {
		return errors.NewValidationError("n_clusters", "exceeds the number of distinct points", distinct)
	}

	centers := kmeans.initializeCenters(X)
	labels := make([]int, rows)
	for i := range labels {
		labels[i] = -1
	}
	next := make([]int, rows)

	converged := false
	nIter := 0
	for iter := 0; iter < kmeans.maxIter; iter++ {
		nIter = iter + 1

		parallel.ForRows(rows, func(i int) {
			next[i] = nearestSlice(mat.Row(nil, i, X), centers, kmeans.distance)
		})

		changed := 0
		for i := range labels {
			if labels[i] != next[i] {
				changed++
			}
		}
		labels, next = next, labels

		kmeans.logger.Debug("kmeans iteration",
			log.IterationKey, nIter,
			log.ChangedKey, changed,
		)

		if changed <= kmeans.minChange {
			converged = true
			break
		}

		kmeans.updateCenters(X, labels, centers)
	}

	kmeans.clusterCenters_ = centers
	kmeans.labels_ = labels
	kmeans.nIter_ = nIter
	kmeans.inertia_ = computeInertia(X, centers, labels)

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("KMeans", nIter, "assignments still changing at max_iter"))
	}

	kmeans.logger.Info("kmeans finished",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.ClustersKey, kmeans.nClusters,
		log.IterationKey, nIter,
		log.ConvergedKey, converged,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	kmeans.SetFitted()
	return nil
}

// Predict は各サンプルの最近傍クラスタ番号を返す
func (kmeans *KMeans) Predict(X mat.Matrix) ([]int, error) {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()

	if !kmeans.IsFitted() {
		return nil, errors.NewNotFittedError("KMeans", "Predict")
	}

	rows, cols := X.Dims()
	if cols != kmeans.nFeatures_ {
		return nil, errors.NewDimensionError("KMeans.Predict", kmeans.nFeatures_, cols, 1)
	}

	labels := make([]int, rows)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		labels[i] = nearestSlice(row, kmeans.clusterCenters_, kmeans.distance)
	}
	return labels, nil
}

// FitPredict は学習と予測を同時に行う
func (kmeans *KMeans) FitPredict(X mat.Matrix) ([]int, error) {
	if err := kmeans.Fit(X); err != nil {
		return nil, err
	}
	return kmeans.Labels(), nil
}

// Transform はデータをクラスタ中心との距離に変換
func (kmeans *KMeans) Transform(X mat.Matrix) (mat.Matrix, error) {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()

	if !kmeans.IsFitted() {
		return nil, errors.NewNotFittedError("KMeans", "Transform")
	}

	rows, cols := X.Dims()
	if cols != kmeans.nFeatures_ {
		return nil, errors.NewDimensionError("KMeans.Transform", kmeans.nFeatures_, cols, 1)
	}

	distances := mat.NewDense(rows, len(kmeans.clusterCenters_), nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		for c, center := range kmeans.clusterCenters_ {
			distances.Set(i, c, kmeans.distance(row, center))
		}
	}

	return distances, nil
}

// NIterations は実行された学習イテレーション数を返す
func (kmeans *KMeans) NIterations() int {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()
	return kmeans.nIter_
}

// ClusterCenters は学習されたクラスタ中心を返す
func (kmeans *KMeans) ClusterCenters() [][]float64 {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()

	centers := make([][]float64, len(kmeans.clusterCenters_))
	for i := range kmeans.clusterCenters_ {
		centers[i] = make([]float64, len(kmeans.clusterCenters_[i]))
		copy(centers[i], kmeans.clusterCenters_[i])
	}
	return centers
}

// Labels は学習データのクラスタラベルを返す
func (kmeans *KMeans) Labels() []int {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()

	if kmeans.labels_ == nil {
		return nil
	}

	labels := make([]int, len(kmeans.labels_))
	copy(labels, kmeans.labels_)
	return labels
}

// Inertia は慣性（クラスタ内平方和誤差）を返す
func (kmeans *KMeans) Inertia() float64 {
	kmeans.mu.RLock()
	defer kmeans.mu.RUnlock()
	return kmeans.inertia_
}

// 内部ヘルパーメソッド

func (kmeans *KMeans) validate(X mat.Matrix) error {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if kmeans.nClusters <= 0 {
		return errors.NewValidationError("n_clusters", "must be positive", kmeans.nClusters)
	}
	if kmeans.nClusters > rows {
		return errors.NewValidationError("n_clusters", "exceeds the number of points", rows)
	}
	if kmeans.initialCenters != nil {
		if len(kmeans.initialCenters) != kmeans.nClusters {
			return errors.NewDimensionError("KMeans.Fit", kmeans.nClusters, len(kmeans.initialCenters), 0)
		}
		for _, c := range kmeans.initialCenters {
			if len(c) != cols {
				return errors.NewDimensionError("KMeans.Fit", cols, len(c), 1)
			}
		}
	}
	if kmeans.readOnly != nil {
		if len(kmeans.readOnly) != kmeans.nClusters {
			return errors.NewDimensionError("KMeans.Fit", kmeans.nClusters, len(kmeans.readOnly), 0)
		}
		if kmeans.initialCenters == nil {
			return errors.NewValidationError("read_only", "requires initial centers", kmeans.readOnly)
		}
	}
	return nil
}

func (kmeans *KMeans) isReadOnly(k int) bool {
	return kmeans.readOnly != nil && kmeans.readOnly[k]
}

// initializeCenters はクラスタ中心を初期化
func (kmeans *KMeans) initializeCenters(X mat.Matrix) [][]float64 {
	if kmeans.initialCenters != nil {
		centers := make([][]float64, len(kmeans.initialCenters))
		for i, c := range kmeans.initialCenters {
			centers[i] = append([]float64(nil), c...)
		}
		return centers
	}

	switch kmeans.init {
	case "random":
		return kmeans.initRandom(X)
	default:
		// デフォルトはk-means++
		return kmeans.initKMeansPlusPlus(X)
	}
}

// initRandom は互いに異なるサンプルを中心として選ぶ
func (kmeans *KMeans) initRandom(X mat.Matrix) [][]float64 {
	rows, _ := X.Dims()
	centers := make([][]float64, 0, kmeans.nClusters)

	for _, idx := range kmeans.rng.Perm(rows) {
		sample := mat.Row(nil, idx, X)
		duplicate := false
		for _, c := range centers {
			if equalRows(sample, c) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			centers = append(centers, sample)
			if len(centers) == kmeans.nClusters {
				break
			}
		}
	}

	return centers
}

// initKMeansPlusPlus はk-means++初期化を実行
func (kmeans *KMeans) initKMeansPlusPlus(X mat.Matrix) [][]float64 {
	rows, _ := X.Dims()
	centers := make([][]float64, 0, kmeans.nClusters)

	// 最初のクラスタ中心をランダムに選択
	centers = append(centers, mat.Row(nil, kmeans.rng.Intn(rows), X))

	distances := make([]float64, rows)
	for len(centers) < kmeans.nClusters {
		totalDistance := 0.0

		// 各サンプルから最近傍クラスタ中心までの距離の二乗を計算
		for i := 0; i < rows; i++ {
			sample := mat.Row(nil, i, X)
			minDist := math.Inf(1)
			for _, c := range centers {
				if d := Euclidean(sample, c); d < minDist {
					minDist = d
				}
			}
			distances[i] = minDist * minDist
			totalDistance += distances[i]
		}

		// 確率に応じてサンプルを選択。既存の中心と重なる点は選ばない
		target := kmeans.rng.Float64() * totalDistance
		cumSum := 0.0
		selectedIdx := -1
		for i := 0; i < rows; i++ {
			if distances[i] == 0 {
				continue
			}
			cumSum += distances[i]
			selectedIdx = i
			if cumSum >= target {
				break
			}
		}

		centers = append(centers, mat.Row(nil, selectedIdx, X))
	}

	return centers
}

// updateCenters は割り当てられた点の平均で中心を更新する
func (kmeans *KMeans) updateCenters(X mat.Matrix, labels []int, centers [][]float64) {
	_, cols := X.Dims()
	sums := make([][]float64, len(centers))
	counts := make([]int, len(centers))
	for k := range sums {
		sums[k] = make([]float64, cols)
	}

	row := make([]float64, cols)
	for i, k := range labels {
		mat.Row(row, i, X)
		for j, v := range row {
			sums[k][j] += v
		}
		counts[k]++
	}

	for k := range centers {
		if counts[k] == 0 || kmeans.isReadOnly(k) {
			continue
		}
		for j := range centers[k] {
			centers[k][j] = sums[k][j] / float64(counts[k])
		}
	}
}

// nearestSlice は最近傍クラスタを検索。同点は番号の小さい方
func nearestSlice(sample []float64, centers [][]float64, dist DistanceFunc) int {
	minDist := math.Inf(1)
	nearestCluster := 0

	for c, center := range centers {
		if d := dist(sample, center); d < minDist {
			minDist = d
			nearestCluster = c
		}
	}

	return nearestCluster
}

// computeInertia は各点と割り当て先中心とのユークリッド距離の二乗和を計算
func computeInertia(X mat.Matrix, centers [][]float64, labels []int) float64 {
	_, cols := X.Dims()
	row := make([]float64, cols)
	inertia := 0.0
	for i, k := range labels {
		mat.Row(row, i, X)
		inertia += SquaredEuclidean(row, centers[k])
	}
	return inertia
}

func countDistinctRows(X mat.Matrix) int {
	rows, cols := X.Dims()
	seen := make(map[string]struct{}, rows)
	key := make([]byte, 8*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			bits := math.Float64bits(X.At(i, j))
			for b := 0; b < 8; b++ {
				key[8*j+b] = byte(bits >> (8 * b))
			}
		}
		seen[string(key)] = struct{}{}
	}
	return len(seen)
}

func equalRows(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// 距離関数

// Euclidean はユークリッド距離を計算
func Euclidean(a, b []float64) float64 {
	return math.Sqrt(SquaredEuclidean(a, b))
}

// SquaredEuclidean はユークリッド距離の二乗を計算
func SquaredEuclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}

	return sum
}

// Manhattan はマンハッタン距離を計算
func Manhattan(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}
