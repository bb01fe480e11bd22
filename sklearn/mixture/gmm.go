// Package mixture implements Gaussian mixture models trained by EM.
package mixture

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

// TrainingStrategy はEMのE-stepで使う責任度の種類
type TrainingStrategy int

const (
	// HardAssignmentEM は各点を最も尤もらしい成分に1つだけ割り当てる
	HardAssignmentEM TrainingStrategy = iota
	// SoftResponsibilityEM は事後確率をそのまま重みとして使う
	SoftResponsibilityEM
)

// String は戦略名を返す
func (s TrainingStrategy) String() string {
	if s == SoftResponsibilityEM {
		return "soft"
	}
	return "hard"
}

// ParseTrainingStrategy は "hard" / "soft" を解析する
func ParseTrainingStrategy(s string) (TrainingStrategy, error) {
	switch s {
	case "hard":
		return HardAssignmentEM, nil
	case "soft":
		return SoftResponsibilityEM, nil
	}
	return HardAssignmentEM, errors.NewValidationError("strategy", "must be hard or soft", s)
}

// ConvergenceRule は Train の停止条件
//
// ハード割り当てが StableIterations 回連続で変化しなければ停止する。
// Tol > 0 の場合は平均対数尤度の相対変化が Tol 未満でも停止する。
type ConvergenceRule struct {
	StableIterations int
	Tol              float64
}

// DefaultConvergenceRule は NewGaussianMixture のデフォルト停止条件
var DefaultConvergenceRule = ConvergenceRule{StableIterations: 2, Tol: 1e-6}

// Freeze は M-step で更新しないパラメータ
type Freeze struct {
	Weights     bool
	Means       bool
	Covariances bool
}

// GaussianMixture は混合ガウスモデル
//
// 状態遷移: 未初期化 → Randomize またはパラメータ指定で初期化済み → Train で学習済み。
// 同一インスタンスへの並行な Train は呼び出し側で直列化すること。
type GaussianMixture struct {
	model.BaseEstimator

	// ハイパーパラメータ
	nFeatures      int
	nComponents    int
	covarianceType CovarianceType
	strategy       TrainingStrategy
	regCovar       float64
	maxIter        int
	rule           ConvergenceRule
	kmeansRefine   bool
	kmeansMaxIter  int
	randomState    int64

	// パラメータ
	weights     []float64     // K
	means       *mat.Dense    // K×D
	covariances []*Covariance // K, 各成分が所有
	readOnly    []bool        // 平均を固定する成分

	weightsGiven, meansGiven, covariancesGiven bool

	// 学習結果
	nIter_      int
	converged_  bool
	lowerBound_ float64

	rng    *rand.Rand
	logger log.Logger
	id     string
}

var (
	_ model.DensityEstimator = (*GaussianMixture)(nil)
	_ model.Clusterer        = (*GaussianMixture)(nil)
	_ model.Sampler          = (*GaussianMixture)(nil)
	_ model.WeightExporter   = (*GaussianMixture)(nil)
)

// Option はGaussianMixtureの設定オプション
type Option func(*GaussianMixture) error

// NewGaussianMixture は次元 nFeatures、成分数 nComponents のモデルを作成する
//
// デフォルト: FullCovariance, SoftResponsibilityEM, maxIter 100,
// DefaultConvergenceRule, 正則化なし, KMeansによる初期化の改善あり。
// WithWeights / WithMeans / WithCovariances で初期パラメータを全て与えた場合は
// 初期化済みの状態で返る。
func NewGaussianMixture(nFeatures, nComponents int, opts ...Option) (*GaussianMixture, error) {
	if nFeatures <= 0 {
		return nil, errors.NewValidationError("n_features", "must be positive", nFeatures)
	}
	if nComponents <= 0 {
		return nil, errors.NewValidationError("n_components", "must be positive", nComponents)
	}

	gm := &GaussianMixture{
		nFeatures:      nFeatures,
		nComponents:    nComponents,
		covarianceType: FullCovariance,
		strategy:       SoftResponsibilityEM,
		maxIter:        100,
		rule:           DefaultConvergenceRule,
		kmeansRefine:   true,
		kmeansMaxIter:  20,
		randomState:    -1,
	}

	gm.weights = make([]float64, nComponents)
	for k := range gm.weights {
		gm.weights[k] = 1 / float64(nComponents)
	}
	gm.means = mat.NewDense(nComponents, nFeatures, nil)
	gm.covariances = make([]*Covariance, nComponents)
	for k := range gm.covariances {
		gm.covariances[k] = NewCovariance(nFeatures, false)
	}

	for _, opt := range opts {
		if err := opt(gm); err != nil {
			return nil, err
		}
	}

	for _, c := range gm.covariances {
		if c.Diagonal != (gm.covarianceType == DiagonalCovariance) {
			c.Diagonal = gm.covarianceType == DiagonalCovariance
			c.Set(c.Matrix)
		}
	}

	if gm.rng == nil {
		if gm.randomState >= 0 {
			gm.rng = rand.New(rand.NewSource(gm.randomState))
		} else {
			gm.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
	}
	if gm.logger == nil {
		gm.logger = log.GetLogger()
	}
	gm.id = uuid.NewString()
	gm.logger = gm.logger.With(
		log.ModelNameKey, "GaussianMixture",
		log.EstimatorIDKey, gm.id,
		log.ComponentKey, "mixture",
	)

	if err := gm.UpdateCovariance(); err != nil {
		return nil, err
	}
	if gm.weightsGiven && gm.meansGiven && gm.covariancesGiven {
		gm.SetInitialized()
	}
	return gm, nil
}

// オプション

// WithCovarianceType は共分散の制約を設定
func WithCovarianceType(t CovarianceType) Option {
	return func(gm *GaussianMixture) error {
		gm.covarianceType = t
		return nil
	}
}

// WithStrategy はEM戦略を設定
func WithStrategy(s TrainingStrategy) Option {
	return func(gm *GaussianMixture) error {
		gm.strategy = s
		return nil
	}
}

// WithRegularization は M-step 後に共分散の対角へ加える値を設定
func WithRegularization(regCovar float64) Option {
	return func(gm *GaussianMixture) error {
		if regCovar < 0 {
			return errors.NewValidationError("reg_covar", "must be non-negative", regCovar)
		}
		gm.regCovar = regCovar
		return nil
	}
}

// WithMaxIter は Fit の最大イテレーション数を設定
func WithMaxIter(n int) Option {
	return func(gm *GaussianMixture) error {
		if n <= 0 {
			return errors.NewValidationError("max_iter", "must be positive", n)
		}
		gm.maxIter = n
		return nil
	}
}

// WithConvergenceRule は Fit の停止条件を設定
func WithConvergenceRule(rule ConvergenceRule) Option {
	return func(gm *GaussianMixture) error {
		gm.rule = rule
		return nil
	}
}

// WithKMeansRefinement は Randomize 後のKMeansによる改善を切り替える
func WithKMeansRefinement(enabled bool, maxIter int) Option {
	return func(gm *GaussianMixture) error {
		gm.kmeansRefine = enabled
		if maxIter > 0 {
			gm.kmeansMaxIter = maxIter
		}
		return nil
	}
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed int64) Option {
	return func(gm *GaussianMixture) error {
		gm.randomState = seed
		if seed >= 0 {
			gm.rng = rand.New(rand.NewSource(seed))
		}
		return nil
	}
}

// WithRand は呼び出し側の乱数生成器を共有する（HMMが状態ごとのGMMに渡す）
func WithRand(rng *rand.Rand) Option {
	return func(gm *GaussianMixture) error {
		gm.rng = rng
		return nil
	}
}

// WithLogger はロガーを設定
func WithLogger(logger log.Logger) Option {
	return func(gm *GaussianMixture) error {
		gm.logger = logger
		return nil
	}
}

// WithWeights は初期の混合重みを設定する。合計が1になるよう正規化される。
func WithWeights(weights []float64) Option {
	return func(gm *GaussianMixture) error {
		if len(weights) != gm.nComponents {
			return errors.NewDimensionError("WithWeights", gm.nComponents, len(weights), 0)
		}
		w := append([]float64(nil), weights...)
		for _, v := range w {
			if v < 0 || math.IsNaN(v) {
				return errors.NewValidationError("weights", "must be non-negative", v)
			}
		}
		if sum := errors.Normalize(w); sum <= 0 {
			return errors.NewValidationError("weights", "must have a positive sum", sum)
		}
		gm.weights = w
		gm.weightsGiven = true
		return nil
	}
}

// WithMeans は初期平均（K×D）を設定
func WithMeans(means mat.Matrix) Option {
	return func(gm *GaussianMixture) error {
		r, c := means.Dims()
		if r != gm.nComponents {
			return errors.NewDimensionError("WithMeans", gm.nComponents, r, 0)
		}
		if c != gm.nFeatures {
			return errors.NewDimensionError("WithMeans", gm.nFeatures, c, 1)
		}
		gm.means = mat.DenseCopyOf(means)
		gm.meansGiven = true
		return nil
	}
}

// WithCovariances は初期共分散（K個の D×D）を設定
func WithCovariances(covs []mat.Symmetric) Option {
	return func(gm *GaussianMixture) error {
		if len(covs) != gm.nComponents {
			return errors.NewDimensionError("WithCovariances", gm.nComponents, len(covs), 0)
		}
		for k, m := range covs {
			if m.SymmetricDim() != gm.nFeatures {
				return errors.NewDimensionError("WithCovariances", gm.nFeatures, m.SymmetricDim(), 1)
			}
			c := &Covariance{Diagonal: gm.covarianceType == DiagonalCovariance}
			c.Set(m)
			gm.covariances[k] = c
		}
		gm.covariancesGiven = true
		return nil
	}
}
