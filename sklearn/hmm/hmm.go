// Package hmm は状態ごとの出力密度を混合ガウス分布とする連続観測の
// 隠れマルコフモデルを提供する。
//
// 観測系列は1行が1時刻の T×D 行列で、時刻ごとの結果（alpha、beta、事後確率、
// 出力確率）は T×N 行列になる。1つのインスタンスに対する Train / Randomize /
// SegmentalKMeansInit の同時実行は呼び出し側で直列化すること。
// 別々のインスタンスは何も共有しないため並列に学習できる（FitBest 参照）。
package hmm

import (
	"math"
	"math/rand"
	"reflect"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
	"github.com/YuminosukeSato/scihmm/sklearn/mixture"
)

// FreezeFlags は学習中に更新しないパラメータを指定する
type FreezeFlags struct {
	Weights     bool // 全状態の混合重み
	Means       bool
	Covariances bool
	StartProb   bool
	Transitions bool
}

func (f FreezeFlags) mixture() mixture.Freeze {
	return mixture.Freeze{Weights: f.Weights, Means: f.Means, Covariances: f.Covariances}
}

// GMMHMM は N 状態のHMMで、各状態は D 次元の観測を K 成分のGMMから出力する
type GMMHMM struct {
	model.BaseEstimator

	nStates        int
	nComponents    int
	nFeatures      int
	covarianceType mixture.CovarianceType
	regCovar       float64

	startProb []float64
	transmat  *mat.Dense
	states    []*mixture.GaussianMixture

	freeze          FreezeFlags
	maxIter         int
	tol             float64
	kmeansMaxIter   int
	segmentalPasses int
	segmentalTol    float64
	randomState     int64

	history    []float64
	nIter_     int
	converged_ bool
	cache      *emissionCache

	rng    *rand.Rand
	logger log.Logger
	id     string
}

var (
	_ model.SequenceModel  = (*GMMHMM)(nil)
	_ model.Sampler        = (*GMMHMM)(nil)
	_ model.WeightExporter = (*GMMHMM)(nil)
)

// Option は GMMHMM の設定を変更する
type Option func(*GMMHMM) error

// New は状態数 nStates、状態ごとの混合成分数 nComponents、観測次元 nFeatures の
// HMMを作成する
//
// 初期確率と遷移行列の各行はデフォルトで一様、与えた場合は正規化される。
// デフォルト: FullCovariance, Baum-Welch 100回, 相対許容誤差 1e-4,
// セグメンタル初期化 10パス。系列を評価する前に Randomize、
// SegmentalKMeansInit、ImportWeights のいずれかで初期化する必要がある。
func New(nStates, nComponents, nFeatures int, opts ...Option) (*GMMHMM, error) {
	switch {
	case nStates <= 0:
		return nil, errors.NewValidationError("n_states", "must be positive", nStates)
	case nComponents <= 0:
		return nil, errors.NewValidationError("n_components", "must be positive", nComponents)
	case nFeatures <= 0:
		return nil, errors.NewValidationError("n_features", "must be positive", nFeatures)
	}

	h := &GMMHMM{
		nStates:         nStates,
		nComponents:     nComponents,
		nFeatures:       nFeatures,
		covarianceType:  mixture.FullCovariance,
		maxIter:         100,
		tol:             1e-4,
		kmeansMaxIter:   50,
		segmentalPasses: 10,
		segmentalTol:    1e-4,
		randomState:     -1,
	}
	h.startProb = make([]float64, nStates)
	h.transmat = mat.NewDense(nStates, nStates, nil)
	for i := 0; i < nStates; i++ {
		h.startProb[i] = 1 / float64(nStates)
		for j := 0; j < nStates; j++ {
			h.transmat.Set(i, j, 1/float64(nStates))
		}
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	if h.rng == nil {
		if h.randomState >= 0 {
			h.rng = rand.New(rand.NewSource(h.randomState))
		} else {
			h.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
	}
	if h.logger == nil {
		h.logger = log.GetLogger()
	}
	h.id = uuid.NewString()
	h.logger = h.logger.With(
		log.ModelNameKey, "GMMHMM",
		log.EstimatorIDKey, h.id,
		log.ComponentKey, "hmm",
	)

	h.states = make([]*mixture.GaussianMixture, nStates)
	for j := range h.states {
		gm, err := mixture.NewGaussianMixture(nFeatures, nComponents,
			mixture.WithCovarianceType(h.covarianceType),
			mixture.WithStrategy(mixture.SoftResponsibilityEM),
			mixture.WithRegularization(h.regCovar),
			mixture.WithRand(h.rng),
			mixture.WithLogger(h.logger.With(log.StateKey, j)),
		)
		if err != nil {
			return nil, err
		}
		h.states[j] = gm
	}

	return h, nil
}

// WithCovarianceType は全状態のGMMの共分散の制約を設定
func WithCovarianceType(t mixture.CovarianceType) Option {
	return func(h *GMMHMM) error {
		h.covarianceType = t
		return nil
	}
}

// WithRegularization は各Mステップの後に共分散の対角へ regCovar を加える
func WithRegularization(regCovar float64) Option {
	return func(h *GMMHMM) error {
		if regCovar < 0 {
			return errors.NewValidationError("reg_covar", "must be non-negative", regCovar)
		}
		h.regCovar = regCovar
		return nil
	}
}

// WithStartProb は初期状態確率を設定
func WithStartProb(p []float64) Option {
	return func(h *GMMHMM) error {
		return h.setStartProb(p)
	}
}

// WithTransmat は N×N の遷移行列を設定
func WithTransmat(a mat.Matrix) Option {
	return func(h *GMMHMM) error {
		return h.setTransmat(a)
	}
}

// WithFreeze は Fit で更新しないパラメータを設定する。
// 固定した初期確率と遷移行列は Randomize でも変わらない。
func WithFreeze(f FreezeFlags) Option {
	return func(h *GMMHMM) error {
		h.freeze = f
		return nil
	}
}

// WithMaxIter は Fit の Baum-Welch 最大イテレーション数を設定
func WithMaxIter(n int) Option {
	return func(h *GMMHMM) error {
		if n <= 0 {
			return errors.NewValidationError("max_iter", "must be positive", n)
		}
		h.maxIter = n
		return nil
	}
}

// WithTol は Fit が停止する対数尤度の相対変化を設定
func WithTol(tol float64) Option {
	return func(h *GMMHMM) error {
		if tol < 0 {
			return errors.NewValidationError("tol", "must be non-negative", tol)
		}
		h.tol = tol
		return nil
	}
}

// WithKMeansMaxIter は Randomize と Fit 内部のKMeansの最大イテレーション数を設定
func WithKMeansMaxIter(n int) Option {
	return func(h *GMMHMM) error {
		h.kmeansMaxIter = n
		return nil
	}
}

// WithSegmentalPasses は SegmentalKMeansInit の学習と復号の繰り返し回数と許容誤差を設定
func WithSegmentalPasses(n int, tol float64) Option {
	return func(h *GMMHMM) error {
		if n <= 0 {
			return errors.NewValidationError("segmental_passes", "must be positive", n)
		}
		h.segmentalPasses = n
		h.segmentalTol = tol
		return nil
	}
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed int64) Option {
	return func(h *GMMHMM) error {
		h.randomState = seed
		if seed >= 0 {
			h.rng = rand.New(rand.NewSource(seed))
		}
		return nil
	}
}

// WithRand は呼び出し側の乱数源を共有する
func WithRand(rng *rand.Rand) Option {
	return func(h *GMMHMM) error {
		h.rng = rng
		return nil
	}
}

// WithLogger はロガーを設定
func WithLogger(l log.Logger) Option {
	return func(h *GMMHMM) error {
		h.logger = l
		return nil
	}
}

func (h *GMMHMM) setStartProb(p []float64) error {
	if len(p) != h.nStates {
		return errors.NewDimensionError("GMMHMM.startprob", h.nStates, len(p), 0)
	}
	v, err := normalized("startprob", p)
	if err != nil {
		return err
	}
	h.startProb = v
	return nil
}

func (h *GMMHMM) setTransmat(a mat.Matrix) error {
	r, c := a.Dims()
	if r != h.nStates {
		return errors.NewDimensionError("GMMHMM.transmat", h.nStates, r, 0)
	}
	if c != h.nStates {
		return errors.NewDimensionError("GMMHMM.transmat", h.nStates, c, 1)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row, err := normalized("transmat", mat.Row(nil, i, a))
		if err != nil {
			return err
		}
		out.SetRow(i, row)
	}
	h.transmat = out
	return nil
}

func normalized(name string, p []float64) ([]float64, error) {
	out := append([]float64(nil), p...)
	for _, v := range out {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewValidationError(name, "probabilities must be finite and non-negative", v)
		}
	}
	if sum := errors.Normalize(out); !(sum > 0) {
		return nil, errors.NewValidationError(name, "probabilities must have a positive sum", sum)
	}
	return out, nil
}

// invalidate はパラメータ変更後に観測キャッシュを破棄する
func (h *GMMHMM) invalidate() {
	h.cache = nil
}

func (h *GMMHMM) checkSequence(X mat.Matrix, method string) error {
	if err := h.RequireInitialized("GMMHMM", method); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return errors.NewValidationError("X", "observation sequence must not be empty", 0)
	}
	if cols != h.nFeatures {
		return errors.NewDimensionError("GMMHMM."+method, h.nFeatures, cols, 1)
	}
	return nil
}

// sameMatrix は a と b が比較可能な同じ値かどうかを返す。
// gonum のポインタ型では同じ行列であることを意味する。
func sameMatrix(a, b mat.Matrix) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
