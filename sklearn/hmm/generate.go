package hmm

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
	"github.com/YuminosukeSato/scihmm/sklearn/mixture"
)

// Generate は長さ T の観測系列と、それを生成した隠れ状態列をサンプリングする。
// 最初の状態は初期確率から、以降は現在の状態のGMMから観測を、遷移行列の
// 現在の行から次の状態を引く。
func (h *GMMHMM) Generate(T int) (mat.Matrix, []int, error) {
	if err := h.RequireInitialized("GMMHMM", "Generate"); err != nil {
		return nil, nil, err
	}
	if T <= 0 {
		return nil, nil, errors.NewValidationError("n_samples", "must be positive", T)
	}

	X := mat.NewDense(T, h.nFeatures, nil)
	path := make([]int, T)
	state := mixture.Categorical(h.rng, h.startProb)
	for t := 0; t < T; t++ {
		path[t] = state
		h.states[state].Draw(h.rng, X.RawRowView(t))
		state = mixture.Categorical(h.rng, h.transmat.RawRowView(state))
	}

	h.logger.Debug("generated", log.OperationKey, log.OperationGenerate, log.SamplesKey, T)
	return X, path, nil
}

// Compare は2つのモデル間の対称ダイバージェンスをモンテカルロ法で推定する。
// 各モデルから長さ T の系列を生成し、両方のモデルで評価する:
//
//	D = [(log p_a(X_a) - log p_b(X_a)) + (log p_b(X_b) - log p_a(X_b))] / (2T)
//
// 同一のモデルでは D = 0 となり、モデルが離れるほど大きくなる。
func Compare(a, b *GMMHMM, T int) (float64, error) {
	if a.nFeatures != b.nFeatures {
		return 0, errors.NewDimensionError("hmm.Compare", a.nFeatures, b.nFeatures, 1)
	}

	xa, _, err := a.Generate(T)
	if err != nil {
		return 0, err
	}
	xb, _, err := b.Generate(T)
	if err != nil {
		return 0, err
	}

	aa, err := a.Score(xa)
	if err != nil {
		return 0, err
	}
	ba, err := b.Score(xa)
	if err != nil {
		return 0, err
	}
	bb, err := b.Score(xb)
	if err != nil {
		return 0, err
	}
	ab, err := a.Score(xb)
	if err != nil {
		return 0, err
	}

	d := ((aa - ba) + (bb - ab)) / (2 * float64(T))
	a.logger.Info("compared models",
		log.OperationKey, log.OperationCompare,
		log.SamplesKey, T,
		log.DivergenceKey, d,
	)
	return d, nil
}
