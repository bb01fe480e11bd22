package hmm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/sklearn/mixture"
)

// NStates は状態数 N を返す
func (h *GMMHMM) NStates() int { return h.nStates }

// NComponents は状態ごとの成分数 K を返す
func (h *GMMHMM) NComponents() int { return h.nComponents }

// NFeatures は観測次元 D を返す
func (h *GMMHMM) NFeatures() int { return h.nFeatures }

// ID はこのモデルのログに付与される推定器IDを返す
func (h *GMMHMM) ID() string { return h.id }

// StartProb は初期状態確率のコピーを返す
func (h *GMMHMM) StartProb() []float64 {
	return append([]float64(nil), h.startProb...)
}

// Transmat は遷移行列のコピーを返す
func (h *GMMHMM) Transmat() *mat.Dense {
	return mat.DenseCopyOf(h.transmat)
}

// Emission は状態 j のGMMを返す。これを変更した場合、ClearCache を呼ぶまで
// キャッシュ済みの出力項は更新されない。
func (h *GMMHMM) Emission(j int) *mixture.GaussianMixture {
	return h.states[j]
}

// SetEmission は状態 j のGMMを gm に置き換える。gm は初期化済みで、
// モデルと同じ K と D を持つ必要がある。全状態が初期化済みになるとモデル自体も
// 初期化済みになる。gm は自身の乱数源を保持する。
func (h *GMMHMM) SetEmission(j int, gm *mixture.GaussianMixture) error {
	if j < 0 || j >= h.nStates {
		return errors.NewValidationError("state", "out of range", j)
	}
	if gm.NComponents() != h.nComponents {
		return errors.NewDimensionError("GMMHMM.SetEmission", h.nComponents, gm.NComponents(), 0)
	}
	if gm.NFeatures() != h.nFeatures {
		return errors.NewDimensionError("GMMHMM.SetEmission", h.nFeatures, gm.NFeatures(), 1)
	}
	if err := gm.RequireInitialized("GaussianMixture", "SetEmission"); err != nil {
		return err
	}

	h.states[j] = gm
	h.invalidate()
	if h.IsInitialized() {
		return nil
	}
	for _, s := range h.states {
		if !s.IsInitialized() {
			return nil
		}
	}
	h.SetInitialized()
	return nil
}

// LogLikelihoodHistory は直近の Randomize または SegmentalKMeansInit 以降、
// Baum-Welch の各イテレーションで記録した対数尤度を返す
func (h *GMMHMM) LogLikelihoodHistory() []float64 {
	return append([]float64(nil), h.history...)
}

// NIterations は直前の Train のイテレーション数を返す
func (h *GMMHMM) NIterations() int { return h.nIter_ }

// Converged は直前の Train が許容誤差を満たしたかを返す
func (h *GMMHMM) Converged() bool { return h.converged_ }

// SetStartProb は初期状態確率を置き換える。値は正規化される。
func (h *GMMHMM) SetStartProb(p []float64) error {
	if err := h.setStartProb(p); err != nil {
		return err
	}
	h.invalidate()
	return nil
}

// SetTransmat は遷移行列を置き換える。各行は正規化される。
func (h *GMMHMM) SetTransmat(a mat.Matrix) error {
	if err := h.setTransmat(a); err != nil {
		return err
	}
	h.invalidate()
	return nil
}

// ExportWeights は全パラメータを名前付きの平坦な配列として書き出す。
// 状態 j のGMMは接頭辞 "state<j>." の下に保存される。
func (h *GMMHMM) ExportWeights() (*model.ModelWeights, error) {
	if err := h.RequireInitialized("GMMHMM", "ExportWeights"); err != nil {
		return nil, err
	}
	w := model.NewModelWeights("GMMHMM")
	w.IsFitted = h.IsFitted()
	w.Params["n_states"] = float64(h.nStates)
	w.Params["n_components"] = float64(h.nComponents)
	w.Params["n_features"] = float64(h.nFeatures)
	w.Metadata["covariance_type"] = h.covarianceType.String()
	w.SetArray("startprob", h.startProb, h.nStates)
	w.SetMatrix("transmat", h.transmat)
	for j, gm := range h.states {
		gm.ExportInto(w, statePrefix(j))
	}
	return w, nil
}

// ImportWeights は ExportWeights の出力からパラメータを復元する。
// N、K、D と共分散タイプが一致しなければならない。
func (h *GMMHMM) ImportWeights(w *model.ModelWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ModelType != "GMMHMM" {
		return errors.NewValidationError("model_type", "expected GMMHMM", w.ModelType)
	}
	if err := mixture.CheckCovarianceType(w, h.covarianceType); err != nil {
		return err
	}
	for name, want := range map[string]int{"n_states": h.nStates, "n_components": h.nComponents, "n_features": h.nFeatures} {
		got, err := w.Int(name)
		if err != nil {
			return err
		}
		if got != want {
			return errors.NewDimensionError("GMMHMM.ImportWeights", want, got, 0)
		}
	}

	start, _, err := w.Array("startprob")
	if err != nil {
		return err
	}
	trans, err := w.Matrix("transmat")
	if err != nil {
		return err
	}
	if err := h.setStartProb(start); err != nil {
		return err
	}
	if err := h.setTransmat(trans); err != nil {
		return err
	}
	for j, gm := range h.states {
		if err := gm.ImportFrom(w, statePrefix(j)); err != nil {
			h.Reset()
			return errors.WithState(err, "GMMHMM.ImportWeights", j)
		}
	}

	h.invalidate()
	h.history = nil
	if w.IsFitted {
		h.SetFitted()
	} else {
		h.SetInitialized()
	}
	return nil
}

func statePrefix(j int) string {
	return fmt.Sprintf("state%d.", j)
}
