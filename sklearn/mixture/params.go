package mixture

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/model"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

// NComponents は成分数 K を返す
func (gm *GaussianMixture) NComponents() int { return gm.nComponents }

// NFeatures は次元 D を返す
func (gm *GaussianMixture) NFeatures() int { return gm.nFeatures }

// CovarianceType は共分散の制約を返す
func (gm *GaussianMixture) CovarianceType() CovarianceType { return gm.covarianceType }

// Strategy はEM戦略を返す
func (gm *GaussianMixture) Strategy() TrainingStrategy { return gm.strategy }

// NIterations は直前の Train で実行したイテレーション数を返す
func (gm *GaussianMixture) NIterations() int { return gm.nIter_ }

// Converged は直前の Train が停止条件を満たしたかを返す
func (gm *GaussianMixture) Converged() bool { return gm.converged_ }

// LowerBound は直前の Train の最後の平均対数尤度を返す
func (gm *GaussianMixture) LowerBound() float64 { return gm.lowerBound_ }

// Weights は混合重みのコピーを返す
func (gm *GaussianMixture) Weights() []float64 {
	return append([]float64(nil), gm.weights...)
}

// Means は平均（K×D）のコピーを返す
func (gm *GaussianMixture) Means() *mat.Dense {
	return mat.DenseCopyOf(gm.means)
}

// Covariances は各成分の共分散行列のコピーを返す
func (gm *GaussianMixture) Covariances() []*mat.SymDense {
	out := make([]*mat.SymDense, len(gm.covariances))
	for k, c := range gm.covariances {
		out[k] = mat.NewSymDense(gm.nFeatures, nil)
		out[k].CopySym(c.Matrix)
	}
	return out
}

// Component は k 番目の共分散オブジェクトのコピーを返す
func (gm *GaussianMixture) Component(k int) *Covariance {
	return gm.covariances[k].Clone()
}

// ExportWeights はパラメータを ModelWeights として書き出す
func (gm *GaussianMixture) ExportWeights() (*model.ModelWeights, error) {
	if err := gm.RequireInitialized("GaussianMixture", "ExportWeights"); err != nil {
		return nil, err
	}
	w := model.NewModelWeights("GaussianMixture")
	gm.exportInto(w, "")
	w.IsFitted = gm.IsFitted()
	w.Metadata["covariance_type"] = gm.covarianceType.String()
	w.Metadata["strategy"] = gm.strategy.String()
	return w, nil
}

// ExportInto は prefix を付けた名前でパラメータを w に書き込む（HMMが状態ごとに使う）
func (gm *GaussianMixture) ExportInto(w *model.ModelWeights, prefix string) {
	gm.exportInto(w, prefix)
}

func (gm *GaussianMixture) exportInto(w *model.ModelWeights, prefix string) {
	k, d := gm.nComponents, gm.nFeatures
	w.Params[prefix+"n_components"] = float64(k)
	w.Params[prefix+"n_features"] = float64(d)
	w.SetArray(prefix+"weights", gm.weights, k)
	w.SetMatrix(prefix+"means", gm.means)

	covs := make([]float64, 0, k*d*d)
	for _, c := range gm.covariances {
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				covs = append(covs, c.Matrix.At(i, j))
			}
		}
	}
	w.SetArray(prefix+"covariances", covs, k, d, d)
}

// ImportWeights は ExportWeights の出力からパラメータを復元する
func (gm *GaussianMixture) ImportWeights(w *model.ModelWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ModelType != "GaussianMixture" {
		return errors.NewValidationError("model_type", "expected GaussianMixture", w.ModelType)
	}
	if err := CheckCovarianceType(w, gm.covarianceType); err != nil {
		return err
	}
	if name, ok := w.Metadata["strategy"]; ok {
		strategy, err := ParseTrainingStrategy(name)
		if err != nil {
			return err
		}
		gm.strategy = strategy
	}
	if err := gm.ImportFrom(w, ""); err != nil {
		return err
	}
	if w.IsFitted {
		gm.SetFitted()
	}
	return nil
}

// ImportFrom は prefix を付けた名前のパラメータを読み込み、共分散を分解し直す
func (gm *GaussianMixture) ImportFrom(w *model.ModelWeights, prefix string) error {
	k, err := w.Int(prefix + "n_components")
	if err != nil {
		return err
	}
	d, err := w.Int(prefix + "n_features")
	if err != nil {
		return err
	}
	if k != gm.nComponents {
		return errors.NewDimensionError("GaussianMixture.ImportWeights", gm.nComponents, k, 0)
	}
	if d != gm.nFeatures {
		return errors.NewDimensionError("GaussianMixture.ImportWeights", gm.nFeatures, d, 1)
	}

	weights, _, err := w.Array(prefix + "weights")
	if err != nil {
		return err
	}
	means, err := w.Matrix(prefix + "means")
	if err != nil {
		return err
	}
	covs, _, err := w.Array(prefix + "covariances")
	if err != nil {
		return err
	}
	if len(weights) != k {
		return errors.NewDimensionError("GaussianMixture.ImportWeights", k, len(weights), 0)
	}
	if r, c := means.Dims(); r != k || c != d {
		return errors.NewDimensionError("GaussianMixture.ImportWeights", k, r, 0)
	}
	if len(covs) != k*d*d {
		return errors.NewDimensionError("GaussianMixture.ImportWeights", k*d*d, len(covs), 0)
	}

	gm.weights = append([]float64(nil), weights...)
	errors.Normalize(gm.weights)
	gm.means = means
	for c := 0; c < k; c++ {
		m := mat.NewSymDense(d, nil)
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				m.SetSym(i, j, covs[c*d*d+i*d+j])
			}
		}
		cov := &Covariance{Diagonal: gm.covarianceType == DiagonalCovariance}
		cov.Set(m)
		gm.covariances[c] = cov
	}
	if err := gm.UpdateCovariance(); err != nil {
		return err
	}
	gm.SetInitialized()
	return nil
}

// CheckCovarianceType は w に記録された共分散タイプが want と一致するか確認する。
// full の書き出しを diag のモデルに読み込むと非対角成分が失われるため拒否する。
// 記録がない場合は許可する。
func CheckCovarianceType(w *model.ModelWeights, want CovarianceType) error {
	recorded, ok := w.Metadata["covariance_type"]
	if !ok {
		return nil
	}
	got, err := ParseCovarianceType(recorded)
	if err != nil {
		return err
	}
	if got != want {
		return errors.NewValidationError("covariance_type",
			fmt.Sprintf("weights were exported with %s covariances, model uses %s", got, want), recorded)
	}
	return nil
}
