package model

import "gonum.org/v1/gonum/mat"

// Fitter は教師なしで学習可能なモデルのインターフェース
//
// X は1行が1サンプル（系列モデルでは1時刻）の行列。
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X mat.Matrix) error
}

// Clusterer はクラスタリングモデルのインターフェース
type Clusterer interface {
	Fitter
	// Predict は各サンプルのクラスタ番号を返す
	Predict(X mat.Matrix) ([]int, error)
}

// DensityEstimator は確率密度を推定するモデルのインターフェース
type DensityEstimator interface {
	Fitter
	// ScoreSamples は各サンプルの対数尤度を返す
	ScoreSamples(X mat.Matrix) ([]float64, error)
	// Score はサンプルあたりの平均対数尤度を返す
	Score(X mat.Matrix) (float64, error)
}

// SequenceModel は観測系列全体を扱うモデルのインターフェース
type SequenceModel interface {
	Fitter
	// Score は系列全体の対数尤度を返す
	Score(X mat.Matrix) (float64, error)
	// Predict は最尤の隠れ状態列を返す
	Predict(X mat.Matrix) ([]int, error)
	// PredictProba は各時刻の状態事後確率（T×N）を返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Sampler はサンプルを生成できるモデルのインターフェース
type Sampler interface {
	// Generate は n 個の観測と、それを生成した成分または状態の番号を返す
	Generate(n int) (mat.Matrix, []int, error)
}

// WeightExporter は重みをエクスポート・インポート可能なモデルのインターフェース
type WeightExporter interface {
	ExportWeights() (*ModelWeights, error)
	ImportWeights(weights *ModelWeights) error
}
