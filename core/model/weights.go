package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// WeightsVersion は現在のModelWeightsフォーマットのバージョン
const WeightsVersion = "1.0"

// ModelWeights はモデルのパラメータを表す構造体（シリアライゼーション用）
//
// パラメータは名前付きのフラット配列として保持し、Shapes に各配列の形状を記録する。
// 例えば GMM の平均は "means" に K*D 要素、形状 [K, D] で格納される。
type ModelWeights struct {
	// ModelType はモデルの種類（GaussianMixture, GMMHMM等）
	ModelType string `json:"model_type"`

	// Version はフォーマットのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Arrays は名前付きのフラット配列（行優先）
	Arrays map[string][]float64 `json:"arrays"`

	// Shapes は Arrays の各配列の形状
	Shapes map[string][]int `json:"shapes"`

	// Params はスカラーのハイパーパラメータ（状態数・成分数・次元数等）
	Params map[string]float64 `json:"params"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]string `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// NewModelWeights は空のModelWeightsを作成する
func NewModelWeights(modelType string) *ModelWeights {
	return &ModelWeights{
		ModelType: modelType,
		Version:   WeightsVersion,
		Arrays:    make(map[string][]float64),
		Shapes:    make(map[string][]int),
		Params:    make(map[string]float64),
		Metadata:  make(map[string]string),
	}
}

// SetArray は data のコピーを name で登録する
func (mw *ModelWeights) SetArray(name string, data []float64, shape ...int) {
	if mw.Arrays == nil {
		mw.Arrays = make(map[string][]float64)
	}
	if mw.Shapes == nil {
		mw.Shapes = make(map[string][]int)
	}
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	mw.Arrays[name] = append([]float64(nil), data...)
	mw.Shapes[name] = append([]int(nil), shape...)
}

// SetMatrix は行列を行優先のフラット配列として登録する
func (mw *ModelWeights) SetMatrix(name string, m mat.Matrix) {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	mw.SetArray(name, data, r, c)
}

// Array は name の配列と形状を返す
func (mw *ModelWeights) Array(name string) ([]float64, []int, error) {
	data, ok := mw.Arrays[name]
	if !ok {
		return nil, nil, errors.NewValidationError(name, "array is missing from model weights", nil)
	}
	return data, mw.Shapes[name], nil
}

// Matrix は name の2次元配列を *mat.Dense として返す
func (mw *ModelWeights) Matrix(name string) (*mat.Dense, error) {
	data, shape, err := mw.Array(name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[0]*shape[1] != len(data) || len(data) == 0 {
		return nil, errors.NewValidationError(name, "array is not a non-empty 2-D matrix", shape)
	}
	return mat.NewDense(shape[0], shape[1], append([]float64(nil), data...)), nil
}

// Int は整数のハイパーパラメータを返す
func (mw *ModelWeights) Int(name string) (int, error) {
	v, ok := mw.Params[name]
	if !ok {
		return 0, errors.NewValidationError(name, "parameter is missing from model weights", nil)
	}
	return int(v), nil
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mw, "", "  ")
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, mw); err != nil {
		return errors.Wrap(err, "failed to decode model weights")
	}
	return nil
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	}

	if mw.Version == "" {
		return errors.NewValidationError("version", "is required", mw.Version)
	}

	if mw.IsFitted && len(mw.Arrays) == 0 {
		return errors.NewValidationError("arrays", "fitted model must have parameters", 0)
	}

	for name, data := range mw.Arrays {
		shape, ok := mw.Shapes[name]
		if !ok {
			return errors.NewValidationError(name, "shape is missing", nil)
		}
		size := 1
		for _, s := range shape {
			size *= s
		}
		if size != len(data) {
			return errors.NewValidationError(name, "shape does not match array length", shape)
		}
	}

	return nil
}

// Clone はModelWeightsのディープコピーを作成
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := NewModelWeights(mw.ModelType)
	clone.Version = mw.Version
	clone.IsFitted = mw.IsFitted

	for k, v := range mw.Arrays {
		clone.Arrays[k] = append([]float64(nil), v...)
	}
	for k, v := range mw.Shapes {
		clone.Shapes[k] = append([]int(nil), v...)
	}
	for k, v := range mw.Params {
		clone.Params[k] = v
	}
	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}

	return clone
}
