package metrics

import (
	"math"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("MSE", len(yTrue), len(yPred)); err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := range yTrue {
		diff := yTrue[i] - yPred[i]
		sum += diff * diff
	}

	return sum / float64(len(yTrue)), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred []float64) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("MAE", len(yTrue), len(yPred)); err != nil {
		return 0, err
	}

	// MAE = (1/n) * Σ|yTrue - yPred|
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}

	return sum / float64(len(yTrue)), nil
}

// MatrixMSE は同じ形状の2つの行列の要素ごとの平均二乗誤差を計算する
func MatrixMSE(a, b mat.Matrix) (float64, error) {
	x, y, err := flattenPair("MatrixMSE", a, b)
	if err != nil {
		return 0, err
	}
	return MSE(x, y)
}

// MatrixMAE は同じ形状の2つの行列の要素ごとの平均絶対誤差を計算する。
// 推定した遷移行列と真の遷移行列の比較に使う。
func MatrixMAE(a, b mat.Matrix) (float64, error) {
	x, y, err := flattenPair("MatrixMAE", a, b)
	if err != nil {
		return 0, err
	}
	return MAE(x, y)
}

// MaxAbsDiff は要素ごとの絶対誤差の最大値を返す
func MaxAbsDiff(a, b mat.Matrix) (float64, error) {
	x, y, err := flattenPair("MaxAbsDiff", a, b)
	if err != nil {
		return 0, err
	}
	maxDiff := 0.0
	for i := range x {
		maxDiff = math.Max(maxDiff, math.Abs(x[i]-y[i]))
	}
	return maxDiff, nil
}

func checkPair(op string, n, m int) error {
	if n == 0 {
		return errors.NewValueError(op, "empty vector")
	}
	if m != n {
		return errors.NewDimensionError(op, n, m, 0)
	}
	return nil
}

func flattenPair(op string, a, b mat.Matrix) ([]float64, []float64, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra == 0 || ca == 0 {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	if ra != rb {
		return nil, nil, errors.NewDimensionError(op, ra, rb, 0)
	}
	if ca != cb {
		return nil, nil, errors.NewDimensionError(op, ca, cb, 1)
	}

	x := make([]float64, 0, ra*ca)
	y := make([]float64, 0, ra*ca)
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			x = append(x, a.At(i, j))
			y = append(y, b.At(i, j))
		}
	}
	return x, y, nil
}
