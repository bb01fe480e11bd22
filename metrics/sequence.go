package metrics

import (
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// maxPermutationStates は全順列を試す状態数の上限（8! = 40320）
const maxPermutationStates = 8

// StateAccuracy は推定した状態列 pred と真の状態列 truth の一致率を、
// 状態ラベルの付け替え（順列）の中で最大となるもので計算する。
// 隠れ状態の番号は学習ごとに入れ替わりうるため、HMMの復号精度はこの値で評価する。
//
// 戻り値の perm は pred のラベル k を perm[k] に読み替えることを表す。
func StateAccuracy(truth, pred []int, nStates int) (float64, []int, error) {
	if err := checkPair("StateAccuracy", len(truth), len(pred)); err != nil {
		return 0, nil, err
	}
	if nStates <= 0 || nStates > maxPermutationStates {
		return 0, nil, errors.NewValidationError("n_states", "must be between 1 and 8", nStates)
	}
	for i := range truth {
		if truth[i] < 0 || truth[i] >= nStates || pred[i] < 0 || pred[i] >= nStates {
			return 0, nil, errors.NewValidationError("labels", "must lie in [0, n_states)", i)
		}
	}

	// confusion[k][j] = pred が k で truth が j の個数
	confusion := make([][]int, nStates)
	for k := range confusion {
		confusion[k] = make([]int, nStates)
	}
	for i := range truth {
		confusion[pred[i]][truth[i]]++
	}

	bestHits := -1
	var bestPerm []int
	permute(nStates, func(perm []int) {
		hits := 0
		for k, j := range perm {
			hits += confusion[k][j]
		}
		if hits > bestHits {
			bestHits = hits
			bestPerm = append([]int(nil), perm...)
		}
	})

	return float64(bestHits) / float64(len(truth)), bestPerm, nil
}

// Relabel は labels の各値 k を perm[k] に置き換えた新しいスライスを返す
func Relabel(labels, perm []int) []int {
	out := make([]int, len(labels))
	for i, k := range labels {
		out[i] = perm[k]
	}
	return out
}

// PermuteMatrix は状態 k を perm[k] に読み替えたときの正方行列（遷移行列等）を返す。
// 結果の (perm[i], perm[j]) 要素は a の (i, j) 要素になる。
func PermuteMatrix(a mat.Matrix, perm []int) (*mat.Dense, error) {
	r, c := a.Dims()
	if r != c {
		return nil, errors.NewDimensionError("PermuteMatrix", r, c, 1)
	}
	if len(perm) != r {
		return nil, errors.NewDimensionError("PermuteMatrix", r, len(perm), 0)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(perm[i], perm[j], a.At(i, j))
		}
	}
	return out, nil
}

// PermuteVector は状態 k を perm[k] に読み替えたベクトルを返す
func PermuteVector(v []float64, perm []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[perm[i]] = x
	}
	return out
}

// permute は 0..n-1 の全順列を辞書順に fn へ渡す
func permute(n int, fn func([]int)) {
	perm := make([]int, n)
	used := make([]bool, n)
	var rec func(pos int)
	rec = func(pos int) {
		if pos == n {
			fn(perm)
			return
		}
		for v := 0; v < n; v++ {
			if used[v] {
				continue
			}
			used[v] = true
			perm[pos] = v
			rec(pos + 1)
			used[v] = false
		}
	}
	rec(0)
}
