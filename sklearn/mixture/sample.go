package mixture

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

// Generate は n 個のサンプルと、それぞれを生成した成分番号を返す
func (gm *GaussianMixture) Generate(n int) (mat.Matrix, []int, error) {
	if err := gm.RequireInitialized("GaussianMixture", "Generate"); err != nil {
		return nil, nil, err
	}
	if n <= 0 {
		return nil, nil, errors.NewValidationError("n_samples", "must be positive", n)
	}

	out := mat.NewDense(n, gm.nFeatures, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = gm.Draw(gm.rng, out.RawRowView(i))
	}

	gm.logger.Debug("generated", log.OperationKey, log.OperationGenerate, log.SamplesKey, n)
	return out, labels, nil
}

// Draw は rng を使って1点を dst に書き込み、選ばれた成分番号を返す。
// 成分は重みによるカテゴリカル分布から選び、対角型では次元ごとに独立な正規乱数、
// 完全型では標準正規ベクトル z を μ + Uᵀz に変換する（UᵀU = Σ）。
func (gm *GaussianMixture) Draw(rng *rand.Rand, dst []float64) int {
	k := categorical(rng, gm.weights)
	mean := gm.means.RawRowView(k)
	c := gm.covariances[k]
	d := gm.nFeatures

	z := make([]float64, d)
	for j := range z {
		z[j] = rng.NormFloat64()
	}

	u := c.Cholesky()
	if c.Diagonal {
		for j := 0; j < d; j++ {
			dst[j] = mean[j] + u.At(j, j)*z[j]
		}
		return k
	}

	for j := 0; j < d; j++ {
		// (Uᵀz)_j = Σ_{i<=j} U[i,j]·z_i
		v := 0.0
		for i := 0; i <= j; i++ {
			v += u.At(i, j) * z[i]
		}
		dst[j] = mean[j] + v
	}
	return k
}

// categorical は確率ベクトル p に従う番号を返す
func categorical(rng *rand.Rand, p []float64) int {
	cum := make([]float64, len(p))
	floats.CumSum(cum, p)
	u := rng.Float64() * cum[len(cum)-1]
	for i, c := range cum {
		if u < c {
			return i
		}
	}
	// 丸め誤差で u == 合計となった場合は確率が正の最後の番号
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] > 0 {
			return i
		}
	}
	return len(p) - 1
}

// Categorical は確率ベクトル p に従う番号を返す。HMMの状態遷移の抽出に使う。
func Categorical(rng *rand.Rand, p []float64) int {
	return categorical(rng, p)
}
