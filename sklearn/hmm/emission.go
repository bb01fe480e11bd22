package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

// emissionCache は1本の観測系列に対する状態ごとの出力項を保持する
type emissionCache struct {
	X mat.Matrix

	// logB[t,j] = log b_j(x_t)
	logB *mat.Dense
	// weighted[j] は状態 j の T×K 行列 log(w_jk) + log N(x_t | jk)
	weighted []*mat.Dense
	// scaled[t,j] = exp(logB[t,j] - shift[t])
	scaled *mat.Dense
	// shift[t] = max_j logB[t,j]
	shift []float64
}

// ObservationProbability は全状態 j について b_j(x) を返す。キャッシュは使わない。
func (h *GMMHMM) ObservationProbability(x []float64) ([]float64, error) {
	X := mat.NewDense(1, len(x), append([]float64(nil), x...))
	if err := h.checkSequence(X, "ObservationProbability"); err != nil {
		return nil, err
	}
	out := make([]float64, h.nStates)
	for j, gm := range h.states {
		ll, err := gm.ScoreSamples(X)
		if err != nil {
			return nil, errors.WithState(err, "GMMHMM.ObservationProbability", j)
		}
		out[j] = math.Exp(ll[0])
	}
	return out, nil
}

// LogObservationProbabilities は log b_j(x_t) の T×N 行列を返す
func (h *GMMHMM) LogObservationProbabilities(X mat.Matrix) (*mat.Dense, error) {
	c, err := h.emissions(X, "LogObservationProbabilities")
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(c.logB), nil
}

// PrecomputeObservations は X の出力項を計算してキャッシュする。
//
// 同じ行列に対する Forward / Backward / Viterbi / Score / PredictProba は
// 密度計算を省略する。キャッシュは行列の同一性で照合し、パラメータが変わると
// 破棄される。キャッシュ中に X を書き換えてはならない。
func (h *GMMHMM) PrecomputeObservations(X mat.Matrix) error {
	c, err := h.computeEmissions(X, "PrecomputeObservations")
	if err != nil {
		return err
	}
	h.cache = c
	return nil
}

// ClearCache はキャッシュした出力項を破棄する
func (h *GMMHMM) ClearCache() {
	h.invalidate()
}

func (h *GMMHMM) emissions(X mat.Matrix, method string) (*emissionCache, error) {
	if h.cache != nil && sameMatrix(h.cache.X, X) {
		return h.cache, nil
	}
	return h.computeEmissions(X, method)
}

// computeEmissions は全状態のGMMを X で評価する。
// 対数出力確率は時刻ごとの最大値を引いてから指数化するため、離れた状態でも
// 行全体が0にアンダーフローしない。引いた値は forward が対数尤度に足し戻す。
func (h *GMMHMM) computeEmissions(X mat.Matrix, method string) (*emissionCache, error) {
	if err := h.checkSequence(X, method); err != nil {
		return nil, err
	}
	T, _ := X.Dims()
	c := &emissionCache{
		X:        X,
		logB:     mat.NewDense(T, h.nStates, nil),
		weighted: make([]*mat.Dense, h.nStates),
		scaled:   mat.NewDense(T, h.nStates, nil),
		shift:    make([]float64, T),
	}

	for j, gm := range h.states {
		w, err := gm.WeightedLogProb(X)
		if err != nil {
			return nil, errors.WithState(err, "GMMHMM."+method, j)
		}
		c.weighted[j] = w
		for t := 0; t < T; t++ {
			c.logB.Set(t, j, floats.LogSumExp(w.RawRowView(t)))
		}
	}

	for t := 0; t < T; t++ {
		row := c.logB.RawRowView(t)
		m := floats.Max(row)
		if math.IsInf(m, -1) || math.IsNaN(m) {
			return nil, errors.NewNumericalInstabilityError("GMMHMM."+method, []float64{m}, t)
		}
		c.shift[t] = m
		dst := c.scaled.RawRowView(t)
		for j, v := range row {
			dst[j] = math.Exp(v - m)
		}
	}
	return c, nil
}
