package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

// Forward はスケーリング付きの前向き再帰を実行し、alpha（T×N、各行の和が1）と
// 系列の対数尤度を返す
//
// alpha_0 = π ∘ b(x_0), alpha_t = (alpha_{t-1}·A) ∘ b(x_t)。
// 各行をその和 c_t で割り、対数尤度は Σ_t (log c_t + shift_t) となる。
func (h *GMMHMM) Forward(X mat.Matrix) (*mat.Dense, float64, error) {
	c, err := h.emissions(X, "Forward")
	if err != nil {
		return nil, 0, err
	}
	return h.forward(c)
}

// Backward は後ろ向き再帰を実行し beta（T×N）を返す。
// 最終行はすべて1、それ以前の行は A·(b(x_{t+1}) ∘ beta_{t+1}) をその和で割った値。
func (h *GMMHMM) Backward(X mat.Matrix) (*mat.Dense, error) {
	c, err := h.emissions(X, "Backward")
	if err != nil {
		return nil, err
	}
	return h.backward(c)
}

// Viterbi は X に対する最尤の状態列とその同時対数確率を返す。
// 直前状態や終端状態の候補が同点の場合は番号の小さい状態を選ぶ。
func (h *GMMHMM) Viterbi(X mat.Matrix) ([]int, float64, error) {
	c, err := h.emissions(X, "Viterbi")
	if err != nil {
		return nil, 0, err
	}
	path, logProb := h.viterbi(c)
	return path, logProb, nil
}

// Score は X の対数尤度を返す
func (h *GMMHMM) Score(X mat.Matrix) (float64, error) {
	_, ll, err := h.Forward(X)
	return ll, err
}

// Predict は X のビタビ経路を返す
func (h *GMMHMM) Predict(X mat.Matrix) ([]int, error) {
	path, _, err := h.Viterbi(X)
	return path, err
}

// PredictProba は状態の事後確率 P(q_t = j | X) を T×N 行列で返す
func (h *GMMHMM) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	c, err := h.emissions(X, "PredictProba")
	if err != nil {
		return nil, err
	}
	alpha, _, err := h.forward(c)
	if err != nil {
		return nil, err
	}
	beta, err := h.backward(c)
	if err != nil {
		return nil, err
	}
	return posteriors(alpha, beta), nil
}

func (h *GMMHMM) forward(c *emissionCache) (*mat.Dense, float64, error) {
	T, N := c.scaled.Dims()
	alpha := mat.NewDense(T, N, nil)
	ll := 0.0

	row := alpha.RawRowView(0)
	floats.MulTo(row, h.startProb, c.scaled.RawRowView(0))
	scale := floats.Sum(row)
	if !(scale > 0) {
		return nil, 0, errors.NewNumericalInstabilityError("GMMHMM.Forward", []float64{scale}, 0)
	}
	floats.Scale(1/scale, row)
	ll += math.Log(scale) + c.shift[0]

	for t := 1; t < T; t++ {
		prev := alpha.RawRowView(t - 1)
		row := alpha.RawRowView(t)
		b := c.scaled.RawRowView(t)
		for j := 0; j < N; j++ {
			s := 0.0
			for i := 0; i < N; i++ {
				s += prev[i] * h.transmat.At(i, j)
			}
			row[j] = s * b[j]
		}
		scale := floats.Sum(row)
		if !(scale > 0) {
			return nil, 0, errors.NewNumericalInstabilityError("GMMHMM.Forward", []float64{scale}, t)
		}
		floats.Scale(1/scale, row)
		ll += math.Log(scale) + c.shift[t]
	}

	return alpha, ll, nil
}

func (h *GMMHMM) backward(c *emissionCache) (*mat.Dense, error) {
	T, N := c.scaled.Dims()
	beta := mat.NewDense(T, N, nil)
	for j := 0; j < N; j++ {
		beta.Set(T-1, j, 1)
	}

	tmp := make([]float64, N)
	for t := T - 2; t >= 0; t-- {
		floats.MulTo(tmp, c.scaled.RawRowView(t+1), beta.RawRowView(t+1))
		row := beta.RawRowView(t)
		for i := 0; i < N; i++ {
			row[i] = floats.Dot(h.transmat.RawRowView(i), tmp)
		}
		scale := floats.Sum(row)
		if !(scale > 0) {
			return nil, errors.NewNumericalInstabilityError("GMMHMM.Backward", []float64{scale}, t)
		}
		floats.Scale(1/scale, row)
	}
	return beta, nil
}

func (h *GMMHMM) viterbi(c *emissionCache) ([]int, float64) {
	T, N := c.scaled.Dims()
	logA := mat.NewDense(N, N, nil)
	logA.Apply(func(_, _ int, v float64) float64 { return math.Log(v) }, h.transmat)

	delta := make([]float64, N)
	next := make([]float64, N)
	back := make([][]int, T)

	for j := 0; j < N; j++ {
		delta[j] = math.Log(h.startProb[j]) + c.logB.At(0, j) - c.shift[0]
	}

	for t := 1; t < T; t++ {
		back[t] = make([]int, N)
		for j := 0; j < N; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < N; i++ {
				if v := delta[i] + logA.At(i, j); v > best {
					best, arg = v, i
				}
			}
			next[j] = best + c.logB.At(t, j) - c.shift[t]
			back[t][j] = arg
		}
		delta, next = next, delta
	}

	path := make([]int, T)
	best := math.Inf(-1)
	for j, v := range delta {
		if v > best {
			best, path[T-1] = v, j
		}
	}
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}

	return path, best + floats.Sum(c.shift)
}

// posteriors は行ごとに正規化した gamma_t(j) ∝ alpha_t(j)·beta_t(j) を返す
func posteriors(alpha, beta *mat.Dense) *mat.Dense {
	T, N := alpha.Dims()
	gamma := mat.NewDense(T, N, nil)
	gamma.MulElem(alpha, beta)
	for t := 0; t < T; t++ {
		errors.Normalize(gamma.RawRowView(t))
	}
	return gamma
}
