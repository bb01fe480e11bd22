package hmm

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
	"github.com/YuminosukeSato/scihmm/sklearn/cluster"
)

// Fit は X からモデルを乱数初期化し、設定済みのイテレーション数・許容誤差・
// 固定フラグで Baum-Welch を実行する
func (h *GMMHMM) Fit(X mat.Matrix) error {
	if err := h.Randomize(X); err != nil {
		return err
	}
	return h.Train(X, h.maxIter, h.tol, h.freeze)
}

// Randomize は X からモデルを初期化する
//
// 観測をKMeans（k-means++）で N グループに分け、状態 j のGMMをグループ j から
// 乱数初期化する。グループが K 個の共分散を作るには小さすぎる場合は X 全体を
// 使う。初期確率と遷移行列は、固定されていなければ一様乱数を正規化した値になる。
func (h *GMMHMM) Randomize(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "GMMHMM.Randomize")

	rows, cols := X.Dims()
	if rows == 0 {
		return errors.NewValidationError("X", "observation sequence must not be empty", 0)
	}
	if cols != h.nFeatures {
		return errors.NewDimensionError("GMMHMM.Randomize", h.nFeatures, cols, 1)
	}

	h.Reset()
	h.invalidate()
	h.history = nil

	labels, err := h.clusterObservations(X)
	if err != nil {
		return err
	}
	if err := h.seedStates(X, labels); err != nil {
		return err
	}

	if !h.freeze.StartProb {
		for i := range h.startProb {
			h.startProb[i] = 1 - h.rng.Float64()
		}
		errors.Normalize(h.startProb)
	}
	if !h.freeze.Transitions {
		for i := 0; i < h.nStates; i++ {
			row := h.transmat.RawRowView(i)
			for j := range row {
				row[j] = 1 - h.rng.Float64()
			}
			errors.Normalize(row)
		}
	}

	h.logger.Debug("randomized",
		log.OperationKey, log.OperationRandomize,
		log.SamplesKey, rows,
		log.StatesKey, h.nStates,
	)
	h.SetInitialized()
	return nil
}

// clusterObservations は X の行を N グループに分ける
func (h *GMMHMM) clusterObservations(X mat.Matrix) ([]int, error) {
	rows, _ := X.Dims()
	if h.nStates == 1 {
		return make([]int, rows), nil
	}
	km := cluster.NewKMeans(
		cluster.WithKMeansNClusters(h.nStates),
		cluster.WithKMeansInit("k-means++"),
		cluster.WithKMeansMaxIter(h.kmeansMaxIter),
		cluster.WithKMeansRand(h.rng),
		cluster.WithKMeansLogger(h.logger),
	)
	if err := km.Fit(X); err != nil {
		return nil, err
	}
	return km.Labels(), nil
}

// seedStates は各状態のGMMをその状態のラベルが付いた観測で乱数初期化する
func (h *GMMHMM) seedStates(X mat.Matrix, labels []int) error {
	_, cols := X.Dims()
	groups := make([][]int, h.nStates)
	for t, j := range labels {
		groups[j] = append(groups[j], t)
	}

	minPoints := h.nComponents * (cols + 1)
	for j, idx := range groups {
		var data mat.Matrix = X
		if len(idx) >= minPoints {
			pts := mat.NewDense(len(idx), cols, nil)
			for r, t := range idx {
				pts.SetRow(r, mat.Row(nil, t, X))
			}
			data = pts
		}
		if err := h.states[j].Randomize(data, nil, nil); err != nil {
			h.Reset()
			return errors.WithState(err, "GMMHMM.Randomize", j)
		}
	}
	return nil
}

// Train は Baum-Welch でパラメータを再推定する
//
// 各イテレーションで Forward と Backward を1回ずつ実行し、初期確率を時刻0の
// 占有確率に、遷移行列の各行を期待遷移回数から正規化した値に更新し、各状態の
// GMMを責任度 gamma_t(j)·P(成分 k | x_t, 状態 j) で更新する。対数尤度の相対変化が
// tol を下回るか maxIter 回に達したら停止する。
// いずれかの状態で SingularMatrix が起きると中断し、モデルは未初期化に戻る。
// 再試行する前に Randomize し直すこと。
func (h *GMMHMM) Train(X mat.Matrix, maxIter int, tol float64, freeze FreezeFlags) (err error) {
	defer errors.Recover(&err, "GMMHMM.Train")

	if err := h.checkSequence(X, "Train"); err != nil {
		return err
	}
	if maxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", maxIter)
	}

	start := time.Now()
	T, _ := X.Dims()
	prevLL := math.Inf(-1)
	h.converged_ = false
	h.nIter_ = 0

	for iter := 0; iter < maxIter; iter++ {
		h.invalidate()
		c, err := h.computeEmissions(X, "Train")
		if err != nil {
			h.Reset()
			return err
		}
		alpha, ll, err := h.forward(c)
		if err != nil {
			h.Reset()
			return err
		}
		beta, err := h.backward(c)
		if err != nil {
			h.Reset()
			return err
		}
		h.nIter_ = iter + 1
		h.history = append(h.history, ll)

		h.logger.Debug("baum-welch iteration",
			log.IterationKey, h.nIter_,
			log.LogLikelihoodKey, ll,
		)

		if iter > 0 && math.Abs(ll-prevLL) < tol*math.Abs(prevLL) {
			h.converged_ = true
			break
		}
		prevLL = ll

		gamma := posteriors(alpha, beta)
		if err := errors.CheckMatrix("GMMHMM.Train", gamma, T, h.nStates, h.nIter_); err != nil {
			h.Reset()
			return err
		}
		if err := h.maximize(X, c, gamma, alpha, beta, freeze); err != nil {
			h.Reset()
			h.invalidate()
			h.logger.Error("baum-welch aborted", err, log.IterationKey, h.nIter_)
			return err
		}
	}
	h.invalidate()

	if !h.converged_ {
		errors.Warn(errors.NewConvergenceWarning("GMMHMM", h.nIter_, "log-likelihood still changing at max_iter"))
	}

	h.logger.Info("baum-welch finished",
		log.OperationKey, log.OperationTrain,
		log.SamplesKey, T,
		log.StatesKey, h.nStates,
		log.IterationKey, h.nIter_,
		log.LogLikelihoodKey, h.history[len(h.history)-1],
		log.ConvergedKey, h.converged_,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	h.SetFitted()
	return nil
}

// maximize は Baum-Welch のMステップ
func (h *GMMHMM) maximize(X mat.Matrix, c *emissionCache, gamma, alpha, beta *mat.Dense, freeze FreezeFlags) error {
	T, N := gamma.Dims()

	if !freeze.StartProb {
		copy(h.startProb, gamma.RawRowView(0))
		errors.Normalize(h.startProb)
		if err := errors.CheckNumericalStability("GMMHMM.Train", h.startProb, h.nIter_); err != nil {
			return err
		}
	}

	if !freeze.Transitions && T > 1 {
		xiSum := expectedTransitions(h.transmat, c.scaled, alpha, beta)
		for i := 0; i < N; i++ {
			row := xiSum.RawRowView(i)
			if floats.Sum(row) > 0 {
				errors.Normalize(row)
				h.transmat.SetRow(i, row)
			}
		}
	}

	for j, gm := range h.states {
		resp := mat.NewDense(T, h.nComponents, nil)
		w := c.weighted[j]
		for t := 0; t < T; t++ {
			g := gamma.At(t, j)
			logB := c.logB.At(t, j)
			dst := resp.RawRowView(t)
			for k, v := range w.RawRowView(t) {
				dst[k] = g * math.Exp(v-logB)
			}
		}
		if err := gm.Maximize(X, resp, freeze.mixture()); err != nil {
			return errors.WithState(err, "GMMHMM.Train", j)
		}
	}
	return nil
}

// expectedTransitions は Σ_t xi_t(i, j) を返す。
// xi_t(i, j) ∝ alpha_t(i)·A(i, j)·b_j(x_{t+1})·beta_{t+1}(j) は時刻ごとに
// (i, j) 全体で正規化する。
func expectedTransitions(A, scaled, alpha, beta *mat.Dense) *mat.Dense {
	T, N := alpha.Dims()
	sum := mat.NewDense(N, N, nil)
	xi := mat.NewDense(N, N, nil)
	tmp := make([]float64, N)

	for t := 0; t < T-1; t++ {
		floats.MulTo(tmp, scaled.RawRowView(t+1), beta.RawRowView(t+1))
		a := alpha.RawRowView(t)
		total := 0.0
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				v := a[i] * A.At(i, j) * tmp[j]
				xi.Set(i, j, v)
				total += v
			}
		}
		if !(total > 0) {
			continue
		}
		xi.Scale(1/total, xi)
		sum.Add(sum, xi)
	}
	return sum
}
