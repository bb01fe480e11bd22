package mixture

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/parallel"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

// UpdateCovariance は全成分の共分散をCholesky分解し、逆行列と対数行列式を更新する。
// 分解できない成分があれば、その番号を持つ SingularMatrixError を返し、モデルを
// 未初期化に戻す。再度 Randomize してから学習し直すこと。
func (gm *GaussianMixture) UpdateCovariance() error {
	for k, c := range gm.covariances {
		if err := c.Update(); err != nil {
			gm.Reset()
			return errors.NewSingularMatrixError("GaussianMixture.UpdateCovariance", k)
		}
	}
	return nil
}

// Fit は Randomize の後に Train を実行する
func (gm *GaussianMixture) Fit(X mat.Matrix) error {
	if err := gm.Randomize(X, nil, nil); err != nil {
		return err
	}
	return gm.Train(X, gm.maxIter, gm.rule)
}

// WeightedLogProb は各点・各成分の log(w_k) + log N(x | μ_k, Σ_k) を T×K 行列で返す
func (gm *GaussianMixture) WeightedLogProb(X mat.Matrix) (*mat.Dense, error) {
	if err := gm.checkInput(X, "WeightedLogProb"); err != nil {
		return nil, err
	}
	return gm.weightedLogProb(X), nil
}

func (gm *GaussianMixture) weightedLogProb(X mat.Matrix) *mat.Dense {
	rows, _ := X.Dims()
	out := mat.NewDense(rows, gm.nComponents, nil)
	col := make([]float64, rows)
	for k, c := range gm.covariances {
		logW := math.Log(gm.weights[k])
		c.LogProbBatch(X, gm.means.RawRowView(k), col)
		for i := 0; i < rows; i++ {
			out.Set(i, k, logW+col[i])
		}
	}
	return out
}

// Evaluate は各点の混合尤度 Σ_k w_k·N(x | k) と、成分ごとの重み付き尤度（T×K）を返す
func (gm *GaussianMixture) Evaluate(X mat.Matrix) ([]float64, *mat.Dense, error) {
	logProb, err := gm.WeightedLogProb(X)
	if err != nil {
		return nil, nil, err
	}
	rows, _ := logProb.Dims()
	total := make([]float64, rows)
	logProb.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, logProb)
	for i := 0; i < rows; i++ {
		total[i] = floats.Sum(logProb.RawRowView(i))
	}
	return total, logProb, nil
}

// ScoreSamples は各点の対数尤度 log Σ_k w_k·N(x | k) を返す
func (gm *GaussianMixture) ScoreSamples(X mat.Matrix) ([]float64, error) {
	logProb, err := gm.WeightedLogProb(X)
	if err != nil {
		return nil, err
	}
	rows, _ := logProb.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = floats.LogSumExp(logProb.RawRowView(i))
	}
	return out, nil
}

// Score は点あたりの平均対数尤度を返す
func (gm *GaussianMixture) Score(X mat.Matrix) (float64, error) {
	ll, err := gm.ScoreSamples(X)
	if err != nil {
		return 0, err
	}
	return floats.Sum(ll) / float64(len(ll)), nil
}

// PredictProba は各点の成分に対する責任度（T×K、各行の和は1）を返す
func (gm *GaussianMixture) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	logProb, err := gm.WeightedLogProb(X)
	if err != nil {
		return nil, err
	}
	resp, _ := normalizeLogRows(logProb)
	return resp, nil
}

// Predict は各点で責任度が最大の成分番号を返す
func (gm *GaussianMixture) Predict(X mat.Matrix) ([]int, error) {
	resp, err := gm.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := resp.Dims()
	labels := make([]int, rows)
	for i := range labels {
		labels[i] = floats.MaxIdx(resp.RawRowView(i))
	}
	return labels, nil
}

// Train はEMでパラメータを再推定する
//
// 各イテレーションで責任度を計算し、各点を最も尤もらしい成分へハード割り当てする。
// 割り当てが rule.StableIterations 回連続で変化しないか、rule.Tol > 0 かつ
// 平均対数尤度の相対変化が rule.Tol 未満になれば停止する。そうでなければ戦略に
// 応じた責任度で M-step を行う。SingularMatrix が発生した時点で中断する。
func (gm *GaussianMixture) Train(X mat.Matrix, maxIter int, rule ConvergenceRule) (err error) {
	defer errors.Recover(&err, "GaussianMixture.Train")

	if err := gm.RequireInitialized("GaussianMixture", "Train"); err != nil {
		return err
	}
	if err := gm.checkInput(X, "Train"); err != nil {
		return err
	}
	if maxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", maxIter)
	}

	start := time.Now()
	rows, _ := X.Dims()
	labels := make([]int, rows)
	for i := range labels {
		labels[i] = -1
	}

	prevLL := math.Inf(-1)
	stable := 0
	gm.converged_ = false
	gm.nIter_ = 0

	for iter := 0; iter < maxIter; iter++ {
		gm.nIter_ = iter + 1

		resp, rowLL := normalizeLogRows(gm.weightedLogProb(X))
		ll := floats.Sum(rowLL) / float64(rows)
		if err := errors.CheckScalar("GaussianMixture.Train", ll, iter); err != nil {
			return err
		}
		gm.lowerBound_ = ll

		changed := 0
		for i := 0; i < rows; i++ {
			k := floats.MaxIdx(resp.RawRowView(i))
			if k != labels[i] {
				changed++
				labels[i] = k
			}
		}
		if iter > 0 && changed == 0 {
			stable++
		} else {
			stable = 0
		}

		gm.logger.Debug("em iteration",
			log.IterationKey, gm.nIter_,
			log.LogLikelihoodKey, ll,
			log.ChangedKey, changed,
		)

		if rule.StableIterations > 0 && stable >= rule.StableIterations {
			gm.converged_ = true
			break
		}
		if rule.Tol > 0 && iter > 0 && math.Abs(ll-prevLL) <= rule.Tol*math.Abs(prevLL) {
			gm.converged_ = true
			break
		}
		prevLL = ll

		if gm.strategy == HardAssignmentEM {
			resp.Zero()
			for i, k := range labels {
				resp.Set(i, k, 1)
			}
		}

		if err := gm.Maximize(X, resp, Freeze{}); err != nil {
			gm.logger.Error("em aborted", err, log.IterationKey, gm.nIter_)
			return err
		}
	}

	if !gm.converged_ {
		errors.Warn(errors.NewConvergenceWarning("GaussianMixture", gm.nIter_, "stopping rule not met within max_iter"))
	}

	gm.logger.Info("em finished",
		log.OperationKey, log.OperationTrain,
		log.StrategyKey, gm.strategy.String(),
		log.SamplesKey, rows,
		log.IterationKey, gm.nIter_,
		log.LogLikelihoodKey, gm.lowerBound_,
		log.ConvergedKey, gm.converged_,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	gm.SetFitted()
	return nil
}

// Maximize は責任度 resp（T×K）で重み付けした統計量からパラメータを再推定する。
//
// resp の行和は1でなくてもよい（HMMでは状態占有確率を掛けた値が渡される）。
// 重みは Σ_t resp[t,k] を総和で割った値になる。責任度の質量がほぼ0の成分は
// 平均と共分散を変更しない。読み取り専用の成分は平均を更新しない。
// 最後に UpdateCovariance を呼び、失敗すれば SingularMatrixError を返す。
func (gm *GaussianMixture) Maximize(X, resp mat.Matrix, freeze Freeze) error {
	rows, cols := X.Dims()
	if cols != gm.nFeatures {
		return errors.NewDimensionError("GaussianMixture.Maximize", gm.nFeatures, cols, 1)
	}
	rr, rc := resp.Dims()
	if rr != rows {
		return errors.NewDimensionError("GaussianMixture.Maximize", rows, rr, 0)
	}
	if rc != gm.nComponents {
		return errors.NewDimensionError("GaussianMixture.Maximize", gm.nComponents, rc, 1)
	}

	const minMass = 10 * 2.220446049250313e-16

	nk := make([]float64, gm.nComponents)
	for k := range nk {
		for i := 0; i < rows; i++ {
			nk[k] += resp.At(i, k)
		}
	}
	total := floats.Sum(nk)
	if !(total > 0) {
		return nil
	}

	if !freeze.Weights {
		for k := range gm.weights {
			gm.weights[k] = nk[k] / total
		}
	}

	// 成分ごとの更新は行数が DefaultThreshold 以上のときだけ並列化する
	threshold := gm.nComponents
	if rows >= parallel.DefaultThreshold {
		threshold = 1
	}
	parallel.ParallelizeWithThreshold(gm.nComponents, threshold, func(startK, endK int) {
		row := make([]float64, cols)
		diff := make([]float64, cols)
		for k := startK; k < endK; k++ {
			if nk[k] < minMass {
				continue
			}
			mean := gm.means.RawRowView(k)
			if !freeze.Means && !gm.isReadOnly(k) {
				for j := range mean {
					mean[j] = 0
				}
				for i := 0; i < rows; i++ {
					r := resp.At(i, k)
					if r == 0 {
						continue
					}
					mat.Row(row, i, X)
					floats.AddScaled(mean, r, row)
				}
				floats.Scale(1/nk[k], mean)
			}

			if freeze.Covariances {
				continue
			}
			cov := mat.NewSymDense(cols, nil)
			for i := 0; i < rows; i++ {
				r := resp.At(i, k)
				if r == 0 {
					continue
				}
				mat.Row(row, i, X)
				floats.SubTo(diff, row, mean)
				if gm.covarianceType == DiagonalCovariance {
					for j := range diff {
						cov.SetSym(j, j, cov.At(j, j)+r*diff[j]*diff[j])
					}
					continue
				}
				cov.SymRankOne(cov, r, mat.NewVecDense(cols, diff))
			}
			cov.ScaleSym(1/nk[k], cov)
			for j := 0; j < cols; j++ {
				cov.SetSym(j, j, cov.At(j, j)+gm.regCovar)
			}
			gm.covariances[k].Set(cov)
		}
	})

	return gm.UpdateCovariance()
}

// normalizeLogRows は各行を log-sum-exp で正規化した確率行列と、各行の log-sum-exp を返す
func normalizeLogRows(logProb *mat.Dense) (*mat.Dense, []float64) {
	rows, cols := logProb.Dims()
	out := mat.NewDense(rows, cols, nil)
	lse := make([]float64, rows)
	for i := 0; i < rows; i++ {
		src := logProb.RawRowView(i)
		lse[i] = floats.LogSumExp(src)
		dst := out.RawRowView(i)
		for k, v := range src {
			dst[k] = math.Exp(v - lse[i])
		}
	}
	return out, lse
}

func (gm *GaussianMixture) checkInput(X mat.Matrix, method string) error {
	if err := gm.RequireInitialized("GaussianMixture", method); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if cols != gm.nFeatures {
		return errors.NewDimensionError("GaussianMixture."+method, gm.nFeatures, cols, 1)
	}
	return nil
}

func (gm *GaussianMixture) isReadOnly(k int) bool {
	return gm.readOnly != nil && gm.readOnly[k]
}
