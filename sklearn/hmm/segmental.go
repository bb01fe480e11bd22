package hmm

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
	"github.com/YuminosukeSato/scihmm/sklearn/cluster"
)

// SegmentalKMeansInit は本学習の前に X からモデルを初期化する
//
// T 個の観測をKMeans（最大 kmeansMaxIter 回）で N グループに分け、各グループの
// 点でその状態のGMMを初期化する（GMM自身のKMeansで K 成分に分割される）。
// 初期確率と遷移行列はラベル列からラプラス平滑化付きで推定する。その後
// trainItersPerPass 回の Baum-Welch とビタビ再復号を繰り返し、復号結果が
// 変わらなくなるか、対数尤度の改善が許容誤差を下回るか、パス数の上限に
// 達したら終了する。
func (h *GMMHMM) SegmentalKMeansInit(X mat.Matrix, kmeansMaxIter, trainItersPerPass int) (err error) {
	defer errors.Recover(&err, "GMMHMM.SegmentalKMeansInit")

	rows, cols := X.Dims()
	if rows == 0 {
		return errors.NewValidationError("X", "observation sequence must not be empty", 0)
	}
	if cols != h.nFeatures {
		return errors.NewDimensionError("GMMHMM.SegmentalKMeansInit", h.nFeatures, cols, 1)
	}
	if kmeansMaxIter <= 0 || trainItersPerPass <= 0 {
		return errors.NewValidationError("iterations", "kmeans and training iteration counts must be positive", []int{kmeansMaxIter, trainItersPerPass})
	}

	start := time.Now()
	h.Reset()
	h.invalidate()
	h.history = nil

	labels := make([]int, rows)
	if h.nStates > 1 {
		km := cluster.NewKMeans(
			cluster.WithKMeansNClusters(h.nStates),
			cluster.WithKMeansMaxIter(kmeansMaxIter),
			cluster.WithKMeansRand(h.rng),
			cluster.WithKMeansLogger(h.logger),
		)
		if err := km.Fit(X); err != nil {
			return err
		}
		labels = km.Labels()
	}
	if err := h.seedStates(X, labels); err != nil {
		return err
	}
	h.countTransitions(labels)
	h.SetInitialized()

	var prevPath []int
	prevLL := math.Inf(-1)
	pass := 0
	for pass < h.segmentalPasses {
		pass++
		if err := h.Train(X, trainItersPerPass, h.tol, h.freeze); err != nil {
			return err
		}
		path, _, err := h.Viterbi(X)
		if err != nil {
			return err
		}
		ll := h.history[len(h.history)-1]

		h.logger.Debug("segmental pass",
			log.PassKey, pass,
			log.LogLikelihoodKey, ll,
		)

		if prevPath != nil && (equalPaths(path, prevPath) || ll-prevLL < h.segmentalTol*math.Abs(prevLL)) {
			break
		}
		prevPath, prevLL = path, ll
	}

	h.logger.Info("segmental initialisation finished",
		log.OperationKey, log.OperationSegmental,
		log.PassKey, pass,
		log.SamplesKey, rows,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// countTransitions はラベル列から初期確率と遷移確率をラプラス平滑化付きで
// 推定する。固定されたパラメータは変更しない。
func (h *GMMHMM) countTransitions(labels []int) {
	N := h.nStates
	if !h.freeze.StartProb {
		for i := range h.startProb {
			h.startProb[i] = 1
		}
		for _, j := range labels {
			h.startProb[j]++
		}
		errors.Normalize(h.startProb)
	}
	if !h.freeze.Transitions {
		counts := mat.NewDense(N, N, nil)
		counts.Apply(func(_, _ int, _ float64) float64 { return 1 }, counts)
		for t := 1; t < len(labels); t++ {
			counts.Set(labels[t-1], labels[t], counts.At(labels[t-1], labels[t])+1)
		}
		for i := 0; i < N; i++ {
			errors.Normalize(counts.RawRowView(i))
		}
		h.transmat = counts
	}
}

func equalPaths(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
