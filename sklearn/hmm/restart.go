package hmm

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/YuminosukeSato/scihmm/pkg/log"
)

// Factory は i 番目の再起動用に独立した候補モデルを作成する
type Factory func(i int) (*GMMHMM, error)

// FitBest は restarts 個の独立した候補を X で並行に学習し、対数尤度が最大の
// モデルを返す。
//
// SingularMatrix で失敗した候補は捨てる。それ以外のエラー（factory の panic を
// 含む）は残りの処理を取り消す。各候補は自身のパラメータと乱数源を持ち、
// X は読み取りのみ行う。
func FitBest(ctx context.Context, X mat.Matrix, restarts int, factory Factory) (*GMMHMM, error) {
	if restarts <= 0 {
		return nil, errors.NewValidationError("restarts", "must be positive", restarts)
	}

	type candidate struct {
		model *GMMHMM
		ll    float64
		err   error
	}
	results := make([]candidate, restarts)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < restarts; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.SafeExecute("hmm.FitBest", func() error {
				m, err := factory(i)
				if err != nil {
					return err
				}
				if err := m.Fit(X); err != nil {
					if errors.Is(err, errors.ErrSingularMatrix) {
						results[i].err = err
						return nil
					}
					return err
				}
				ll, err := m.Score(X)
				if err != nil {
					return err
				}
				results[i] = candidate{model: m, ll: ll}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := -1
	bestLL := math.Inf(-1)
	var lastErr error
	for i, r := range results {
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if r.model != nil && r.ll > bestLL {
			best, bestLL = i, r.ll
		}
	}
	if best < 0 {
		if lastErr == nil {
			lastErr = errors.New("no candidate produced a finite log-likelihood")
		}
		return nil, errors.Wrap(lastErr, "hmm.FitBest: every restart failed")
	}

	winner := results[best].model
	winner.logger.Info("restart selected",
		log.OperationKey, log.OperationFit,
		log.IterationKey, best,
		log.LogLikelihoodKey, bestLL,
	)
	return winner, nil
}
