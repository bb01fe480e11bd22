// Package scihmm provides Gaussian mixture models and continuous-observation
// hidden Markov models for Go, with a scikit-learn-like API built on gonum.
//
// # Features
//
// - GaussianMixture: full or diagonal covariances, soft or hard EM, frozen parameters
// - GMMHMM: scaled forward/backward, Viterbi decoding, Baum-Welch training
// - Segmental k-means initialisation and parallel random restarts
// - Structured errors: SingularMatrix, InvalidArgument and NotFitted are distinguishable with errors.Is/As
// - Compressed persistence (zstd, lz4) of flat parameter snapshots
//
// # Installation
//
//	go get github.com/YuminosukeSato/scihmm
//
// # Quick Start
//
// Fitting a two-state HMM to an observation sequence (one row per time step):
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/scihmm/sklearn/hmm"
//	)
//
//	func main() {
//	    X := loadSequence() // T×D *mat.Dense
//
//	    model, err := hmm.New(2, 1, X.RawMatrix().Cols, hmm.WithRandomState(42))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := model.Fit(X); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    path, _ := model.Predict(X)
//	    ll, _ := model.Score(X)
//	    fmt.Println("log-likelihood:", ll, "states:", path)
//	}
//
// # Packages
//
//   - sklearn/hmm: GMMHMM, SegmentalKMeansInit, Generate, Compare, FitBest
//   - sklearn/mixture: GaussianMixture and its covariance objects
//   - sklearn/cluster: KMeans used for initialisation
//   - core/linalg: Cholesky, determinant and inverse with SingularMatrix reporting
//   - core/mvn: multivariate normal densities, single and batched
//   - core/model: estimator state, ModelWeights snapshots, persistence
//   - core/parallel: row-range fan-out
//   - preprocessing: StandardScaler, MinMaxScaler
//   - metrics: state accuracy under label permutation, matrix errors
//   - viz: training-curve and state-path plots
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Singular covariances
//
// A covariance update that cannot be factorised aborts training with
// errors.ErrSingularMatrix and leaves the model uninitialised. Models never
// retry on their own; add a ridge with WithRegularization or re-randomize and
// train again (hmm.FitBest does the latter across restarts).
//
// # License
//
// scihmm is released under the MIT License.
package scihmm
