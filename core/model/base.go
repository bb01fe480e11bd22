package model

import "github.com/YuminosukeSato/scihmm/pkg/errors"

// EstimatorState はモデルの学習状態を表す
type EstimatorState int

const (
	// NotFitted はモデルが未学習の状態
	NotFitted EstimatorState = iota
	// Initialized はパラメータが初期化済みで、まだ学習していない状態
	Initialized
	// Fitted はモデルが学習済みの状態
	Fitted
)

// String は状態名を返す
func (s EstimatorState) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Fitted:
		return "fitted"
	default:
		return "not_fitted"
	}
}

// BaseEstimator は全てのモデルの基底となる構造体
type BaseEstimator struct {
	state EstimatorState
}

// State は現在の状態を返す
func (e *BaseEstimator) State() EstimatorState {
	return e.state
}

// IsFitted はモデルが学習済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.state == Fitted
}

// IsInitialized はパラメータが使用可能か（初期化済みまたは学習済み）を返す
func (e *BaseEstimator) IsInitialized() bool {
	return e.state >= Initialized
}

// SetInitialized はモデルを初期化済み状態に設定する
func (e *BaseEstimator) SetInitialized() {
	e.state = Initialized
}

// SetFitted はモデルを学習済み状態に設定する
func (e *BaseEstimator) SetFitted() {
	e.state = Fitted
}

// Reset はモデルを初期状態にリセットする
func (e *BaseEstimator) Reset() {
	e.state = NotFitted
}

// RequireInitialized はパラメータが未初期化の場合に NotFittedError を返す
func (e *BaseEstimator) RequireInitialized(modelName, method string) error {
	if !e.IsInitialized() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}
