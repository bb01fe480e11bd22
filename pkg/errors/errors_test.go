package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "GaussianMixture.Train",
			kind:     "covariance update failed",
			err:      fmt.Errorf("test error"),
			wantMsg:  "scihmm: GaussianMixture.Train: covariance update failed: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "GMMHMM.Viterbi",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "scihmm: GMMHMM.Viterbi: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("GMMHMM.Forward", 3, 2, 1)

	want := "scihmm: GMMHMM.Forward: dimension mismatch on axis 1 (features). Expected 3, got 2"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}

	// 次元エラーは InvalidArgument に分類される
	if !Is(err, ErrInvalidArgument) {
		t.Error("DimensionError should match ErrInvalidArgument")
	}
	if Is(err, ErrSingularMatrix) {
		t.Error("DimensionError should not match ErrSingularMatrix")
	}
}

func TestNewValidationErrorIsInvalidArgument(t *testing.T) {
	err := NewValidationError("n_clusters", "must not exceed the number of distinct points", 5)

	if !Is(err, ErrInvalidArgument) {
		t.Error("ValidationError should match ErrInvalidArgument")
	}
	if !strings.Contains(err.Error(), "n_clusters") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestNewSingularMatrixError(t *testing.T) {
	err := NewSingularMatrixError("GaussianMixture.UpdateCovariance", 1)

	if !Is(err, ErrSingularMatrix) {
		t.Fatal("SingularMatrixError should match ErrSingularMatrix")
	}
	want := "scihmm: GaussianMixture.UpdateCovariance: singular matrix (component 1)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	// 状態インデックスを付与しても ErrSingularMatrix のまま
	withState := WithState(Wrap(err, "M-step"), "GMMHMM.Train", 2)
	var sme *SingularMatrixError
	if !As(withState, &sme) {
		t.Fatal("expected *SingularMatrixError")
	}
	if sme.State != 2 || sme.Component != 1 {
		t.Errorf("got state=%d component=%d, want 2/1", sme.State, sme.Component)
	}
	if !Is(withState, ErrSingularMatrix) {
		t.Error("WithState result should still match ErrSingularMatrix")
	}

	// SingularMatrixErrorを含まないエラーはそのまま返す
	plain := New("boom")
	if WithState(plain, "op", 0) != plain {
		t.Error("WithState should pass through unrelated errors")
	}
}

func TestNewConvergenceWarning(t *testing.T) {
	warn := NewConvergenceWarning("BaumWelch", 20, "relative log-likelihood change 1.2e-02 above tol")

	want := "BaumWelch failed to converge after 20 iterations: relative log-likelihood change 1.2e-02 above tol"
	if warn.Error() != want {
		t.Errorf("Error() = %v, want %v", warn.Error(), want)
	}

	var convWarn *ConvergenceWarning
	if !As(warn, &convWarn) {
		t.Error("Warning should be castable to *ConvergenceWarning")
	}
}

func TestWarnRoutesToHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewConvergenceWarning("EM", 3, ""))
	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrSingularMatrix, "in GMMHMM.Compare")

	if !Is(wrapped, ErrSingularMatrix) {
		t.Error("Expected Is(wrapped, ErrSingularMatrix) to be true")
	}
	if !strings.Contains(wrapped.Error(), "in GMMHMM.Compare") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Forward", 10, 0)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	expectedMsg := "in Forward: expected 10, got 0"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestNumericalHelpers(t *testing.T) {
	if err := CheckScalar("loglik", math.NaN(), 3); err == nil {
		t.Error("CheckScalar should reject NaN")
	}
	if err := CheckNumericalStability("alpha", []float64{0.1, 0.9}, 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	alpha := mat.NewDense(2, 2, []float64{0.5, 0.5, math.NaN(), 1})
	err := CheckMatrix("alpha", alpha, 2, 2, 7)
	var ni *NumericalInstabilityError
	if !As(err, &ni) {
		t.Fatalf("CheckMatrix should report NumericalInstabilityError, got %v", err)
	}
	if err := CheckMatrix("alpha", mat.NewDense(1, 2, []float64{0.5, 0.5}), 1, 2, 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	p := []float64{1, 3}
	if sum := Normalize(p); sum != 4 || p[0] != 0.25 || p[1] != 0.75 {
		t.Errorf("Normalize = %v (sum %v)", p, sum)
	}
	zero := []float64{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("Normalize should leave zero vectors untouched")
	}
}
