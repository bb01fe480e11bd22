package mixture

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scihmm/core/linalg"
	"github.com/YuminosukeSato/scihmm/core/mvn"
	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

// CovarianceType は共分散行列の制約
type CovarianceType int

const (
	// FullCovariance は制約なしの対称正定値行列
	FullCovariance CovarianceType = iota
	// DiagonalCovariance は対角行列
	DiagonalCovariance
)

// String は共分散タイプ名を返す
func (c CovarianceType) String() string {
	if c == DiagonalCovariance {
		return "diag"
	}
	return "full"
}

// ParseCovarianceType は "full" / "diag" を解析する
func ParseCovarianceType(s string) (CovarianceType, error) {
	switch s {
	case "full":
		return FullCovariance, nil
	case "diag", "diagonal":
		return DiagonalCovariance, nil
	}
	return FullCovariance, errors.NewValidationError("covariance_type", "must be full or diag", s)
}

// Covariance は1成分の共分散行列と、そこから導出される逆行列・Cholesky因子・
// 対数行列式を保持する。各成分が排他的に所有し、成分間で共有しない。
//
// Matrix を変更した後は Update を呼ぶまで導出値は古いままである。
type Covariance struct {
	Matrix   *mat.SymDense
	Diagonal bool

	inv      *mat.SymDense
	chol     *mat.TriDense
	logDet   float64
	factored bool
}

// NewCovariance は d×d の単位行列で初期化された共分散を返す
func NewCovariance(d int, diagonal bool) *Covariance {
	m := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		m.SetSym(i, i, 1)
	}
	c := &Covariance{Matrix: m, Diagonal: diagonal}
	// 単位行列は必ず分解できる
	_ = c.Update()
	return c
}

// Set は m をコピーする。対角型では非対角要素を捨てる。
func (c *Covariance) Set(m mat.Symmetric) {
	d := m.SymmetricDim()
	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			if c.Diagonal && i != j {
				continue
			}
			out.SetSym(i, j, m.At(i, j))
		}
	}
	c.Matrix = out
	c.factored = false
}

// Update はCholesky分解を行い逆行列と対数行列式を再計算する。
// 正定値でない場合は SingularMatrixError を返し、導出値は更新しない。
func (c *Covariance) Update() error {
	d := c.Matrix.SymmetricDim()
	if c.Diagonal {
		inv := mat.NewSymDense(d, nil)
		chol := mat.NewTriDense(d, mat.Upper, nil)
		logDet := 0.0
		for i := 0; i < d; i++ {
			v := c.Matrix.At(i, i)
			if !(v > 0) || math.IsInf(v, 1) {
				c.factored = false
				return errors.NewSingularMatrixError("Covariance.Update", -1)
			}
			inv.SetSym(i, i, 1/v)
			chol.SetTri(i, i, math.Sqrt(v))
			logDet += math.Log(v)
		}
		c.inv, c.chol, c.logDet, c.factored = inv, chol, logDet, true
		return nil
	}

	chol, err := linalg.Factorize(c.Matrix)
	if err != nil {
		c.factored = false
		return err
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		c.factored = false
		return errors.NewSingularMatrixError("Covariance.Update", -1)
	}
	var u mat.TriDense
	chol.UTo(&u)
	c.inv, c.chol, c.logDet, c.factored = &inv, &u, chol.LogDet(), true
	return nil
}

// Factored は導出値が Matrix と一致しているかを返す
func (c *Covariance) Factored() bool { return c.factored }

// Inverse は Σ⁻¹ を返す
func (c *Covariance) Inverse() *mat.SymDense { return c.inv }

// Cholesky は UᵀU = Σ を満たす上三角行列 U を返す
func (c *Covariance) Cholesky() *mat.TriDense { return c.chol }

// LogDet は log|Σ| を返す
func (c *Covariance) LogDet() float64 { return c.logDet }

// LogProb は x の N(mean, Σ) における対数密度を返す
func (c *Covariance) LogProb(x, mean []float64) float64 {
	return mvn.LogEvaluate(x, mean, c.inv, c.logDet, c.Diagonal)
}

// LogProbBatch は X の各行の対数密度を dst に書き込む
func (c *Covariance) LogProbBatch(X mat.Matrix, mean []float64, dst []float64) []float64 {
	return mvn.LogEvaluateBatch(X, mean, c.inv, c.logDet, c.Diagonal, dst)
}

// Clone はディープコピーを返す
func (c *Covariance) Clone() *Covariance {
	out := &Covariance{
		Matrix:   mat.NewSymDense(c.Matrix.SymmetricDim(), nil),
		Diagonal: c.Diagonal,
		logDet:   c.logDet,
		factored: c.factored,
	}
	out.Matrix.CopySym(c.Matrix)
	if c.inv != nil {
		out.inv = mat.NewSymDense(c.inv.SymmetricDim(), nil)
		out.inv.CopySym(c.inv)
	}
	if c.chol != nil {
		n, _ := c.chol.Triangle()
		out.chol = mat.NewTriDense(n, mat.Upper, nil)
		out.chol.Copy(c.chol)
	}
	return out
}
