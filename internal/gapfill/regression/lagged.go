package regression

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Direction selects which side of a target index the lag window is taken
// from. Backward uses the previous Window values, Forward the next Window.
type Direction int

const (
	Backward Direction = iota
	Forward
)

// ErrTooFewRows is returned when a pipeline has fewer usable training rows
// than coefficients to estimate.
var ErrTooFewRows = errors.New("regression: not enough training rows")

// LaggedModel is one lagged-feature transform feeding a linear model with
// optional L2 regularization. Lambda 0 gives plain least squares.
type LaggedModel struct {
	Window int
	Lambda float64
	Dir    Direction

	beta *mat.VecDense
}

// NewLaggedRidge builds a backward-looking ridge pipeline.
func NewLaggedRidge(window int, lambda float64) *LaggedModel {
	return &LaggedModel{Window: window, Lambda: lambda, Dir: Backward}
}

// NewLaggedLinear builds an unregularized linear learner in the given
// direction; used as a stage of the composite pipeline.
func NewLaggedLinear(window int, dir Direction) *LaggedModel {
	return &LaggedModel{Window: window, Lambda: 0, Dir: dir}
}

// features fills row with the lag window for target index t, returning false
// when the window runs past either end of values.
func (m *LaggedModel) features(values []float64, t int, row []float64) bool {
	switch m.Dir {
	case Forward:
		if t+m.Window >= len(values) {
			return false
		}
		for k := 0; k < m.Window; k++ {
			row[k] = values[t+1+k]
		}
	default:
		if t-m.Window < 0 {
			return false
		}
		for k := 0; k < m.Window; k++ {
			row[k] = values[t-1-k]
		}
	}
	return true
}

// Fit estimates coefficients from every index whose lag window is in range
// and whose trainMask entry is true. values must already be free of NaN/Inf;
// gap positions are excluded through trainMask, not through sentinel values.
func (m *LaggedModel) Fit(values []float64, trainMask []bool) error {
	if m.Window <= 0 {
		return fmt.Errorf("regression: invalid window %d", m.Window)
	}
	if len(values) != len(trainMask) {
		return fmt.Errorf("regression: mask length %d != values length %d", len(trainMask), len(values))
	}

	p := m.Window + 1 // intercept first
	var rows []float64
	var targets []float64
	row := make([]float64, m.Window)
	for t := range values {
		if !trainMask[t] {
			continue
		}
		if !m.features(values, t, row) {
			continue
		}
		rows = append(rows, 1)
		rows = append(rows, row...)
		targets = append(targets, values[t])
	}
	n := len(targets)
	if n < p {
		return fmt.Errorf("%w: %d rows for %d coefficients", ErrTooFewRows, n, p)
	}

	X := mat.NewDense(n, p, rows)
	y := mat.NewVecDense(n, targets)
	beta, err := solveRidge(X, y, m.Lambda)
	if err != nil {
		return fmt.Errorf("regression: solve: %w", err)
	}
	m.beta = beta
	return nil
}

// Predict returns the model output at index t. ok is false when the lag
// window is out of range or the model has not been fitted.
func (m *LaggedModel) Predict(values []float64, t int) (pred float64, ok bool) {
	if m.beta == nil {
		return 0, false
	}
	row := make([]float64, m.Window)
	if !m.features(values, t, row) {
		return 0, false
	}
	pred = m.beta.AtVec(0)
	for k := 0; k < m.Window; k++ {
		pred += m.beta.AtVec(k+1) * row[k]
	}
	return pred, true
}

// solveRidge solves (XᵀX + λI)β = Xᵀy, leaving the intercept column
// unpenalized.
func solveRidge(X *mat.Dense, y *mat.VecDense, lambda float64) (*mat.VecDense, error) {
	_, p := X.Dims()

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	if lambda > 0 {
		for j := 1; j < p; j++ {
			xtx.Set(j, j, xtx.At(j, j)+lambda)
		}
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, err
	}
	return &beta, nil
}
