package regression

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Composite stacks two independent linear learners, one over the backward
// lag window and one over the forward window, into a final ridge combiner.
type Composite struct {
	Window int
	Lambda float64

	back     *LaggedModel
	forward  *LaggedModel
	combiner *mat.VecDense
}

// NewComposite builds an unfitted composite pipeline. Lambda applies to the
// combiner stage only; the stage learners are plain least squares.
func NewComposite(window int, lambda float64) *Composite {
	return &Composite{
		Window:  window,
		Lambda:  lambda,
		back:    NewLaggedLinear(window, Backward),
		forward: NewLaggedLinear(window, Forward),
	}
}

// Fit trains both stage learners and then the combiner on the rows where
// both stages can produce a prediction.
func (c *Composite) Fit(values []float64, trainMask []bool) error {
	if err := c.back.Fit(values, trainMask); err != nil {
		return fmt.Errorf("regression: composite backward stage: %w", err)
	}
	if err := c.forward.Fit(values, trainMask); err != nil {
		return fmt.Errorf("regression: composite forward stage: %w", err)
	}

	var rows []float64
	var targets []float64
	for t := range values {
		if !trainMask[t] {
			continue
		}
		pb, okB := c.back.Predict(values, t)
		pf, okF := c.forward.Predict(values, t)
		if !okB || !okF {
			continue
		}
		rows = append(rows, 1, pb, pf)
		targets = append(targets, values[t])
	}
	n := len(targets)
	if n < 3 {
		return fmt.Errorf("%w: %d stacked rows", ErrTooFewRows, n)
	}

	X := mat.NewDense(n, 3, rows)
	y := mat.NewVecDense(n, targets)
	beta, err := solveRidge(X, y, c.Lambda)
	if err != nil {
		return fmt.Errorf("regression: composite combiner: %w", err)
	}
	c.combiner = beta
	return nil
}

// Predict combines the two stage outputs at index t. When only one stage has
// a usable window the combiner cannot run; the available stage output is
// returned directly so edge positions still get a fill.
func (c *Composite) Predict(values []float64, t int) (pred float64, ok bool) {
	if c.combiner == nil {
		return 0, false
	}
	pb, okB := c.back.Predict(values, t)
	pf, okF := c.forward.Predict(values, t)
	switch {
	case okB && okF:
		return c.combiner.AtVec(0) + c.combiner.AtVec(1)*pb + c.combiner.AtVec(2)*pf, true
	case okB:
		return pb, true
	case okF:
		return pf, true
	default:
		return 0, false
	}
}
