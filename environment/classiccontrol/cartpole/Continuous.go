package cartpole

import (
	env "github.com/samuelfneumann/goppo/environment"
	ts "github.com/samuelfneumann/goppo/timestep"
	"github.com/samuelfneumann/goppo/utils/floatutils"
	"gonum.org/v1/gonum/mat"
)

// Continuous implements the classic control environment Cartpole with
// continuous actions. The dynamics are those of Discrete. Actions are
// 1-dimensional, giving the direction and magnitude of the force
// applied to the cart as a fraction of ForceMag. Actions are clipped
// to [-1, 1].
type Continuous struct {
	*base
}

// NewContinuous constructs a new Cartpole environment with continuous
// actions
func NewContinuous(t env.Task, discount float64) (*Continuous, ts.TimeStep) {
	base, firstStep := newBase(t, discount)
	return &Continuous{base}, firstStep
}

// ActionSpec returns the action specification of the environment
func (c *Continuous) ActionSpec() env.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lowerBound := mat.NewVecDense(ActionDims,
		[]float64{MinContinuousAction})
	upperBound := mat.NewVecDense(ActionDims,
		[]float64{MaxContinuousAction})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// Step takes one environmental step given action a and returns the
// next timestep and a bool indicating whether or not the episode has
// ended
func (c *Continuous) Step(a *mat.VecDense) (ts.TimeStep, bool) {
	if a.Len() != ActionDims {
		panic("actions should be 1-dimensional")
	}

	direction := floatutils.Clip(a.AtVec(0), MinContinuousAction,
		MaxContinuousAction)

	return c.update(a, c.nextState(direction))
}
