// Package pendulum implements the pendulum classic control environment
package pendulum

import (
	"fmt"
	"math"

	env "github.com/samuelfneumann/goppo/environment"
	ts "github.com/samuelfneumann/goppo/timestep"
	"github.com/samuelfneumann/goppo/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// default physical constants
const (
	AngleBound  float64 = math.Pi // +/- Angle bounds
	SpeedBound  float64 = 8.0     // +/- Speed bounds
	TorqueBound float64 = 2.0     // +/- Torque bounds

	MaxContinuousAction float64 = TorqueBound
	MinContinuousAction float64 = -MaxContinuousAction

	Dt              float64 = 0.05
	Gravity         float64 = 9.8
	Mass            float64 = 1.0
	Length          float64 = 1.0
	ActionDims      int     = 1
	ObservationDims int     = 2
)

// Continuous implements the classic control environment Pendulum. In
// this environment, a pendulum is attached to a fixed base. An agent
// can swing the pendulum back and forth, but the torque it can apply
// is underpowered. In order to swing the pendulum straight up, it must
// first be rocked back and forth, using the momentum to gradually
// climb higher.
//
// State features consist of the angle of the pendulum from the
// positive y-axis and its angular velocity. The angular velocity is
// clipped to [-SpeedBound, SpeedBound] and angles are normalized to
// stay within [-π, π].
//
// Actions are continuous and 1-dimensional, giving the torque applied
// at the fixed base. Actions outside [MinContinuousAction,
// MaxContinuousAction] are clipped.
type Continuous struct {
	env.Task
	lastStep     ts.TimeStep
	discount     float64
	angleBounds  r1.Interval
	speedBounds  r1.Interval
	torqueBounds r1.Interval
}

// NewContinuous creates and returns a new Continuous environment
func NewContinuous(t env.Task, discount float64) (*Continuous,
	ts.TimeStep) {
	p := &Continuous{
		Task:         t,
		discount:     discount,
		angleBounds:  r1.Interval{Min: -AngleBound, Max: AngleBound},
		speedBounds:  r1.Interval{Min: -SpeedBound, Max: SpeedBound},
		torqueBounds: r1.Interval{Min: -TorqueBound, Max: TorqueBound},
	}
	return p, p.Reset()
}

// Reset resets the environment and returns a starting state drawn
// from the Starter
func (p *Continuous) Reset() ts.TimeStep {
	state := p.Start()
	p.validateState(state)

	p.lastStep = ts.New(ts.First, 0, p.discount, state, 0)
	return p.lastStep
}

// Step takes one environmental step given action a and returns the
// next timestep and a bool indicating whether or not the episode has
// ended
func (p *Continuous) Step(a *mat.VecDense) (ts.TimeStep, bool) {
	if a.Len() != ActionDims {
		panic("actions should be 1-dimensional")
	}
	torque := floatutils.ClipInterval(a.AtVec(0), p.torqueBounds)

	obs := p.lastStep.Observation
	th, thdot := obs.AtVec(0), obs.AtVec(1)

	newthdot := thdot + (-3*Gravity/(2*Length)*math.Sin(th+math.Pi)+
		3.0/(Mass*Length*Length)*torque)*Dt
	newthdot = floatutils.ClipInterval(newthdot, p.speedBounds)
	newth := normalizeAngle(th+newthdot*Dt, p.angleBounds)

	nextState := mat.NewVecDense(ObservationDims, []float64{newth, newthdot})
	reward := p.GetReward(obs, a, nextState)
	nextStep := ts.New(ts.Mid, reward, p.discount, nextState,
		p.lastStep.Number+1)

	p.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, nextStep.Last()
}

// ActionSpec returns the action specification of the environment
func (p *Continuous) ActionSpec() env.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lowerBound := mat.NewVecDense(ActionDims, []float64{p.torqueBounds.Min})
	upperBound := mat.NewVecDense(ActionDims, []float64{p.torqueBounds.Max})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// DiscountSpec returns the discount specification of the environment
func (p *Continuous) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{p.discount})
	upperBound := mat.NewVecDense(1, []float64{p.discount})

	return env.NewSpec(shape, env.Discount, lowerBound, upperBound,
		env.Continuous)
}

// ObservationSpec returns the observation specification of the
// environment
func (p *Continuous) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)

	minObs := []float64{p.angleBounds.Min, p.speedBounds.Min}
	lowerBound := mat.NewVecDense(ObservationDims, minObs)

	maxObs := []float64{p.angleBounds.Max, p.speedBounds.Max}
	upperBound := mat.NewVecDense(ObservationDims, maxObs)

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

func (p *Continuous) String() string {
	str := "Pendulum  |  theta: %v  |  theta dot: %v"
	theta := p.lastStep.Observation.AtVec(0)
	thetadot := p.lastStep.Observation.AtVec(1)

	return fmt.Sprintf(str, theta, thetadot)
}

// normalizeAngle wraps the pendulum angle into angleBounds
func normalizeAngle(th float64, angleBounds r1.Interval) float64 {
	width := angleBounds.Max - angleBounds.Min
	for th > angleBounds.Max {
		th -= width
	}
	for th < angleBounds.Min {
		th += width
	}
	return th
}

// validateState ensures that the angle and angular velocity are within
// the environmental limits
func (p *Continuous) validateState(obs mat.Vector) {
	if obs.Len() != ObservationDims {
		panic(fmt.Sprintf("state must have %v features, have %v",
			ObservationDims, obs.Len()))
	}
	if th := obs.AtVec(0); th < p.angleBounds.Min || th > p.angleBounds.Max {
		panic(fmt.Sprintf("theta is not within bounds %v", p.angleBounds))
	}
	if thdot := obs.AtVec(1); thdot < p.speedBounds.Min ||
		thdot > p.speedBounds.Max {
		panic(fmt.Sprintf("theta dot is not within bounds %v",
			p.speedBounds))
	}
}
