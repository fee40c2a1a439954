// Package cartpole implements the Cartpole classic control environment
package cartpole

import (
	"fmt"
	"math"

	env "github.com/samuelfneumann/goppo/environment"
	ts "github.com/samuelfneumann/goppo/timestep"
	"github.com/samuelfneumann/goppo/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Bounds (+/-) on state variables
	PositionBounds        float64 = 4.8
	SpeedBounds           float64 = math.MaxFloat64
	AngleBounds           float64 = math.Pi
	AngularVelocityBounds float64 = math.MaxFloat64

	ObservationDims int = 4
	ActionDims      int = 1

	// Discrete Actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 2

	// Continuous Actions
	MinContinuousAction float64 = -1.0
	MaxContinuousAction float64 = 1.0
)

// base implements the dynamics shared by the discrete and continuous
// action Cartpole environments
type base struct {
	env.Task
	lastStep              ts.TimeStep
	discount              float64
	positionBounds        r1.Interval
	speedBounds           r1.Interval
	angleBounds           r1.Interval
	angularVelocityBounds r1.Interval
}

func newBase(t env.Task, discount float64) (*base, ts.TimeStep) {
	c := &base{
		Task:                  t,
		discount:              discount,
		positionBounds:        r1.Interval{Min: -PositionBounds, Max: PositionBounds},
		speedBounds:           r1.Interval{Min: -SpeedBounds, Max: SpeedBounds},
		angleBounds:           r1.Interval{Min: -AngleBounds, Max: AngleBounds},
		angularVelocityBounds: r1.Interval{Min: -AngularVelocityBounds, Max: AngularVelocityBounds},
	}
	return c, c.Reset()
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (c *base) Reset() ts.TimeStep {
	state := c.Start()
	c.validateState(state)

	startStep := ts.New(ts.First, 0, c.discount, state, 0)
	c.lastStep = startStep

	return startStep
}

// ObservationSpec returns the observation specification of the
// environment
func (c *base) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)

	lower := []float64{c.positionBounds.Min, c.speedBounds.Min,
		c.angleBounds.Min, c.angularVelocityBounds.Min}
	lowerBound := mat.NewVecDense(ObservationDims, lower)

	upper := []float64{c.positionBounds.Max, c.speedBounds.Max,
		c.angleBounds.Max, c.angularVelocityBounds.Max}
	upperBound := mat.NewVecDense(ObservationDims, upper)

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

// DiscountSpec returns the discounting specification of the environment
func (c *base) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{c.discount})
	upperBound := mat.NewVecDense(1, []float64{c.discount})

	return env.NewSpec(shape, env.Discount, lowerBound, upperBound,
		env.Continuous)
}

// nextState computes the state after applying force in the direction
// and magnitude given by direction, in [-1, 1]
func (c *base) nextState(direction float64) *mat.VecDense {
	state := c.lastStep.Observation
	x, xDot := state.AtVec(0), state.AtVec(1)
	th, thDot := state.AtVec(2), state.AtVec(3)

	force := direction * ForceMag

	cosTheta := math.Cos(th)
	sinTheta := math.Sin(th)

	poleMassLength := PoleMass * HalfPoleLength

	temp := (force + poleMassLength*thDot*thDot*sinTheta) / TotalMass
	thAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - poleMassLength*thAcc*cosTheta/TotalMass

	// Euler kinematic integration
	x += Dt * xDot
	xDot += Dt * xAcc
	th += Dt * thDot
	thDot += Dt * thAcc

	// The cart stops at the edges of the track
	if x < c.positionBounds.Min || x > c.positionBounds.Max {
		xDot = 0
	}
	x = floatutils.ClipInterval(x, c.positionBounds)
	xDot = floatutils.ClipInterval(xDot, c.speedBounds)
	th = normalizeAngle(th, c.angleBounds)
	thDot = floatutils.ClipInterval(thDot, c.angularVelocityBounds)

	return mat.NewVecDense(ObservationDims, []float64{x, xDot, th, thDot})
}

// update moves the environment to nextState after taking action a,
// returning the new step and whether it ends the episode
func (c *base) update(a mat.Vector, nextState *mat.VecDense) (ts.TimeStep,
	bool) {
	reward := c.GetReward(c.lastStep.Observation, a, nextState)
	nextStep := ts.New(ts.Mid, reward, c.discount, nextState,
		c.lastStep.Number+1)

	c.End(&nextStep)

	c.lastStep = nextStep
	return nextStep, nextStep.Last()
}

// validateState ensures that a state observation is valid and between
// the physical bounds of the Cartpole environment
func (c *base) validateState(obs mat.Vector) {
	if obs.Len() != ObservationDims {
		panic(fmt.Sprintf("state must have %v features, have %v",
			ObservationDims, obs.Len()))
	}
	bounds := []r1.Interval{c.positionBounds, c.speedBounds, c.angleBounds,
		c.angularVelocityBounds}
	names := []string{"position", "speed", "angle", "angular velocity"}
	for i, b := range bounds {
		if v := obs.AtVec(i); v < b.Min || v > b.Max {
			panic(fmt.Sprintf("%v %v is not within bounds %v", names[i],
				v, b))
		}
	}
}

func (c *base) String() string {
	msg := "Cartpole  |  Position: %v  | Speed: %v  |  Angle: %v" +
		"  |  Angular Velocity: %v"

	state := c.lastStep.Observation
	position, speed := state.AtVec(0), state.AtVec(1)
	angle, velocity := state.AtVec(2), state.AtVec(3)

	return fmt.Sprintf(msg, position, speed, angle, velocity)
}

// normalizeAngle wraps the pole angle into the angle bounds, which must
// be centred around 0
func normalizeAngle(th float64, angleBounds r1.Interval) float64 {
	if angleBounds.Max != -angleBounds.Min {
		panic("angle bounds should be centered around 0")
	}

	width := angleBounds.Max - angleBounds.Min
	for th > angleBounds.Max {
		th -= width
	}
	for th < angleBounds.Min {
		th += width
	}
	return th
}
