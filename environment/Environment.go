// Package environment outlines the interfaces and structs needed to
// implement concrete environments, and a Vector environment which
// runs many environments in lock step as the agents of a trainer.
package environment

import (
	ts "github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when episodes end
type Ender interface {
	// End checks whether t is the last step of its episode. If so, End
	// marks t as such with the appropriate end type and returns true.
	End(t *ts.TimeStep) bool
}

// Task implements the reward scheme and episode ends for taking
// actions in some environment
type Task interface {
	Starter
	Ender
	GetReward(state, action, nextState mat.Vector) float64
	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task

	// Reset starts a new episode and returns its first step
	Reset() ts.TimeStep

	// Step takes one step with action a and returns the next step and
	// whether it ended the episode
	Step(a *mat.VecDense) (ts.TimeStep, bool)

	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
