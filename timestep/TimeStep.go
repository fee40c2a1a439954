// Package timestep implements the per-agent record of one step of
// agent-environment interaction.
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes where in an episode a TimeStep falls: the first
// step after a reset, a middle step, or the last step of an episode.
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType denotes why an episode ended. A Terminal end is a real end
// of the return, while a Truncated end happens when the step limit
// of the episode runs out and the return must be bootstrapped.
type EndType int

const (
	NotEnded EndType = iota
	Terminal
	Truncated
)

func (e EndType) String() string {
	switch e {
	case Terminal:
		return "Terminal"
	case Truncated:
		return "Truncated"
	default:
		return "NotEnded"
	}
}

// TimeStep packages together a single timestep in an environment.
// Visual holds zero or more flattened fixed-shape visual frames which
// accompany the vector Observation.
type TimeStep struct {
	stepType    StepType
	endType     EndType
	Reward      float64
	Discount    float64
	Observation mat.Vector
	Visual      []mat.Vector
	Number      int
}

// New returns a new TimeStep. Steps of type Last are considered
// Terminal; use SetEnd to mark a truncation.
func New(t StepType, r, d float64, o mat.Vector, n int) TimeStep {
	end := NotEnded
	if t == Last {
		end = Terminal
	}
	return TimeStep{stepType: t, endType: end, Reward: r, Discount: d,
		Observation: o, Number: n}
}

// SetEnd marks the TimeStep as the last step of its episode, ending
// for the reason e. Passing NotEnded turns the step back into a
// middle step.
func (t *TimeStep) SetEnd(e EndType) {
	t.endType = e
	if e == NotEnded {
		t.stepType = Mid
		return
	}
	t.stepType = Last
}

// StepType returns the type of the TimeStep
func (t *TimeStep) StepType() StepType {
	return t.stepType
}

// EndType returns the reason the episode ended, or NotEnded
func (t *TimeStep) EndType() EndType {
	return t.endType
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

// TerminalEnd returns whether the episode ended in a true terminal
// state, in which case the value of the final state is 0.
func (t *TimeStep) TerminalEnd() bool {
	return t.stepType == Last && t.endType == Terminal
}

// Truncated returns whether the episode was cut off by its step
// limit.
func (t *TimeStep) Truncated() bool {
	return t.stepType == Last && t.endType == Truncated
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  End: %v  |  Reward:  %.2f  |  " +
		"Discount: %.2f  |  Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.endType, t.Reward, t.Discount,
		t.Number)
}
