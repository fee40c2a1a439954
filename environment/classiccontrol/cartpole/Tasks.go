package cartpole

import (
	"math"

	env "github.com/samuelfneumann/goppo/environment"
	ts "github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	FailAngle    float64 = 12 * 2 * math.Pi / 360
	FailPosition float64 = 2.4

	// StartBounds bounds (+/-) every feature of the default starting
	// states
	StartBounds float64 = 0.05
)

// Balance implements the classic control Cartpole Balance task. In
// this Task, the goal of the agent is to balance the pole on the cart
// in an upright position for as long as possible.
//
// The reward is +1 for every timestep on which the pole stays within
// the fail angle θ of upright, and -1 otherwise.
//
// Episodes end with a terminal step once the pole falls beyond θ or
// the cart moves further than FailPosition from the centre. Episodes
// are truncated after a step limit.
type Balance struct {
	env.Starter
	stepLimiter  *env.StepLimit
	angleLimiter *env.IntervalLimit
	failAngle    float64
}

// NewBalance creates and returns a new Balance task
func NewBalance(s env.Starter, episodeSteps int, failAngle float64) *Balance {
	stepLimiter := env.NewStepLimit(episodeSteps)

	legalStates := []r1.Interval{
		{Min: -FailPosition, Max: FailPosition},
		{Min: -failAngle, Max: failAngle},
	}
	angleLimiter := env.NewIntervalLimit(legalStates, []int{0, 2},
		ts.Terminal)

	return &Balance{s, stepLimiter, angleLimiter, failAngle}
}

// NewDefaultStarter returns a Starter which samples every feature of
// the starting state uniformly from [-StartBounds, StartBounds]
func NewDefaultStarter(seed uint64) env.UniformStarter {
	bounds := make([]r1.Interval, ObservationDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -StartBounds, Max: StartBounds}
	}
	return env.NewUniformStarter(bounds, seed)
}

// End checks if a TimeStep is the last in an episode. If so, it marks
// the TimeStep as the last with the appropriate end type and returns
// true. Otherwise, the function does not adjust the TimeStep and
// returns false. A failure takes precedence over the step limit.
func (b *Balance) End(t *ts.TimeStep) bool {
	if end := b.angleLimiter.End(t); end {
		return true
	}
	if end := b.stepLimiter.End(t); end {
		return true
	}
	return false
}

// GetReward returns the reward for an action taken in some state,
// resulting in a transition to the next state nextState.
func (b *Balance) GetReward(_, _, nextState mat.Vector) float64 {
	angle := math.Abs(nextState.AtVec(2))

	// Angle of 0 is pointing straight up
	if angle <= b.failAngle {
		return 1.0
	}
	return -1.0
}

// Min returns the minimum possible reward that can be received in the
// environment
func (b *Balance) Min() float64 {
	return -1.0
}

// Max returns the maximum possible reward that can be received in the
// environment
func (b *Balance) Max() float64 {
	return 1.0
}

// RewardSpec returns the reward specification for the environment
func (b *Balance) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{b.Min()})
	upperBound := mat.NewVecDense(1, []float64{b.Max()})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}
