package pendulum

import (
	"math"

	env "github.com/samuelfneumann/goppo/environment"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// SwingUp implements a task where the agent must swing the pendulum up
// and hold it in a vertical position. Rewards are the cosine of the
// pendulum angle measured from the positive y-axis, so holding the
// pendulum straight up earns 1.0 on each timestep. Episodes never
// terminate; they are truncated after a step limit.
type SwingUp struct {
	env.Starter
	*env.StepLimit
}

// NewSwingUp creates and returns a new SwingUp task
func NewSwingUp(s env.Starter, maxSteps int) *SwingUp {
	return &SwingUp{s, env.NewStepLimit(maxSteps)}
}

// NewDefaultStarter returns a Starter which samples the angle
// uniformly from [-π, π] and the angular velocity from [-1, 1]
func NewDefaultStarter(seed uint64) env.UniformStarter {
	return env.NewUniformStarter([]r1.Interval{
		{Min: -AngleBound, Max: AngleBound},
		{Min: -1, Max: 1},
	}, seed)
}

// GetReward returns the reward for transitioning to nextState
func (s *SwingUp) GetReward(_, _, nextState mat.Vector) float64 {
	return math.Cos(nextState.AtVec(0))
}

// Min returns the minimum possible reward
func (s *SwingUp) Min() float64 {
	return -1.0
}

// Max returns the maximum possible reward
func (s *SwingUp) Max() float64 {
	return 1.0
}

// RewardSpec returns the reward specification of the Task
func (s *SwingUp) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{s.Min()})
	upperBound := mat.NewVecDense(1, []float64{s.Max()})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}
