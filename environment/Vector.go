package environment

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/episode"
	ts "github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
)

// Vector runs a number of environments in lock step, each acting as
// one agent. Agent i always acts in the i-th environment. Whenever an
// environment's episode ends, the environment is reset, and the first
// step of its next episode becomes the agent's current step.
type Vector struct {
	envs    []Environment
	ids     []episode.AgentID
	current []ts.TimeStep
	logger  zerolog.Logger

	episodes int
}

// NewVector returns a new Vector over envs. All environments must
// share the same observation and action specifications. Each
// environment is reset.
func NewVector(envs []Environment, logger zerolog.Logger) (*Vector, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("newvector: at least one environment is " +
			"needed")
	}
	obs, act := envs[0].ObservationSpec(), envs[0].ActionSpec()
	for i, e := range envs[1:] {
		if !sameSpec(obs, e.ObservationSpec()) ||
			!sameSpec(act, e.ActionSpec()) {
			return nil, fmt.Errorf("newvector: environment %v has "+
				"different specifications than environment 0", i+1)
		}
	}

	ids := make([]episode.AgentID, len(envs))
	current := make([]ts.TimeStep, len(envs))
	for i, e := range envs {
		ids[i] = episode.AgentID(i)
		current[i] = e.Reset()
	}

	return &Vector{
		envs:    envs,
		ids:     ids,
		current: current,
		logger:  logger.With().Str("component", "environment").Logger(),
	}, nil
}

// Len returns the number of environments
func (v *Vector) Len() int {
	return len(v.envs)
}

// Episodes returns the number of episodes finished so far over all
// environments
func (v *Vector) Episodes() int {
	return v.episodes
}

// ObservationSpec returns the observation specification shared by all
// environments
func (v *Vector) ObservationSpec() Spec {
	return v.envs[0].ObservationSpec()
}

// ActionSpec returns the action specification shared by all
// environments
func (v *Vector) ActionSpec() Spec {
	return v.envs[0].ActionSpec()
}

// Current returns the agents and their current steps, none of which
// is the last step of an episode. The returned slices are copies.
func (v *Vector) Current() ([]episode.AgentID, []ts.TimeStep) {
	ids := append([]episode.AgentID(nil), v.ids...)
	steps := append([]ts.TimeStep(nil), v.current...)
	return ids, steps
}

// Step steps every environment with its agent's action and returns the
// resulting steps, ordered as the agents returned by Current.
// Environments whose episode ended are reset afterwards.
func (v *Vector) Step(actions []*mat.VecDense) ([]ts.TimeStep, error) {
	if len(actions) != len(v.envs) {
		return nil, fmt.Errorf("step: one action is needed per "+
			"environment \n\twant(%v)\n\thave(%v)", len(v.envs), len(actions))
	}

	next := make([]ts.TimeStep, len(v.envs))
	for i, e := range v.envs {
		step, last := e.Step(actions[i])
		next[i] = step

		if last {
			v.episodes++
			v.logger.Debug().
				Int("agent", int(v.ids[i])).
				Int("steps", step.Number).
				Str("end", step.EndType().String()).
				Msg("episode ended")
			v.current[i] = e.Reset()
		} else {
			v.current[i] = step
		}
	}
	return next, nil
}

func sameSpec(a, b Spec) bool {
	return a.Type == b.Type && a.Cardinality == b.Cardinality &&
		mat.Equal(a.Shape, b.Shape) && mat.Equal(a.LowerBound, b.LowerBound) &&
		mat.Equal(a.UpperBound, b.UpperBound)
}
