package environment

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/episode"
	ts "github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// counter is an environment whose single feature counts the steps of
// the episode. Episodes are truncated after a step limit.
type counter struct {
	*StepLimit
	last   ts.TimeStep
	resets int
}

func newCounter(limit int) *counter {
	return &counter{StepLimit: NewStepLimit(limit)}
}

func (c *counter) Start() mat.Vector {
	return mat.NewVecDense(1, []float64{0})
}

func (c *counter) GetReward(_, action, _ mat.Vector) float64 {
	return action.AtVec(0)
}

func (c *counter) RewardSpec() Spec {
	return c.spec(Reward, Continuous)
}

func (c *counter) Reset() ts.TimeStep {
	c.resets++
	c.last = ts.New(ts.First, 0, 1, c.Start(), 0)
	return c.last
}

func (c *counter) Step(a *mat.VecDense) (ts.TimeStep, bool) {
	n := c.last.Number + 1
	obs := mat.NewVecDense(1, []float64{float64(n)})
	step := ts.New(ts.Mid, c.GetReward(c.last.Observation, a, obs), 1, obs, n)
	c.End(&step)
	c.last = step
	return step, step.Last()
}

func (c *counter) DiscountSpec() Spec {
	return c.spec(Discount, Continuous)
}

func (c *counter) ObservationSpec() Spec {
	return c.spec(Observation, Continuous)
}

func (c *counter) ActionSpec() Spec {
	return c.spec(Action, Continuous)
}

func (c *counter) spec(t SpecType, card Cardinality) Spec {
	return NewSpec(mat.NewVecDense(1, nil), t, mat.NewVecDense(1, []float64{0}),
		mat.NewVecDense(1, []float64{1}), card)
}

func actions(n int, value float64) []*mat.VecDense {
	out := make([]*mat.VecDense, n)
	for i := range out {
		out[i] = mat.NewVecDense(1, []float64{value})
	}
	return out
}

func TestVectorAutoReset(t *testing.T) {
	envs := []Environment{newCounter(2), newCounter(3)}
	v, err := NewVector(envs, zerolog.Nop())
	if err != nil {
		t.Fatalf("newvector: %v", err)
	}

	ids, current := v.Current()
	if len(ids) != 2 || ids[0] != episode.AgentID(0) || ids[1] != 1 {
		t.Fatalf("agent ids: \n\twant([0 1])\n\thave(%v)", ids)
	}
	for i := range current {
		if !current[i].First() {
			t.Errorf("agent %v should start on a first step", i)
		}
	}

	// Step 1: neither ended
	next, err := v.Step(actions(2, 0.5))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if next[0].Last() || next[1].Last() || next[0].Reward != 0.5 {
		t.Fatalf("step 1: unexpected steps %v", next)
	}

	// Step 2: the first environment is truncated and reset
	next, _ = v.Step(actions(2, 0.5))
	if !next[0].Last() || !next[0].Truncated() {
		t.Fatalf("step 2: agent 0 should be truncated, have %v", next[0])
	}
	if next[1].Last() {
		t.Fatalf("step 2: agent 1 should not have ended")
	}
	_, current = v.Current()
	if !current[0].First() || current[0].Number != 0 {
		t.Errorf("agent 0 should be reset: have %v", current[0])
	}
	if current[1].Number != 2 {
		t.Errorf("agent 1 current step: \n\twant(2)\n\thave(%v)",
			current[1].Number)
	}
	if v.Episodes() != 1 {
		t.Errorf("episodes: \n\twant(1)\n\thave(%v)", v.Episodes())
	}
	if r := envs[0].(*counter).resets; r != 2 {
		t.Errorf("resets: \n\twant(2)\n\thave(%v)", r)
	}
}

func TestVectorErrors(t *testing.T) {
	if _, err := NewVector(nil, zerolog.Nop()); err == nil {
		t.Errorf("newvector: expected an error without environments")
	}

	v, err := NewVector([]Environment{newCounter(2)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newvector: %v", err)
	}
	if _, err := v.Step(actions(2, 0)); err == nil {
		t.Errorf("step: expected an error for too many actions")
	}
}

func TestIntervalLimit(t *testing.T) {
	limit := NewIntervalLimit([]r1.Interval{{Min: -1, Max: 1}}, []int{1},
		ts.Terminal)

	inside := ts.New(ts.Mid, 0, 1, mat.NewVecDense(2, []float64{5, 0.5}), 1)
	if limit.End(&inside) || inside.Last() {
		t.Errorf("end: a step inside the interval should not end")
	}

	outside := ts.New(ts.Mid, 0, 1, mat.NewVecDense(2, []float64{0, -2}), 1)
	if !limit.End(&outside) || !outside.TerminalEnd() {
		t.Errorf("end: a step outside the interval should be terminal")
	}
}

func TestSpecSize(t *testing.T) {
	discrete := NewSpec(mat.NewVecDense(1, nil), Action,
		mat.NewVecDense(1, []float64{0}), mat.NewVecDense(1, []float64{4}),
		Discrete)
	if n := discrete.Size(); n != 5 {
		t.Errorf("size: \n\twant(5)\n\thave(%v)", n)
	}
}
