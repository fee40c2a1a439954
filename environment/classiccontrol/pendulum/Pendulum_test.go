package pendulum

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

type fixedStarter []float64

func (f fixedStarter) Start() mat.Vector {
	return mat.NewVecDense(len(f), append([]float64(nil), f...))
}

func TestSwingUpTruncates(t *testing.T) {
	p, first := NewContinuous(NewSwingUp(fixedStarter{0, 0}, 3), 1)
	if !first.First() {
		t.Fatalf("first step: \n\twant(First)\n\thave(%v)", first.StepType())
	}

	still := mat.NewVecDense(1, []float64{0})
	for i := 1; i <= 3; i++ {
		step, last := p.Step(still)

		// Upright and still is an unstable equilibrium
		if math.Abs(step.Reward-1) > 1e-9 {
			t.Errorf("reward: \n\twant(1)\n\thave(%v)", step.Reward)
		}
		if last != (i == 3) {
			t.Fatalf("step %v: unexpected episode end %v", i, last)
		}
		if last && !step.Truncated() {
			t.Errorf("end: \n\twant(Truncated)\n\thave(%v)", step.EndType())
		}
	}
}

func TestTorqueClipped(t *testing.T) {
	newEnv := func() *Continuous {
		p, _ := NewContinuous(NewSwingUp(fixedStarter{0.5, 0}, 10), 1)
		return p
	}
	full, _ := newEnv().Step(mat.NewVecDense(1, []float64{TorqueBound}))
	over, _ := newEnv().Step(mat.NewVecDense(1, []float64{10}))
	if !mat.Equal(full.Observation, over.Observation) {
		t.Errorf("torque beyond the bounds should be clipped")
	}
}

func TestNormalizeAngle(t *testing.T) {
	p, _ := NewContinuous(NewSwingUp(NewDefaultStarter(1), 10), 1)
	for _, th := range []float64{0, 3 * math.Pi / 2, -5 * math.Pi / 2} {
		n := normalizeAngle(th, p.angleBounds)
		if n < -math.Pi || n > math.Pi {
			t.Errorf("normalizeangle(%v) = %v out of bounds", th, n)
		}
		if math.Abs(math.Cos(n)-math.Cos(th)) > 1e-9 {
			t.Errorf("normalizeangle(%v) = %v changed the angle", th, n)
		}
	}
}
