package mlp

import (
	"fmt"

	"github.com/samuelfneumann/goppo/initwfn"
	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/solver"
)

// Config describes a Model. Vector observations of VectorSize features
// and visual frames of VisualShapes are flattened and concatenated
// into one input row per observation.
type Config struct {
	ActionType model.ActionType

	// ActionSize is the number of actions of a Discrete policy or the
	// number of action dimensions of a Continuous policy
	ActionSize int

	VectorSize   int
	VisualShapes [][]int

	// Hidden layers, shared by the architecture of the policy and
	// value networks
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	InitWFn     *initwfn.InitWFn

	Solver *solver.Solver

	// TrainBatch is the number of rows in every training batch.
	// EvalBatch is the number of rows evaluated in one graph run;
	// larger evaluations are split.
	TrainBatch int
	EvalBatch  int

	// InitLogVar is the initial log-variance of each action dimension
	// of a Continuous policy
	InitLogVar float64

	Seed uint64
}

// Features returns the number of input features of the networks
func (c Config) Features() int {
	features := c.VectorSize
	for _, shape := range c.VisualShapes {
		features += unitLength(shape)
	}
	return features
}

// Validate checks the Config for illegal values
func (c Config) Validate() error {
	if c.ActionType != model.Discrete && c.ActionType != model.Continuous {
		return fmt.Errorf("validate: unknown action type %q", c.ActionType)
	}
	if c.ActionSize < 1 {
		return fmt.Errorf("validate: action size must be positive")
	}
	if c.VectorSize < 0 {
		return fmt.Errorf("validate: vector size cannot be negative")
	}
	for i, shape := range c.VisualShapes {
		for _, dim := range shape {
			if dim <= 0 {
				return fmt.Errorf("validate: visual shape %v must have "+
					"positive dimensions \n\thave(%v)", i, shape)
			}
		}
	}
	if c.Features() < 1 {
		return fmt.Errorf("validate: no input features")
	}
	if len(c.HiddenSizes) != len(c.Biases) ||
		len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("validate: need one bias and activation per "+
			"hidden layer \n\twant(%v)\n\thave(%v, %v)", len(c.HiddenSizes),
			len(c.Biases), len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if c.TrainBatch < 1 || c.EvalBatch < 1 {
		return fmt.Errorf("validate: batch sizes must be positive")
	}
	return nil
}

func unitLength(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}
