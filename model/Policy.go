// Package model defines the interface between the PPO trainer and
// the differentiable policy and value functions it trains.
package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// ActionType describes the kind of action space a Policy acts in
type ActionType string

const (
	Discrete   ActionType = "Discrete"
	Continuous ActionType = "Continuous"
)

// Observations is a batch of observations, one row per agent or
// sample. Vector has shape [rows, features] and may be nil if there
// are no vector observations. Each element of Visual has shape
// [rows, frame shape...].
type Observations struct {
	Vector *tensor.Dense
	Visual []*tensor.Dense
}

// Rows returns the number of observations in the batch
func (o Observations) Rows() int {
	if o.Vector != nil {
		return o.Vector.Shape()[0]
	}
	if len(o.Visual) > 0 {
		return o.Visual[0].Shape()[0]
	}
	return 0
}

// Validate checks that all parts of the batch hold the same number of
// rows.
func (o Observations) Validate() error {
	if o.Vector == nil && len(o.Visual) == 0 {
		return fmt.Errorf("validate: observations are empty")
	}
	rows := o.Rows()
	for i, v := range o.Visual {
		if v.Shape()[0] != rows {
			return fmt.Errorf("validate: visual observation %v has the "+
				"wrong number of rows \n\twant(%v)\n\thave(%v)", i, rows,
				v.Shape()[0])
		}
	}
	return nil
}

// Evaluation is the output of a Policy for a batch of observations.
// Actions has one row per observation: a single action index for
// Discrete policies or an action vector for Continuous policies.
type Evaluation struct {
	Actions *tensor.Dense
	Probs   []float64
	Values  []float64
}

// Batch is a minibatch of experience to train on
type Batch struct {
	Observations
	Actions      *tensor.Dense
	OldProbs     []float64
	TargetValues []float64
	Advantages   []float64
}

// Validate checks that every part of the Batch holds the same number
// of rows.
func (b Batch) Validate() error {
	if err := b.Observations.Validate(); err != nil {
		return err
	}
	rows := b.Rows()
	if b.Actions == nil || b.Actions.Shape()[0] != rows {
		return fmt.Errorf("validate: actions must have %v rows", rows)
	}
	if len(b.OldProbs) != rows || len(b.TargetValues) != rows ||
		len(b.Advantages) != rows {
		return fmt.Errorf("validate: probabilities, targets, and "+
			"advantages must have %v rows \n\thave(%v, %v, %v)", rows,
			len(b.OldProbs), len(b.TargetValues), len(b.Advantages))
	}
	return nil
}

// Hyperparameters are the loss coefficients used in one training step
type Hyperparameters struct {
	ClipEpsilon       float64
	ValueLossWeight   float64
	EntropyLossWeight float64
}

// Losses are the scalar losses of one training step
type Losses struct {
	Total   float64
	Value   float64
	Policy  float64
	Entropy float64
}

// Policy is a trainable stochastic policy together with a state value
// function. A Policy owns its parameters; it never sees the trainer's
// experience buffer.
type Policy interface {
	// EvaluateAction samples one action per observation and returns
	// the actions, their probabilities (densities for continuous
	// actions), and the value estimate of each observation.
	EvaluateAction(Observations) (Evaluation, error)

	// EvaluateValue returns the value estimate of each observation
	EvaluateValue(Observations) ([]float64, error)

	// TrainBatch takes one gradient step on the PPO loss of the Batch
	TrainBatch(Batch, Hyperparameters) (Losses, error)

	// SaveWeights serializes the parameters of the Policy
	SaveWeights() ([]byte, error)

	// LoadWeights restores parameters serialized by SaveWeights on a
	// Policy with the same architecture
	LoadWeights([]byte) error
}

// Float64s returns the data of a tensor as a []float64, converting
// from float32 if needed.
func Float64s(t *tensor.Dense) ([]float64, error) {
	switch data := t.Data().(type) {
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case float32:
		return []float64{float64(data)}, nil
	default:
		return nil, fmt.Errorf("float64s: unsupported tensor data type %T",
			data)
	}
}

// NewMatrix returns a [rows, cols] float64 tensor backed by data
func NewMatrix(rows, cols int, data []float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}
