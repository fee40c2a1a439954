package ppo

import (
	"fmt"

	"github.com/samuelfneumann/goppo/buffer"
	"github.com/samuelfneumann/goppo/model"
	"gorgonia.org/tensor"
)

// Names of the experience buffer fields
const (
	FieldAction            = "Action"
	FieldActionProb        = "ActionProb"
	FieldTargetValue       = "TargetValue"
	FieldAdvantage         = "Advantage"
	FieldVectorObservation = "VectorObservation"
)

// VisualField returns the name of the buffer field holding the i-th
// visual observation
func VisualField(i int) string {
	return fmt.Sprintf("VisualObservation%d", i)
}

// Layout describes the observations and actions of the agents a
// Trainer trains
type Layout struct {
	// VectorSize is the length of vector observations, 0 if agents
	// only observe visual frames
	VectorSize   int
	VisualShapes [][]int

	ActionType model.ActionType

	// ActionSize is the number of actions for Discrete action spaces
	// and the number of action dimensions for Continuous ones
	ActionSize int
}

// ActionColumns returns the length of one action as stored: a single
// index for Discrete actions and a vector for Continuous ones
func (l Layout) ActionColumns() int {
	if l.ActionType == model.Discrete {
		return 1
	}
	return l.ActionSize
}

// Validate checks the Layout for illegal values
func (l Layout) Validate() error {
	if l.VectorSize < 0 {
		return fmt.Errorf("validate: vector size cannot be negative")
	}
	if l.VectorSize == 0 && len(l.VisualShapes) == 0 {
		return fmt.Errorf("validate: agents must observe something")
	}
	if l.ActionType != model.Discrete && l.ActionType != model.Continuous {
		return fmt.Errorf("validate: unknown action type %q", l.ActionType)
	}
	if l.ActionSize < 1 {
		return fmt.Errorf("validate: action size must be positive")
	}
	return nil
}

// Fields returns the schema of the experience buffer
func (l Layout) Fields() []buffer.FieldSchema {
	fields := []buffer.FieldSchema{
		buffer.Vector(FieldAction, l.ActionColumns()),
		buffer.Scalar(FieldActionProb),
		buffer.Scalar(FieldTargetValue),
		buffer.Scalar(FieldAdvantage),
	}
	if l.VectorSize > 0 {
		fields = append(fields, buffer.Vector(FieldVectorObservation,
			l.VectorSize))
	}
	for i, shape := range l.VisualShapes {
		fields = append(fields, buffer.FieldSchema{
			Name:  VisualField(i),
			Dtype: tensor.Float32,
			Shape: append([]int(nil), shape...),
		})
	}
	return fields
}

// queries returns one Query for every buffer field
func (l Layout) queries() []buffer.Query {
	fields := l.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return buffer.Fields(names...)
}

func (l Layout) visualLength(i int) int {
	n := 1
	for _, dim := range l.VisualShapes[i] {
		n *= dim
	}
	return n
}
