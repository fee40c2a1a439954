// Package solver wraps Gorgonia Solvers so that they can be described
// in JSON configuration files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// configTypes maps each solver Type to its concrete Config type
var configTypes = map[string]reflect.Type{
	string(Adam):    reflect.TypeOf(AdamConfig{}),
	string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
	string(Vanilla): reflect.TypeOf(VanillaConfig{}),
}

// Config describes a Gorgonia Solver and can create the Solver it
// describes.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	Validate() error
}

// Solver wraps a Gorgonia Solver together with the configuration it
// was created from, so that it can be JSON marshalled and
// unmarshalled.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// New returns a new Solver of type t described by c
func New(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("new: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	s := &Solver{Type: t, Config: c}
	s.Solver = c.Create()
	return s, nil
}

// Clone returns a new Solver with the same configuration and fresh
// internal state
func (s *Solver) Clone() *Solver {
	return &Solver{Solver: s.Config.Create(), Type: s.Type, Config: s.Config}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   string
		Config json.RawMessage
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaljson: %v", err)
	}

	ty, ok := configTypes[raw.Type]
	if !ok {
		return fmt.Errorf("unmarshaljson: unknown solver type %q", raw.Type)
	}
	config := reflect.New(ty)
	if err := json.Unmarshal(raw.Config, config.Interface()); err != nil {
		return fmt.Errorf("unmarshaljson: %v", err)
	}

	solver, err := New(Type(raw.Type), config.Elem().Interface().(Config))
	if err != nil {
		return fmt.Errorf("unmarshaljson: %v", err)
	}
	*s = *solver
	return nil
}
