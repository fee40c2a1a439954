// Package network implements feed forward neural networks on Gorgonia
// computational graphs.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP implements a multi-layered perceptron which reads from an input
// node of a computational graph. Several MLPs may share one input
// node, for example a policy and a value function of the same
// observations.
type MLP struct {
	g          *G.ExprGraph
	layers     []*fcLayer
	input      *G.Node
	numInputs  int
	numOutputs int
	batchSize  int

	learnables G.Nodes

	prediction *G.Node
	predVal    G.Value
}

// NewInput adds a [batch, features] float64 input node called name to
// the graph g
func NewInput(g *G.ExprGraph, batch, features int, name string) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(name), G.WithInit(G.Zeroes()))
}

// NewMLP creates a new MLP with a final linear layer of outputs units
// on top of the given input node. Parameter names are prefixed with
// prefix, which must be unique in the graph.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. For
// index i, hiddenSizes[i] is the number of nodes in hidden layer i;
// biases[i] is true if the hidden layer will contain a bias unit; and
// activations[i] is the activation function of hidden layer i. The
// final layer always has a bias unit and no activation. The parameter
// init determines the weight initialization scheme.
func NewMLP(input *G.Node, outputs int, hiddenSizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, prefix string) (*MLP, error) {
	if len(hiddenSizes) != len(activations) {
		msg := "newmlp: invalid number of activations \n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newmlp: invalid number of biases \n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("newmlp: input must be a matrix")
	}
	if outputs < 1 {
		return nil, fmt.Errorf("newmlp: outputs must be positive")
	}

	g := input.Graph()
	features := input.Shape()[1]

	layers := make([]*fcLayer, 0, len(hiddenSizes)+1)
	in := features
	for i, out := range hiddenSizes {
		name := fmt.Sprintf("%sL%d", prefix, i)
		layers = append(layers, newFCLayer(g, in, out, biases[i],
			activations[i], init, name))
		in = out
	}
	name := fmt.Sprintf("%sL%d", prefix, len(hiddenSizes))
	layers = append(layers, newFCLayer(g, in, outputs, true, Identity(),
		init, name))

	net := &MLP{
		g:          g,
		layers:     layers,
		input:      input,
		numInputs:  features,
		numOutputs: outputs,
		batchSize:  input.Shape()[0],
	}
	if err := net.fwd(); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute forward pass: %v",
			err)
	}
	return net, nil
}

// fwd performs the forward pass of the MLP on its input node
func (m *MLP) fwd() error {
	pred := m.input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return fmt.Errorf(msg, i, err)
		}
	}

	m.prediction = pred
	G.Read(m.prediction, &m.predVal)
	return nil
}

// Graph returns the computational graph of the MLP
func (m *MLP) Graph() *G.ExprGraph {
	return m.g
}

// Input returns the input node of the MLP
func (m *MLP) Input() *G.Node {
	return m.input
}

// BatchSize returns the number of rows in the input
func (m *MLP) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features in a single input row
func (m *MLP) Features() int {
	return m.numInputs
}

// Outputs returns the number of outputs of the MLP
func (m *MLP) Outputs() int {
	return m.numOutputs
}

// Prediction returns the output node of the MLP
func (m *MLP) Prediction() *G.Node {
	return m.prediction
}

// Output returns the value of the output node after the graph has
// been run
func (m *MLP) Output() G.Value {
	return m.predVal
}

// Learnables returns the learnable nodes of the MLP, in layer order
func (m *MLP) Learnables() G.Nodes {
	if m.learnables == nil {
		learnables := make(G.Nodes, 0, 2*len(m.layers))
		for _, l := range m.layers {
			learnables = append(learnables, l.learnables()...)
		}
		m.learnables = learnables
	}
	return m.learnables
}

// Model returns the learnable nodes with their gradients
func (m *MLP) Model() []G.ValueGrad {
	return G.NodesToValueGrads(m.Learnables())
}

// Set sets the weights of the MLP to copies of the weights of another
// MLP with the same architecture, possibly in another graph.
func (m *MLP) Set(source *MLP) error {
	return SetNodes(m.Learnables(), source.Learnables())
}

// SetNodes sets the value of each dest node to a copy of the value of
// the corresponding src node
func SetNodes(dest, src G.Nodes) error {
	if len(dest) != len(src) {
		return fmt.Errorf("set: cannot set %v nodes from %v", len(dest),
			len(src))
	}
	for i := range dest {
		if !dest[i].Shape().Eq(src[i].Shape()) {
			return fmt.Errorf("set: node %v has the wrong shape "+
				"\n\twant(%v)\n\thave(%v)", i, dest[i].Shape(),
				src[i].Shape())
		}
		value, ok := src[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("set: node %v has no dense value", i)
		}
		if err := G.Let(dest[i], value.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("set: %v", err)
		}
	}
	return nil
}
