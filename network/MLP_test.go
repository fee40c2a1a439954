package network

import (
	"encoding/json"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestMLPShapes(t *testing.T) {
	g := G.NewGraph()
	input := NewInput(g, 4, 3, "input")

	net, err := NewMLP(input, 2, []int{5, 6}, []bool{true, false},
		[]*Activation{ReLU(), TanH()}, G.GlorotU(1.0), "net")
	if err != nil {
		t.Fatalf("newmlp: %v", err)
	}

	if shape := net.Prediction().Shape(); shape[0] != 4 || shape[1] != 2 {
		t.Fatalf("prediction shape \n\twant([4 2])\n\thave(%v)", shape)
	}

	// Two weights and a bias for the hidden layers, plus a weight and
	// a bias for the output layer.
	if n := len(net.Learnables()); n != 5 {
		t.Fatalf("learnables \n\twant(5)\n\thave(%v)", n)
	}

	if _, err := NewMLP(input, 2, []int{5}, []bool{true, true},
		[]*Activation{ReLU()}, G.GlorotU(1.0), "bad"); err == nil {
		t.Fatalf("expected an error for mismatched biases")
	}
}

func TestMLPForwardAndSet(t *testing.T) {
	g := G.NewGraph()
	input := NewInput(g, 2, 2, "input")
	src, err := NewMLP(input, 1, []int{3}, []bool{true},
		[]*Activation{ReLU()}, G.GlorotN(1.0), "src")
	if err != nil {
		t.Fatalf("newmlp: %v", err)
	}

	other := G.NewGraph()
	dest, err := NewMLP(NewInput(other, 2, 2, "input"), 1, []int{3},
		[]bool{true}, []*Activation{ReLU()}, G.Zeroes(), "dest")
	if err != nil {
		t.Fatalf("newmlp: %v", err)
	}
	if err := dest.Set(src); err != nil {
		t.Fatalf("set: %v", err)
	}

	x := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{1, -1, 0.5, 2}))
	outputs := make([][]float64, 0, 2)
	for _, net := range []*MLP{src, dest} {
		if err := G.Let(net.Input(), x.Clone()); err != nil {
			t.Fatalf("let: %v", err)
		}
		vm := G.NewTapeMachine(net.Graph())
		if err := vm.RunAll(); err != nil {
			t.Fatalf("runall: %v", err)
		}
		out := net.Output().Data().([]float64)
		outputs = append(outputs, append([]float64(nil), out...))
		vm.Close()
	}

	for i := range outputs[0] {
		if outputs[0][i] != outputs[1][i] {
			t.Fatalf("outputs differ after set \n\twant(%v)\n\thave(%v)",
				outputs[0], outputs[1])
		}
	}
}

func TestActivationJSON(t *testing.T) {
	acts := []*Activation{ReLU(), TanH(), Sigmoid(), Identity()}
	data, err := json.Marshal(acts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []*Activation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for i := range acts {
		if decoded[i].String() != acts[i].String() {
			t.Fatalf("activation %v \n\twant(%v)\n\thave(%v)", i, acts[i],
				decoded[i])
		}
	}

	if _, err := ActivationByName("softmax"); err == nil {
		t.Fatalf("expected an error for an unknown activation")
	}
}
