// Package mlp implements a PPO policy and value function with
// multi-layered perceptrons on Gorgonia computational graphs.
//
// A Model keeps two graphs. The evaluation graph holds copies of the
// policy and value networks and is used to act and to estimate state
// values. The training graph holds the networks, the learned
// log-variance of continuous policies, and the PPO loss; after every
// training step its weights are copied into the evaluation graph.
package mlp

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model implements model.Policy
type Model struct {
	config   Config
	features int
	src      rand.Source

	// Evaluation graph
	evalG          *G.ExprGraph
	evalInput      *G.Node
	evalPolicy     *network.MLP
	evalValue      *network.MLP
	evalLearnables G.Nodes
	evalVM         G.VM

	// Training graph
	trainG     *G.ExprGraph
	trainInput *G.Node
	policy     *network.MLP
	value      *network.MLP
	logVar     *G.Node // nil for Discrete policies
	learnables G.Nodes

	actions    *G.Node
	oldProbs   *G.Node
	targets    *G.Node
	advantages *G.Node

	clipEpsilon   *G.Node
	valueWeight   *G.Node
	entropyWeight *G.Node

	totalVal, valueVal, policyVal, entropyVal G.Value

	trainVM G.VM
	solver  G.Solver
}

// New creates a new Model
func New(c Config) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	m := &Model{
		config:   c,
		features: c.Features(),
		src:      rand.NewSource(c.Seed),
		solver:   c.Solver.Clone().Solver,
	}

	if err := m.buildEval(); err != nil {
		return nil, fmt.Errorf("new: could not build evaluation graph: %v",
			err)
	}
	if err := m.buildTrain(); err != nil {
		return nil, fmt.Errorf("new: could not build training graph: %v",
			err)
	}
	if err := m.sync(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return m, nil
}

// Config returns the Config of the Model
func (m *Model) Config() Config {
	return m.config
}

// buildNets adds an input node and the policy and value networks
// reading from it to the graph g
func (m *Model) buildNets(g *G.ExprGraph, batch int) (*G.Node, *network.MLP,
	*network.MLP, error) {
	c := m.config
	input := network.NewInput(g, batch, m.features, "obs")

	policy, err := network.NewMLP(input, c.ActionSize, c.HiddenSizes,
		c.Biases, c.Activations, c.InitWFn.InitWFn(), "policy")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("policy: %v", err)
	}

	value, err := network.NewMLP(input, 1, c.HiddenSizes, c.Biases,
		c.Activations, c.InitWFn.InitWFn(), "value")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("value: %v", err)
	}

	return input, policy, value, nil
}

func netLearnables(policy, value *network.MLP) G.Nodes {
	learnables := make(G.Nodes, 0, len(policy.Learnables())+
		len(value.Learnables())+1)
	learnables = append(learnables, policy.Learnables()...)
	return append(learnables, value.Learnables()...)
}

func (m *Model) buildEval() error {
	m.evalG = G.NewGraph()

	var err error
	m.evalInput, m.evalPolicy, m.evalValue, err = m.buildNets(m.evalG,
		m.config.EvalBatch)
	if err != nil {
		return err
	}
	m.evalLearnables = netLearnables(m.evalPolicy, m.evalValue)
	m.evalVM = G.NewTapeMachine(m.evalG)
	return nil
}

func (m *Model) buildTrain() error {
	c := m.config
	batch := c.TrainBatch
	m.trainG = G.NewGraph()
	g := m.trainG

	var err error
	m.trainInput, m.policy, m.value, err = m.buildNets(g, batch)
	if err != nil {
		return err
	}
	m.learnables = netLearnables(m.policy, m.value)

	// Discrete actions are one-hot rows, continuous actions are action
	// vectors
	m.actions = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, c.ActionSize), G.WithName("actions"),
		G.WithInit(G.Zeroes()))

	var logProb, entropy *G.Node
	switch c.ActionType {
	case model.Discrete:
		logProbs := op.LogSoftmax(m.policy.Prediction())
		logProb = G.Must(G.HadamardProd(m.actions, logProbs))
		logProb = G.Must(G.Sum(logProb, 1))

		probs := G.Must(G.Exp(logProbs))
		rowEntropy := G.Must(G.HadamardProd(probs, logProbs))
		rowEntropy = G.Must(G.Sum(rowEntropy, 1))
		rowEntropy = G.Must(G.Neg(rowEntropy))
		entropy = G.Must(G.Mean(rowEntropy))

	case model.Continuous:
		m.logVar = G.NewMatrix(g, tensor.Float64,
			G.WithShape(1, c.ActionSize), G.WithName("logVar"),
			G.WithInit(G.ValuesOf(c.InitLogVar)))
		m.learnables = append(m.learnables, m.logVar)

		logProb = op.DiagGaussianLogPdf(m.policy.Prediction(), m.logVar,
			m.actions)
		entropy = op.DiagGaussianEntropy(m.logVar)
	}
	newProb := G.Must(G.Exp(logProb))

	m.oldProbs = newBatchVector(g, batch, "oldProbs")
	m.targets = newBatchVector(g, batch, "targets")
	m.advantages = newBatchVector(g, batch, "advantages")

	m.clipEpsilon = newScalar(g, "clipEpsilon")
	m.valueWeight = newScalar(g, "valueWeight")
	m.entropyWeight = newScalar(g, "entropyWeight")

	// Clipped surrogate objective
	one := G.NewConstant(1.0)
	denom := G.Must(G.Add(m.oldProbs, G.NewConstant(model.ProbEpsilon)))
	ratio := G.Must(G.HadamardDiv(newProb, denom))

	low := G.Must(G.Sub(one, m.clipEpsilon))
	high := G.Must(G.Add(one, m.clipEpsilon))
	clipped, err := op.Clip(ratio, low, high)
	if err != nil {
		return err
	}

	surrogate, err := op.Min(
		G.Must(G.HadamardProd(ratio, m.advantages)),
		G.Must(G.HadamardProd(clipped, m.advantages)),
	)
	if err != nil {
		return err
	}
	policyLoss := G.Must(G.Sub(one, G.Must(G.Mean(surrogate))))

	// Value function regression
	values := G.Must(G.Ravel(m.value.Prediction()))
	valueErr := G.Must(G.Sub(values, m.targets))
	valueLoss := G.Must(G.Mean(G.Must(G.Square(valueErr))))

	weightedValue := G.Must(G.Mul(m.valueWeight, valueLoss))
	weightedEntropy := G.Must(G.Mul(m.entropyWeight, entropy))
	total := G.Must(G.Add(policyLoss, weightedValue))
	total = G.Must(G.Sub(total, weightedEntropy))

	G.Read(total, &m.totalVal)
	G.Read(valueLoss, &m.valueVal)
	G.Read(policyLoss, &m.policyVal)
	G.Read(entropy, &m.entropyVal)

	if _, err := G.Grad(total, m.learnables...); err != nil {
		return fmt.Errorf("could not compute gradient: %v", err)
	}

	m.trainVM = G.NewTapeMachine(g, G.BindDualValues(m.learnables...))
	return nil
}

func newBatchVector(g *G.ExprGraph, batch int, name string) *G.Node {
	return G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName(name), G.WithInit(G.Zeroes()))
}

func newScalar(g *G.ExprGraph, name string) *G.Node {
	return G.NewScalar(g, tensor.Float64, G.WithName(name),
		G.WithValue(0.0))
}

// sync copies the network weights of the training graph to the
// evaluation graph
func (m *Model) sync() error {
	err := network.SetNodes(m.evalLearnables,
		m.learnables[:len(m.evalLearnables)])
	if err != nil {
		return fmt.Errorf("sync: %v", err)
	}
	return nil
}

// flatten concatenates the vector observation and visual frames of
// each row of obs into one input row
func (m *Model) flatten(obs model.Observations) ([]float64, int, error) {
	if err := obs.Validate(); err != nil {
		return nil, 0, err
	}
	c := m.config
	rows := obs.Rows()

	var vector []float64
	if c.VectorSize > 0 {
		if obs.Vector == nil {
			return nil, 0, fmt.Errorf("flatten: missing vector observations")
		}
		var err error
		if vector, err = model.Float64s(obs.Vector); err != nil {
			return nil, 0, fmt.Errorf("flatten: %v", err)
		}
		if len(vector) != rows*c.VectorSize {
			return nil, 0, fmt.Errorf("flatten: invalid vector observation "+
				"size \n\twant(%v)\n\thave(%v)", rows*c.VectorSize,
				len(vector))
		}
	}

	if len(obs.Visual) != len(c.VisualShapes) {
		return nil, 0, fmt.Errorf("flatten: invalid number of visual "+
			"observations \n\twant(%v)\n\thave(%v)", len(c.VisualShapes),
			len(obs.Visual))
	}
	visual := make([][]float64, len(obs.Visual))
	for i, frames := range obs.Visual {
		data, err := model.Float64s(frames)
		if err != nil {
			return nil, 0, fmt.Errorf("flatten: %v", err)
		}
		if len(data) != rows*unitLength(c.VisualShapes[i]) {
			return nil, 0, fmt.Errorf("flatten: invalid size of visual "+
				"observation %v \n\twant(%v)\n\thave(%v)", i,
				rows*unitLength(c.VisualShapes[i]), len(data))
		}
		visual[i] = data
	}

	flat := make([]float64, 0, rows*m.features)
	for r := 0; r < rows; r++ {
		flat = append(flat, vector[r*c.VectorSize:(r+1)*c.VectorSize]...)
		for i, data := range visual {
			unit := unitLength(c.VisualShapes[i])
			flat = append(flat, data[r*unit:(r+1)*unit]...)
		}
	}
	return flat, rows, nil
}

// forward runs the evaluation graph on at most EvalBatch input rows
// and returns the policy network outputs and value estimates of those
// rows.
func (m *Model) forward(input []float64) ([]float64, []float64, error) {
	rows := len(input) / m.features
	padded := make([]float64, m.config.EvalBatch*m.features)
	copy(padded, input)

	inputTensor := tensor.New(
		tensor.WithShape(m.config.EvalBatch, m.features),
		tensor.WithBacking(padded),
	)
	if err := G.Let(m.evalInput, inputTensor); err != nil {
		return nil, nil, fmt.Errorf("forward: %v", err)
	}

	defer m.evalVM.Reset()
	if err := m.evalVM.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("forward: %v", err)
	}

	policyOut, err := valueData(m.evalPolicy.Output())
	if err != nil {
		return nil, nil, fmt.Errorf("forward: %v", err)
	}
	values, err := valueData(m.evalValue.Output())
	if err != nil {
		return nil, nil, fmt.Errorf("forward: %v", err)
	}

	outputs := m.config.ActionSize
	return append([]float64(nil), policyOut[:rows*outputs]...),
		append([]float64(nil), values[:rows]...), nil
}

// evaluate runs the evaluation graph over all rows of input, EvalBatch
// rows at a time
func (m *Model) evaluate(input []float64, rows int) ([]float64, []float64,
	error) {
	policyOut := make([]float64, 0, rows*m.config.ActionSize)
	values := make([]float64, 0, rows)
	for start := 0; start < rows; start += m.config.EvalBatch {
		stop := start + m.config.EvalBatch
		if stop > rows {
			stop = rows
		}
		out, vals, err := m.forward(input[start*m.features : stop*m.features])
		if err != nil {
			return nil, nil, err
		}
		policyOut = append(policyOut, out...)
		values = append(values, vals...)
	}
	return policyOut, values, nil
}

// EvaluateAction samples one action per observation. Discrete actions
// are returned as a [rows, 1] tensor of action indices, continuous
// actions as a [rows, ActionSize] tensor.
func (m *Model) EvaluateAction(obs model.Observations) (model.Evaluation,
	error) {
	input, rows, err := m.flatten(obs)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("evaluateaction: %v", err)
	}
	policyOut, values, err := m.evaluate(input, rows)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("evaluateaction: %v", err)
	}

	n := m.config.ActionSize
	probs := make([]float64, rows)
	var actions *tensor.Dense

	switch m.config.ActionType {
	case model.Discrete:
		indices := make([]float64, rows)
		for r := 0; r < rows; r++ {
			p := softmax(policyOut[r*n : (r+1)*n])
			a := int(distuv.NewCategorical(p, m.src).Rand())
			indices[r] = float64(a)
			probs[r] = p[a]
		}
		actions = model.NewMatrix(rows, 1, indices)

	case model.Continuous:
		logVar, err := m.LogVariance()
		if err != nil {
			return model.Evaluation{}, fmt.Errorf("evaluateaction: %v", err)
		}
		act := make([]float64, rows*n)
		for r := 0; r < rows; r++ {
			prob := 1.0
			for j := 0; j < n; j++ {
				dist := distuv.Normal{
					Mu:    policyOut[r*n+j],
					Sigma: math.Exp(0.5 * logVar[j]),
					Src:   m.src,
				}
				act[r*n+j] = dist.Rand()
				prob *= dist.Prob(act[r*n+j])
			}
			probs[r] = prob
		}
		actions = model.NewMatrix(rows, n, act)
	}

	return model.Evaluation{Actions: actions, Probs: probs, Values: values},
		nil
}

// EvaluateValue returns the value estimate of each observation
func (m *Model) EvaluateValue(obs model.Observations) ([]float64, error) {
	input, rows, err := m.flatten(obs)
	if err != nil {
		return nil, fmt.Errorf("evaluatevalue: %v", err)
	}
	_, values, err := m.evaluate(input, rows)
	if err != nil {
		return nil, fmt.Errorf("evaluatevalue: %v", err)
	}
	return values, nil
}

// LogVariance returns the learned log-variance of each action
// dimension of a Continuous policy, or nil for a Discrete policy
func (m *Model) LogVariance() ([]float64, error) {
	if m.logVar == nil {
		return nil, nil
	}
	data, err := valueData(m.logVar.Value())
	if err != nil {
		return nil, fmt.Errorf("logvariance: %v", err)
	}
	return append([]float64(nil), data...), nil
}

// TrainBatch takes one solver step on the PPO loss of b. The Batch
// must hold exactly TrainBatch rows. The returned losses are those of
// the parameters before the step.
func (m *Model) TrainBatch(b model.Batch,
	h model.Hyperparameters) (model.Losses, error) {
	if err := b.Validate(); err != nil {
		return model.Losses{}, fmt.Errorf("trainbatch: %v", err)
	}
	rows := b.Rows()
	if rows != m.config.TrainBatch {
		return model.Losses{}, fmt.Errorf("trainbatch: invalid batch size "+
			"\n\twant(%v)\n\thave(%v)", m.config.TrainBatch, rows)
	}

	input, _, err := m.flatten(b.Observations)
	if err != nil {
		return model.Losses{}, fmt.Errorf("trainbatch: %v", err)
	}
	actions, err := m.actionRows(b.Actions, rows)
	if err != nil {
		return model.Losses{}, fmt.Errorf("trainbatch: %v", err)
	}

	lets := []struct {
		node  *G.Node
		value interface{}
	}{
		{m.trainInput, model.NewMatrix(rows, m.features, input)},
		{m.actions, model.NewMatrix(rows, m.config.ActionSize, actions)},
		{m.oldProbs, vector(b.OldProbs)},
		{m.targets, vector(b.TargetValues)},
		{m.advantages, vector(b.Advantages)},
		{m.clipEpsilon, h.ClipEpsilon},
		{m.valueWeight, h.ValueLossWeight},
		{m.entropyWeight, h.EntropyLossWeight},
	}
	for _, l := range lets {
		if err := G.Let(l.node, l.value); err != nil {
			return model.Losses{}, fmt.Errorf("trainbatch: could not set "+
				"%v: %v", l.node.Name(), err)
		}
	}

	if err := m.trainVM.RunAll(); err != nil {
		m.trainVM.Reset()
		return model.Losses{}, fmt.Errorf("trainbatch: %v", err)
	}
	if err := m.solver.Step(G.NodesToValueGrads(m.learnables)); err != nil {
		m.trainVM.Reset()
		return model.Losses{}, fmt.Errorf("trainbatch: could not step "+
			"solver: %v", err)
	}
	m.trainVM.Reset()

	losses := model.Losses{
		Total:   scalar(m.totalVal),
		Value:   scalar(m.valueVal),
		Policy:  scalar(m.policyVal),
		Entropy: scalar(m.entropyVal),
	}

	if err := m.sync(); err != nil {
		return losses, fmt.Errorf("trainbatch: %v", err)
	}
	return losses, nil
}

// actionRows converts a batch of actions into the rows of the actions
// node: one-hot rows for Discrete policies
func (m *Model) actionRows(actions *tensor.Dense, rows int) ([]float64,
	error) {
	data, err := model.Float64s(actions)
	if err != nil {
		return nil, err
	}
	n := m.config.ActionSize

	if m.config.ActionType == model.Continuous {
		if len(data) != rows*n {
			return nil, fmt.Errorf("invalid action size \n\twant(%v)"+
				"\n\thave(%v)", rows*n, len(data))
		}
		return append([]float64(nil), data...), nil
	}

	if len(data) != rows {
		return nil, fmt.Errorf("expected one action index per row "+
			"\n\twant(%v)\n\thave(%v)", rows, len(data))
	}
	oneHot := make([]float64, rows*n)
	for r, a := range data {
		idx := int(a)
		if idx < 0 || idx >= n || float64(idx) != a {
			return nil, fmt.Errorf("illegal action %v", a)
		}
		oneHot[r*n+idx] = 1
	}
	return oneHot, nil
}

// SaveWeights serializes the network weights and, for Continuous
// policies, the log-variance, as a gob-encoded list of flattened
// arrays in a fixed order. Solver state is not saved.
func (m *Model) SaveWeights() ([]byte, error) {
	params := make([][]float64, len(m.learnables))
	for i, node := range m.learnables {
		data, err := valueData(node.Value())
		if err != nil {
			return nil, fmt.Errorf("saveweights: %v: %v", node.Name(), err)
		}
		params[i] = append([]float64(nil), data...)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(params); err != nil {
		return nil, fmt.Errorf("saveweights: %v", err)
	}
	return buf.Bytes(), nil
}

// LoadWeights restores weights saved by SaveWeights of a Model with
// the same Config. The solver is reset.
func (m *Model) LoadWeights(data []byte) error {
	var params [][]float64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&params); err != nil {
		return fmt.Errorf("loadweights: %v", err)
	}
	if len(params) != len(m.learnables) {
		return fmt.Errorf("loadweights: invalid number of parameters "+
			"\n\twant(%v)\n\thave(%v)", len(m.learnables), len(params))
	}

	for i, node := range m.learnables {
		if size := node.Shape().TotalSize(); len(params[i]) != size {
			return fmt.Errorf("loadweights: %v has the wrong size "+
				"\n\twant(%v)\n\thave(%v)", node.Name(), size, len(params[i]))
		}
	}
	for i, node := range m.learnables {
		t := tensor.New(tensor.WithShape(node.Shape()...),
			tensor.WithBacking(params[i]))
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("loadweights: %v", err)
		}
	}

	m.solver = m.config.Solver.Clone().Solver
	return m.sync()
}

// Close releases the resources of the Model's graphs
func (m *Model) Close() error {
	if err := m.evalVM.Close(); err != nil {
		return err
	}
	return m.trainVM.Close()
}

func vector(data []float64) *tensor.Dense {
	backing := append([]float64(nil), data...)
	return tensor.New(tensor.WithShape(len(backing)),
		tensor.WithBacking(backing))
}

func scalar(v G.Value) float64 {
	data, err := valueData(v)
	if err != nil || len(data) == 0 {
		return math.NaN()
	}
	return data[0]
}

// valueData returns the float64 data of a graph value
func valueData(v G.Value) ([]float64, error) {
	switch val := v.(type) {
	case *tensor.Dense:
		return model.Float64s(val)
	case *G.F64:
		return []float64{float64(*val)}, nil
	case nil:
		return nil, fmt.Errorf("no value")
	default:
		if data, ok := v.Data().(float64); ok {
			return []float64{data}, nil
		}
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// softmax returns the probabilities of a categorical distribution
// with the given logits
func softmax(logits []float64) []float64 {
	lse := floats.LogSumExp(logits)
	probs := make([]float64, len(logits))
	for i, l := range logits {
		probs[i] = math.Exp(l - lse)
	}
	return probs
}

var _ model.Policy = &Model{}
