package ppo

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/buffer"
	"github.com/samuelfneumann/goppo/buffer/gae"
	"github.com/samuelfneumann/goppo/episode"
	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/stats"
	"github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Names of the statistics a Trainer reports
const (
	StatReturn        = "cumulative_reward"
	StatEpisodeLength = "episode_length"
	StatTotalLoss     = "loss/total"
	StatValueLoss     = "loss/value"
	StatPolicyLoss    = "loss/policy"
	StatEntropy       = "loss/entropy"
)

// Trainer implements the PPO training loop for many agents acting in
// lock step. Each step, Act is called with the current observations of
// the acting agents and Observe with the results of their actions.
// When an agent's episode ends, its trajectory is written to the
// experience buffer. Once IsReadyToUpdate reports true, Update trains
// the model on the buffer and empties it.
//
// A Trainer is not safe for concurrent use.
type Trainer struct {
	model    model.Policy
	stats    stats.Logger
	config   Config
	layout   Layout
	buffer   *buffer.Buffer
	episodes *episode.Accumulator
	logger   zerolog.Logger

	steps   int
	updates int
}

// New returns a new Trainer of m. Episode and loss statistics are
// reported to l.
func New(m model.Policy, l stats.Logger, layout Layout, c Config,
	logger zerolog.Logger) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if l == nil {
		l = stats.Nop{}
	}

	buf, err := buffer.New(c.BufferCapacity(), layout.Fields(), c.Seed)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Trainer{
		model:    m,
		stats:    l,
		config:   c,
		layout:   layout,
		buffer:   buf,
		episodes: episode.NewAccumulator(),
		logger:   logger.With().Str("component", "ppo").Logger(),
	}, nil
}

// Steps returns the number of agent steps taken so far
func (t *Trainer) Steps() int {
	return t.steps
}

// Updates returns the number of completed updates
func (t *Trainer) Updates() int {
	return t.updates
}

// Buffer returns the experience buffer of the Trainer
func (t *Trainer) Buffer() *buffer.Buffer {
	return t.buffer
}

// Config returns the hyperparameters of the Trainer
func (t *Trainer) Config() Config {
	return t.config
}

// Act returns an action for each agent in ids, given the agents'
// current steps, using a single model evaluation for all agents. The
// observations, actions, action probabilities, and value estimates
// are recorded in the agents' trajectories.
func (t *Trainer) Act(ids []episode.AgentID,
	steps []timestep.TimeStep) ([]*mat.VecDense, error) {
	if len(ids) != len(steps) {
		return nil, fmt.Errorf("act: one step is needed per agent "+
			"\n\twant(%v)\n\thave(%v)", len(ids), len(steps))
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := unique(ids); err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	for i, id := range ids {
		if steps[i].Last() {
			return nil, fmt.Errorf("act: agent %v cannot act on the last "+
				"step of an episode", id)
		}
		if !t.episodes.CanAct(id) {
			return nil, fmt.Errorf("act: agent %v has not received a "+
				"reward for its previous action", id)
		}
	}

	obs, vector, visual, err := t.observations(steps)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	eval, err := t.model.EvaluateAction(obs)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}

	cols := t.layout.ActionColumns()
	actions, err := model.Float64s(eval.Actions)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	if len(actions) != len(ids)*cols || len(eval.Probs) != len(ids) ||
		len(eval.Values) != len(ids) {
		return nil, fmt.Errorf("act: model returned an evaluation of the "+
			"wrong size for %v agents", len(ids))
	}

	out := make([]*mat.VecDense, len(ids))
	for i, id := range ids {
		action := actions[i*cols : (i+1)*cols]
		err := t.episodes.AddExperience(id, row(vector, i, t.layout.VectorSize),
			visualRows(visual, t.layout, i), action, eval.Probs[i],
			eval.Values[i])
		if err != nil {
			return nil, fmt.Errorf("act: %v", err)
		}
		out[i] = mat.NewVecDense(cols, append([]float64(nil), action...))
	}
	t.steps += len(ids)

	return out, nil
}

// Observe records the rewards the agents in ids received for their
// last actions. The trajectories of agents whose step is the last of
// an episode are written to the experience buffer. Truncated episodes
// are bootstrapped with the model's value estimate of their final
// observation, estimated for all truncated agents at once, while
// terminal episodes are bootstrapped with 0.
func (t *Trainer) Observe(ids []episode.AgentID,
	steps []timestep.TimeStep) error {
	if len(ids) != len(steps) {
		return fmt.Errorf("observe: one step is needed per agent "+
			"\n\twant(%v)\n\thave(%v)", len(ids), len(steps))
	}

	if err := unique(ids); err != nil {
		return fmt.Errorf("observe: %v", err)
	}
	var ended, truncated []int
	for i, id := range ids {
		if !t.episodes.AwaitingReward(id) {
			return fmt.Errorf("observe: agent %v has no action awaiting a "+
				"reward", id)
		}
		if steps[i].Last() {
			ended = append(ended, i)
			if steps[i].Truncated() {
				truncated = append(truncated, i)
			}
		}
	}

	bootstrap := make(map[int]float64, len(truncated))
	if len(truncated) > 0 {
		final := make([]timestep.TimeStep, len(truncated))
		for j, i := range truncated {
			final[j] = steps[i]
		}
		obs, _, _, err := t.observations(final)
		if err != nil {
			return fmt.Errorf("observe: %v", err)
		}
		values, err := t.model.EvaluateValue(obs)
		if err != nil {
			return fmt.Errorf("observe: %v", err)
		}
		if len(values) != len(truncated) {
			return fmt.Errorf("observe: model returned %v values for %v "+
				"observations", len(values), len(truncated))
		}
		for j, i := range truncated {
			bootstrap[i] = values[j]
		}
	}

	for i, id := range ids {
		if err := t.episodes.AddReward(id, steps[i].Reward); err != nil {
			return fmt.Errorf("observe: %v", err)
		}
	}
	for _, i := range ended {
		if err := t.flush(ids[i], bootstrap[i]); err != nil {
			return fmt.Errorf("observe: %v", err)
		}
	}
	return nil
}

// unique returns an error if an agent appears more than once in ids
func unique(ids []episode.AgentID) error {
	seen := make(map[episode.AgentID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("agent %v appears more than once", id)
		}
		seen[id] = true
	}
	return nil
}

// flush writes the trajectory of agent id to the buffer as a single
// append and clears it
func (t *Trainer) flush(id episode.AgentID, bootstrap float64) error {
	rec, ok := t.episodes.Record(id)
	if !ok || rec.Len() == 0 {
		return fmt.Errorf("flush: agent %v has no trajectory", id)
	}

	adv, err := gae.Advantages(rec.Rewards, rec.Values, t.config.Gamma,
		t.config.Lambda, bootstrap)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	targets, err := gae.TargetValues(adv, rec.Values)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	rows := map[string][]float64{
		FieldAction:      flatten(rec.Actions),
		FieldActionProb:  append([]float64(nil), rec.Probs...),
		FieldTargetValue: targets,
		FieldAdvantage:   adv,
	}
	if t.layout.VectorSize > 0 {
		rows[FieldVectorObservation] = flatten(rec.Observations)
	}
	for i := range t.layout.VisualShapes {
		frames := make([][]float64, rec.Len())
		for step := range frames {
			frames[step] = rec.Visual[step][i]
		}
		rows[VisualField(i)] = flatten(frames)
	}

	if err := t.buffer.Append(rows); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	ret, length := rec.Return(), rec.Len()
	t.stats.AddScalar(StatReturn, ret, t.config.LogWindow)
	t.stats.AddScalar(StatEpisodeLength, float64(length), t.config.LogWindow)
	t.logger.Debug().
		Int("agent", int(id)).
		Float64("return", ret).
		Int("length", length).
		Float64("bootstrap", bootstrap).
		Int("buffered", t.buffer.Count()).
		Msg("episode finished")

	t.episodes.Clear(id)
	return nil
}

// Discard drops the partial trajectory of agent id, for example when
// the agent leaves before its episode ends
func (t *Trainer) Discard(id episode.AgentID) {
	t.episodes.Remove(id)
}

// IsReadyToUpdate returns whether the buffer holds enough transitions
// to train on
func (t *Trainer) IsReadyToUpdate() bool {
	return t.buffer.Count() >= t.config.BufferSizeForTrain
}

// Update trains the model for NumEpochPerTrain epochs. Each epoch
// partitions the buffer into shuffled, non-overlapping minibatches of
// BatchSize transitions and takes one training step per minibatch.
// The buffer is cleared afterwards. The mean losses over all steps are
// returned.
//
// If the buffer holds fewer than BatchSize transitions, an error
// satisfying buffer.IsInsufficientData is returned and the buffer is
// left untouched.
func (t *Trainer) Update() (model.Losses, error) {
	h := t.config.Hyperparameters()
	queries := t.layout.queries()

	var sum model.Losses
	trainSteps := 0
	for epoch := 0; epoch < t.config.NumEpochPerTrain; epoch++ {
		sample, err := t.buffer.SampleBatchesReordered(t.config.BatchSize,
			t.config.MaxBatchesPerEpoch, queries)
		if err != nil {
			return model.Losses{}, fmt.Errorf("update: %w", err)
		}

		if t.config.NormalizeAdvantages {
			if err := standardize(sample, FieldAdvantage); err != nil {
				return model.Losses{}, fmt.Errorf("update: %v", err)
			}
		}

		rows := sample[FieldAdvantage].Shape()[0]
		for start := 0; start < rows; start += t.config.BatchSize {
			batch, err := t.batch(sample, start, start+t.config.BatchSize)
			if err != nil {
				return model.Losses{}, fmt.Errorf("update: %v", err)
			}

			losses, err := t.model.TrainBatch(batch, h)
			if err != nil {
				return model.Losses{}, fmt.Errorf("update: %v", err)
			}
			if anomalous(losses) {
				t.logger.Warn().
					Int("epoch", epoch).
					Float64("total", losses.Total).
					Float64("value", losses.Value).
					Float64("policy", losses.Policy).
					Msg("non-finite loss")
			}

			sum.Total += losses.Total
			sum.Value += losses.Value
			sum.Policy += losses.Policy
			sum.Entropy += losses.Entropy
			trainSteps++
		}
	}

	n := float64(trainSteps)
	mean := model.Losses{
		Total:   sum.Total / n,
		Value:   sum.Value / n,
		Policy:  sum.Policy / n,
		Entropy: sum.Entropy / n,
	}
	window := t.config.LogWindow
	t.stats.AddScalar(StatTotalLoss, mean.Total, window)
	t.stats.AddScalar(StatValueLoss, mean.Value, window)
	t.stats.AddScalar(StatPolicyLoss, mean.Policy, window)
	t.stats.AddScalar(StatEntropy, mean.Entropy, window)

	t.logger.Info().
		Int("update", t.updates+1).
		Int("steps", t.steps).
		Int("transitions", t.buffer.Count()).
		Int("minibatches", trainSteps).
		Float64("total", mean.Total).
		Float64("value", mean.Value).
		Float64("policy", mean.Policy).
		Float64("entropy", mean.Entropy).
		Msg("update finished")

	t.buffer.Clear()
	t.updates++
	return mean, nil
}

// batch slices rows [start, stop) of every field of a sample into a
// model.Batch
func (t *Trainer) batch(sample map[string]*tensor.Dense, start,
	stop int) (model.Batch, error) {
	slice := func(name string) (*tensor.Dense, error) {
		return sliceRows(sample[name], start, stop)
	}
	values := func(name string) ([]float64, error) {
		s, err := slice(name)
		if err != nil {
			return nil, err
		}
		return model.Float64s(s)
	}

	var b model.Batch
	var err error
	if t.layout.VectorSize > 0 {
		if b.Vector, err = slice(FieldVectorObservation); err != nil {
			return model.Batch{}, err
		}
	}
	for i := range t.layout.VisualShapes {
		frames, err := slice(VisualField(i))
		if err != nil {
			return model.Batch{}, err
		}
		b.Visual = append(b.Visual, frames)
	}
	if b.Actions, err = slice(FieldAction); err != nil {
		return model.Batch{}, err
	}
	if b.OldProbs, err = values(FieldActionProb); err != nil {
		return model.Batch{}, err
	}
	if b.TargetValues, err = values(FieldTargetValue); err != nil {
		return model.Batch{}, err
	}
	if b.Advantages, err = values(FieldAdvantage); err != nil {
		return model.Batch{}, err
	}
	return b, nil
}

// observations batches the vector observations and visual frames of
// steps. The flattened vector and visual data is returned alongside.
func (t *Trainer) observations(steps []timestep.TimeStep) (model.Observations,
	[]float64, [][]float64, error) {
	n := len(steps)
	var obs model.Observations

	var vector []float64
	if t.layout.VectorSize > 0 {
		vector = make([]float64, 0, n*t.layout.VectorSize)
		for i := range steps {
			o := steps[i].Observation
			if o == nil || o.Len() != t.layout.VectorSize {
				return obs, nil, nil, fmt.Errorf("observations: step %v "+
					"has an invalid vector observation", i)
			}
			vector = append(vector, vecData(o)...)
		}
		obs.Vector = model.NewMatrix(n, t.layout.VectorSize, vector)
	}

	visual := make([][]float64, len(t.layout.VisualShapes))
	for v, shape := range t.layout.VisualShapes {
		unit := t.layout.visualLength(v)
		visual[v] = make([]float64, 0, n*unit)
		for i := range steps {
			if len(steps[i].Visual) != len(t.layout.VisualShapes) ||
				steps[i].Visual[v].Len() != unit {
				return obs, nil, nil, fmt.Errorf("observations: step %v "+
					"has an invalid visual observation %v", i, v)
			}
			visual[v] = append(visual[v], vecData(steps[i].Visual[v])...)
		}
		frameShape := append([]int{n}, shape...)
		obs.Visual = append(obs.Visual, tensor.New(
			tensor.WithShape(frameShape...),
			tensor.WithBacking(visual[v]),
		))
	}

	return obs, vector, visual, nil
}

// sliceRows copies rows [start, stop) of t into a new tensor
func sliceRows(t *tensor.Dense, start, stop int) (*tensor.Dense, error) {
	if t == nil {
		return nil, fmt.Errorf("slicerows: missing field")
	}
	data, err := model.Float64s(t)
	if err != nil {
		return nil, err
	}
	shape := t.Shape().Clone()
	unit := len(data) / shape[0]

	backing := append([]float64(nil), data[start*unit:stop*unit]...)
	shape[0] = stop - start
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
		nil
}

// standardize replaces the named field of a sample by its standard
// score
func standardize(sample map[string]*tensor.Dense, name string) error {
	data, err := model.Float64s(sample[name])
	if err != nil {
		return err
	}
	z := gae.Standardize(data)
	sample[name] = tensor.New(tensor.WithShape(sample[name].Shape()...),
		tensor.WithBacking(z))
	return nil
}

func anomalous(l model.Losses) bool {
	for _, v := range []float64{l.Total, l.Value, l.Policy, l.Entropy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func vecData(v mat.Vector) []float64 {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return data
}

func row(data []float64, i, size int) []float64 {
	if size == 0 {
		return nil
	}
	return data[i*size : (i+1)*size]
}

func visualRows(visual [][]float64, l Layout, i int) [][]float64 {
	rows := make([][]float64, len(visual))
	for v := range visual {
		unit := l.visualLength(v)
		rows[v] = visual[v][i*unit : (i+1)*unit]
	}
	return rows
}

func flatten(rows [][]float64) []float64 {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]float64, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
