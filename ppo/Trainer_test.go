package ppo

import (
	"math"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/goppo/buffer"
	"github.com/samuelfneumann/goppo/episode"
	"github.com/samuelfneumann/goppo/model"
	"github.com/samuelfneumann/goppo/timestep"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// fakePolicy always takes action 0 with probability 0.5 and estimates
// every state's value as value, and bootstrap values as bootstrap
type fakePolicy struct {
	value     float64
	bootstrap float64
	losses    model.Losses

	actionCalls int
	valueCalls  int
	valueRows   []int
	batches     []model.Batch
}

func (f *fakePolicy) EvaluateAction(o model.Observations) (model.Evaluation,
	error) {
	f.actionCalls++
	n := o.Rows()
	probs := make([]float64, n)
	values := make([]float64, n)
	for i := range probs {
		probs[i] = 0.5
		values[i] = f.value
	}
	return model.Evaluation{
		Actions: model.NewMatrix(n, 1, make([]float64, n)),
		Probs:   probs,
		Values:  values,
	}, nil
}

func (f *fakePolicy) EvaluateValue(o model.Observations) ([]float64, error) {
	f.valueCalls++
	f.valueRows = append(f.valueRows, o.Rows())
	values := make([]float64, o.Rows())
	for i := range values {
		values[i] = f.bootstrap
	}
	return values, nil
}

func (f *fakePolicy) TrainBatch(b model.Batch,
	h model.Hyperparameters) (model.Losses, error) {
	if err := b.Validate(); err != nil {
		return model.Losses{}, err
	}
	f.batches = append(f.batches, b)
	return f.losses, nil
}

func (f *fakePolicy) SaveWeights() ([]byte, error) { return nil, nil }

func (f *fakePolicy) LoadWeights([]byte) error { return nil }

// scalars records every statistic added to it
type scalars map[string][]float64

func (s scalars) AddScalar(name string, value float64, _ int) {
	s[name] = append(s[name], value)
}

func testLayout() Layout {
	return Layout{VectorSize: 2, ActionType: model.Discrete, ActionSize: 2}
}

func testConfig() Config {
	c := DefaultConfig()
	c.Gamma = 0.5
	c.Lambda = 1.0
	c.BatchSize = 2
	c.BufferSizeForTrain = 4
	c.NumEpochPerTrain = 3
	return c
}

func newTestTrainer(t *testing.T, c Config) (*Trainer, *fakePolicy, scalars) {
	f := &fakePolicy{value: 1, bootstrap: 10, losses: model.Losses{
		Total: 1, Value: 2, Policy: 3, Entropy: 4,
	}}
	s := scalars{}
	tr, err := New(f, s, testLayout(), c, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return tr, f, s
}

func step(st timestep.StepType, reward float64, n int) timestep.TimeStep {
	obs := mat.NewVecDense(2, []float64{float64(n), -float64(n)})
	return timestep.New(st, reward, 1, obs, n)
}

func truncated(reward float64, n int) timestep.TimeStep {
	s := step(timestep.Last, reward, n)
	s.SetEnd(timestep.Truncated)
	return s
}

// runEpisode plays a two-step episode for each agent, ending with last
func runEpisode(t *testing.T, tr *Trainer, ids []episode.AgentID,
	last func(reward float64, n int) timestep.TimeStep) {
	first := make([]timestep.TimeStep, len(ids))
	mid := make([]timestep.TimeStep, len(ids))
	end := make([]timestep.TimeStep, len(ids))
	for i := range ids {
		first[i] = step(timestep.First, 0, 0)
		mid[i] = step(timestep.Mid, 1, 1)
		end[i] = last(1, 2)
	}

	if _, err := tr.Act(ids, first); err != nil {
		t.Fatalf("act: %v", err)
	}
	if err := tr.Observe(ids, mid); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if _, err := tr.Act(ids, mid); err != nil {
		t.Fatalf("act: %v", err)
	}
	if err := tr.Observe(ids, end); err != nil {
		t.Fatalf("observe: %v", err)
	}
}

func terminal(reward float64, n int) timestep.TimeStep {
	return step(timestep.Last, reward, n)
}

// sortedField returns the sorted values of a scalar buffer field
func sortedField(t *testing.T, b *buffer.Buffer, name string) []float64 {
	sample, err := b.SampleBatchesReordered(b.Count(), 0,
		buffer.Fields(name))
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	data, err := model.Float64s(sample[name])
	if err != nil {
		t.Fatalf("float64s: %v", err)
	}
	out := append([]float64(nil), data...)
	sort.Float64s(out)
	return out
}

func equalWithin(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestTerminalEpisode(t *testing.T) {
	tr, f, s := newTestTrainer(t, testConfig())
	runEpisode(t, tr, []episode.AgentID{0}, terminal)

	if tr.Buffer().Count() != 2 {
		t.Fatalf("buffer count: \n\twant(2)\n\thave(%v)", tr.Buffer().Count())
	}
	if f.valueCalls != 0 {
		t.Errorf("terminal episodes should not be bootstrapped from the "+
			"model: %v value calls", f.valueCalls)
	}

	// Returns are [1 + 0.5*1, 1] with values [1, 1]
	targets := sortedField(t, tr.Buffer(), FieldTargetValue)
	if want := []float64{1, 1.5}; !equalWithin(targets, want, 1e-12) {
		t.Errorf("target values: \n\twant(%v)\n\thave(%v)", want, targets)
	}
	adv := sortedField(t, tr.Buffer(), FieldAdvantage)
	if want := []float64{0, 0.5}; !equalWithin(adv, want, 1e-12) {
		t.Errorf("advantages: \n\twant(%v)\n\thave(%v)", want, adv)
	}

	if r := s[StatReturn]; len(r) != 1 || r[0] != 2 {
		t.Errorf("returns: \n\twant([2])\n\thave(%v)", r)
	}
	if l := s[StatEpisodeLength]; len(l) != 1 || l[0] != 2 {
		t.Errorf("episode lengths: \n\twant([2])\n\thave(%v)", l)
	}
	if tr.Steps() != 2 {
		t.Errorf("steps: \n\twant(2)\n\thave(%v)", tr.Steps())
	}
}

func TestTruncatedEpisode(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	runEpisode(t, tr, []episode.AgentID{0, 1}, truncated)

	if f.valueCalls != 1 || f.valueRows[0] != 2 {
		t.Fatalf("truncated agents should be bootstrapped in one batch: "+
			"\n\twant([2])\n\thave(%v)", f.valueRows)
	}

	// Returns are [1 + 0.5*(1 + 0.5*10), 1 + 0.5*10] for both agents
	targets := sortedField(t, tr.Buffer(), FieldTargetValue)
	if want := []float64{4, 4, 6, 6}; !equalWithin(targets, want, 1e-12) {
		t.Errorf("target values: \n\twant(%v)\n\thave(%v)", want, targets)
	}
}

func TestMixedEnds(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	ids := []episode.AgentID{3, 7}
	first := []timestep.TimeStep{step(timestep.First, 0, 0),
		step(timestep.First, 0, 0)}
	if _, err := tr.Act(ids, first); err != nil {
		t.Fatalf("act: %v", err)
	}
	end := []timestep.TimeStep{terminal(1, 1), truncated(1, 1)}
	if err := tr.Observe(ids, end); err != nil {
		t.Fatalf("observe: %v", err)
	}

	if len(f.valueRows) != 1 || f.valueRows[0] != 1 {
		t.Fatalf("only the truncated agent should be bootstrapped "+
			"\n\twant([1])\n\thave(%v)", f.valueRows)
	}
	targets := sortedField(t, tr.Buffer(), FieldTargetValue)
	if want := []float64{1, 6}; !equalWithin(targets, want, 1e-12) {
		t.Errorf("target values: \n\twant(%v)\n\thave(%v)", want, targets)
	}
}

func TestActErrors(t *testing.T) {
	tr, _, _ := newTestTrainer(t, testConfig())

	_, err := tr.Act([]episode.AgentID{0, 1},
		[]timestep.TimeStep{step(timestep.First, 0, 0)})
	if err == nil {
		t.Errorf("act: expected an error for mismatched lengths")
	}

	_, err = tr.Act([]episode.AgentID{0},
		[]timestep.TimeStep{terminal(0, 0)})
	if err == nil {
		t.Errorf("act: expected an error when acting on a last step")
	}

	if _, err := tr.Act([]episode.AgentID{0},
		[]timestep.TimeStep{step(timestep.First, 0, 0)}); err != nil {
		t.Fatalf("act: %v", err)
	}
	_, err = tr.Act([]episode.AgentID{0},
		[]timestep.TimeStep{step(timestep.Mid, 0, 1)})
	if err == nil {
		t.Errorf("act: expected an error when acting before observing")
	}
}

func TestObserveWithoutAction(t *testing.T) {
	tr, _, _ := newTestTrainer(t, testConfig())
	err := tr.Observe([]episode.AgentID{0},
		[]timestep.TimeStep{step(timestep.Mid, 1, 1)})
	if err == nil {
		t.Errorf("observe: expected an error for an agent which has not " +
			"acted")
	}
}

// lengths returns the number of actions and rewards recorded for id
func lengths(t *testing.T, tr *Trainer, id episode.AgentID) (int, int) {
	t.Helper()
	rec, ok := tr.episodes.Record(id)
	if !ok {
		t.Fatalf("agent %v has no record", id)
	}
	return len(rec.Actions), len(rec.Rewards)
}

func TestFailedActLeavesNoState(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	ids := []episode.AgentID{0, 1}
	first := []timestep.TimeStep{step(timestep.First, 0, 0),
		step(timestep.First, 0, 0)}
	if _, err := tr.Act(ids, first); err != nil {
		t.Fatalf("act: %v", err)
	}
	if err := tr.Observe(ids[:1], []timestep.TimeStep{
		step(timestep.Mid, 1, 1)}); err != nil {
		t.Fatalf("observe: %v", err)
	}

	// Agent 1 still awaits its reward, so agent 0 must not act either
	mid := []timestep.TimeStep{step(timestep.Mid, 1, 1),
		step(timestep.Mid, 1, 1)}
	if _, err := tr.Act(ids, mid); err == nil {
		t.Fatalf("act: expected an error for an agent awaiting a reward")
	}
	if actions, rewards := lengths(t, tr, 0); actions != 1 || rewards != 1 {
		t.Errorf("agent 0 actions, rewards \n\twant(1, 1)\n\thave(%v, %v)",
			actions, rewards)
	}
	if f.actionCalls != 1 {
		t.Errorf("model calls \n\twant(1)\n\thave(%v)", f.actionCalls)
	}
	if tr.Steps() != 2 {
		t.Errorf("steps \n\twant(2)\n\thave(%v)", tr.Steps())
	}

	if _, err := tr.Act([]episode.AgentID{0, 0}, mid); err == nil {
		t.Fatalf("act: expected an error for a repeated agent")
	}
	if actions, _ := lengths(t, tr, 0); actions != 1 {
		t.Errorf("agent 0 actions \n\twant(1)\n\thave(%v)", actions)
	}
}

func TestFailedObserveLeavesNoState(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	if _, err := tr.Act([]episode.AgentID{0},
		[]timestep.TimeStep{step(timestep.First, 0, 0)}); err != nil {
		t.Fatalf("act: %v", err)
	}

	// Agent 7 never acted
	err := tr.Observe([]episode.AgentID{0, 7}, []timestep.TimeStep{
		truncated(1, 1), step(timestep.Mid, 1, 1)})
	if err == nil {
		t.Fatalf("observe: expected an error for an unknown agent")
	}
	if _, rewards := lengths(t, tr, 0); rewards != 0 {
		t.Errorf("agent 0 rewards \n\twant(0)\n\thave(%v)", rewards)
	}
	if f.valueCalls != 0 {
		t.Errorf("value calls \n\twant(0)\n\thave(%v)", f.valueCalls)
	}
	if tr.Buffer().Count() != 0 {
		t.Errorf("buffered \n\twant(0)\n\thave(%v)", tr.Buffer().Count())
	}

	err = tr.Observe([]episode.AgentID{0, 0}, []timestep.TimeStep{
		step(timestep.Mid, 1, 1), step(timestep.Mid, 1, 1)})
	if err == nil {
		t.Fatalf("observe: expected an error for a repeated agent")
	}
	if _, rewards := lengths(t, tr, 0); rewards != 0 {
		t.Errorf("agent 0 rewards \n\twant(0)\n\thave(%v)", rewards)
	}

	// The agent can still finish its episode
	if err := tr.Observe([]episode.AgentID{0},
		[]timestep.TimeStep{truncated(1, 1)}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if tr.Buffer().Count() != 1 {
		t.Errorf("buffered \n\twant(1)\n\thave(%v)", tr.Buffer().Count())
	}
}

func TestActions(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	ids := []episode.AgentID{0, 1, 2}
	steps := make([]timestep.TimeStep, len(ids))
	for i := range steps {
		steps[i] = step(timestep.First, 0, 0)
	}

	actions, err := tr.Act(ids, steps)
	if err != nil {
		t.Fatalf("act: %v", err)
	}
	if f.actionCalls != 1 {
		t.Errorf("agents should act in one batch: \n\twant(1)\n\thave(%v)",
			f.actionCalls)
	}
	if len(actions) != len(ids) {
		t.Fatalf("actions: \n\twant(%v)\n\thave(%v)", len(ids), len(actions))
	}
	for _, a := range actions {
		if a.Len() != 1 || a.AtVec(0) != 0 {
			t.Errorf("action: \n\twant([0])\n\thave(%v)", a.RawVector().Data)
		}
	}
}

func TestUpdate(t *testing.T) {
	tr, f, s := newTestTrainer(t, testConfig())

	runEpisode(t, tr, []episode.AgentID{0}, terminal)
	if tr.IsReadyToUpdate() {
		t.Errorf("trainer should not be ready with %v transitions",
			tr.Buffer().Count())
	}
	runEpisode(t, tr, []episode.AgentID{0}, terminal)
	if !tr.IsReadyToUpdate() {
		t.Fatalf("trainer should be ready with %v transitions",
			tr.Buffer().Count())
	}

	losses, err := tr.Update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// 3 epochs of 2 batches of 2
	if len(f.batches) != 6 {
		t.Errorf("training steps: \n\twant(6)\n\thave(%v)", len(f.batches))
	}
	for _, b := range f.batches {
		if b.Rows() != 2 {
			t.Errorf("batch rows: \n\twant(2)\n\thave(%v)", b.Rows())
		}
	}
	if losses != f.losses {
		t.Errorf("losses: \n\twant(%v)\n\thave(%v)", f.losses, losses)
	}
	if tr.Buffer().Count() != 0 {
		t.Errorf("buffer should be cleared after an update, has %v "+
			"transitions", tr.Buffer().Count())
	}
	if tr.Updates() != 1 {
		t.Errorf("updates: \n\twant(1)\n\thave(%v)", tr.Updates())
	}
	if l := s[StatPolicyLoss]; len(l) != 1 || l[0] != 3 {
		t.Errorf("policy loss statistic: \n\twant([3])\n\thave(%v)", l)
	}
}

func TestUpdateMaxBatches(t *testing.T) {
	c := testConfig()
	c.MaxBatchesPerEpoch = 1
	tr, f, _ := newTestTrainer(t, c)
	runEpisode(t, tr, []episode.AgentID{0, 1}, terminal)

	if _, err := tr.Update(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.batches) != c.NumEpochPerTrain {
		t.Errorf("training steps: \n\twant(%v)\n\thave(%v)",
			c.NumEpochPerTrain, len(f.batches))
	}
}

func TestUpdateNormalizesAdvantages(t *testing.T) {
	c := testConfig()
	c.NormalizeAdvantages = true
	c.NumEpochPerTrain = 1
	tr, f, _ := newTestTrainer(t, c)
	runEpisode(t, tr, []episode.AgentID{0, 1}, terminal)

	if _, err := tr.Update(); err != nil {
		t.Fatalf("update: %v", err)
	}
	sum := 0.0
	for _, b := range f.batches {
		for _, a := range b.Advantages {
			sum += a
		}
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("normalized advantages should sum to 0, have %v", sum)
	}
}

func TestUpdateInsufficientData(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	if _, err := tr.Act([]episode.AgentID{0},
		[]timestep.TimeStep{step(timestep.First, 0, 0)}); err != nil {
		t.Fatalf("act: %v", err)
	}
	if err := tr.Observe([]episode.AgentID{0},
		[]timestep.TimeStep{terminal(1, 1)}); err != nil {
		t.Fatalf("observe: %v", err)
	}

	_, err := tr.Update()
	if !buffer.IsInsufficientData(err) {
		t.Fatalf("update: expected insufficient data, have %v", err)
	}
	if len(f.batches) != 0 {
		t.Errorf("no training steps should be taken, have %v",
			len(f.batches))
	}
	if tr.Buffer().Count() != 1 {
		t.Errorf("buffer should be left untouched, has %v transitions",
			tr.Buffer().Count())
	}
}

func TestBatchObservations(t *testing.T) {
	tr, f, _ := newTestTrainer(t, testConfig())
	runEpisode(t, tr, []episode.AgentID{0, 1}, terminal)
	if _, err := tr.Update(); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Observation n is [n, -n] and the agents acted on n = 0 and 1
	for _, b := range f.batches {
		obs, err := model.Float64s(b.Vector)
		if err != nil {
			t.Fatalf("float64s: %v", err)
		}
		for r := 0; r < b.Rows(); r++ {
			x, y := obs[2*r], obs[2*r+1]
			if x != -y || (x != 0 && x != 1) {
				t.Errorf("observation: have([%v %v])", x, y)
			}
		}
		if b.Actions.Dtype() != tensor.Float64 {
			t.Errorf("actions dtype: \n\twant(%v)\n\thave(%v)",
				tensor.Float64, b.Actions.Dtype())
		}
	}
}

func TestDiscard(t *testing.T) {
	tr, _, _ := newTestTrainer(t, testConfig())
	ids := []episode.AgentID{0}
	if _, err := tr.Act(ids,
		[]timestep.TimeStep{step(timestep.First, 0, 0)}); err != nil {
		t.Fatalf("act: %v", err)
	}
	tr.Discard(0)

	// The agent starts afresh and may act again without a reward
	if _, err := tr.Act(ids,
		[]timestep.TimeStep{step(timestep.First, 0, 0)}); err != nil {
		t.Fatalf("act after discard: %v", err)
	}
}

func TestNewInvalid(t *testing.T) {
	c := testConfig()
	c.BatchSize = 0
	if _, err := New(&fakePolicy{}, nil, testLayout(), c,
		zerolog.Nop()); err == nil {
		t.Errorf("new: expected an error for an invalid config")
	}
	if _, err := New(&fakePolicy{}, nil, Layout{}, testConfig(),
		zerolog.Nop()); err == nil {
		t.Errorf("new: expected an error for an invalid layout")
	}
}
