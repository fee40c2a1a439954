// Package episode implements per-agent accumulation of trajectories.
//
// An Accumulator holds one Record per agent. A Record grows by one
// step each time its agent acts and receives the reward for that
// action once the environment has stepped. When the agent's episode
// ends, the Record is read out and cleared.
package episode

import (
	"fmt"
	"sort"
)

// AgentID identifies an agent
type AgentID int

// Record holds the trajectory of one agent since its last episode
// ended. All sequences are ordered in time; Observations[t] is the
// observation the agent acted on at step t, and Rewards[t] is the
// reward it received for that action.
type Record struct {
	Observations [][]float64
	Visual       [][][]float64
	Actions      [][]float64
	Probs        []float64
	Values       []float64
	Rewards      []float64
}

// Len returns the number of actions recorded
func (r *Record) Len() int {
	return len(r.Actions)
}

// Complete returns whether every recorded action has been rewarded
func (r *Record) Complete() bool {
	return len(r.Rewards) == len(r.Actions)
}

// Return returns the undiscounted sum of rewards in the Record
func (r *Record) Return() float64 {
	ret := 0.0
	for _, reward := range r.Rewards {
		ret += reward
	}
	return ret
}

// clear empties the Record, keeping its allocated storage
func (r *Record) clear() {
	r.Observations = r.Observations[:0]
	r.Visual = r.Visual[:0]
	r.Actions = r.Actions[:0]
	r.Probs = r.Probs[:0]
	r.Values = r.Values[:0]
	r.Rewards = r.Rewards[:0]
}

// Accumulator holds the Record of each agent. The zero value is not
// usable; use NewAccumulator.
type Accumulator struct {
	records map[AgentID]*Record
}

// NewAccumulator returns a new, empty Accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{records: make(map[AgentID]*Record)}
}

// AddExperience records that agent id took action with probability
// prob, given the vector observation obs and visual frames visual, in
// a state whose value was estimated as value. The slices are copied.
func (a *Accumulator) AddExperience(id AgentID, obs []float64,
	visual [][]float64, action []float64, prob, value float64) error {
	r := a.record(id)
	if !r.Complete() {
		return fmt.Errorf("addexperience: agent %v has not received a "+
			"reward for its previous action", id)
	}

	frames := make([][]float64, len(visual))
	for i := range visual {
		frames[i] = append([]float64(nil), visual[i]...)
	}

	r.Observations = append(r.Observations, append([]float64(nil), obs...))
	r.Visual = append(r.Visual, frames)
	r.Actions = append(r.Actions, append([]float64(nil), action...))
	r.Probs = append(r.Probs, prob)
	r.Values = append(r.Values, value)
	return nil
}

// AddReward records the reward agent id received for its last action
func (a *Accumulator) AddReward(id AgentID, reward float64) error {
	r, ok := a.records[id]
	if !ok || r.Complete() {
		return fmt.Errorf("addreward: agent %v has no action awaiting a "+
			"reward", id)
	}
	r.Rewards = append(r.Rewards, reward)
	return nil
}

// CanAct returns whether agent id may record a new step, which is
// the case for unknown agents and agents whose every step has been
// rewarded
func (a *Accumulator) CanAct(id AgentID) bool {
	r, ok := a.records[id]
	return !ok || r.Complete()
}

// AwaitingReward returns whether agent id has an action awaiting a
// reward
func (a *Accumulator) AwaitingReward(id AgentID) bool {
	r, ok := a.records[id]
	return ok && !r.Complete()
}

// Record returns the Record of agent id. The Record is owned by the
// Accumulator and is only valid until the next call to Clear for id.
func (a *Accumulator) Record(id AgentID) (*Record, bool) {
	r, ok := a.records[id]
	return r, ok
}

// Clear empties the Record of agent id
func (a *Accumulator) Clear(id AgentID) {
	if r, ok := a.records[id]; ok {
		r.clear()
	}
}

// Remove forgets agent id entirely
func (a *Accumulator) Remove(id AgentID) {
	delete(a.records, id)
}

// Agents returns the IDs of all agents with a Record, in increasing
// order
func (a *Accumulator) Agents() []AgentID {
	ids := make([]AgentID, 0, len(a.records))
	for id := range a.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the total number of steps recorded over all agents
func (a *Accumulator) Len() int {
	n := 0
	for _, r := range a.records {
		n += r.Len()
	}
	return n
}

func (a *Accumulator) record(id AgentID) *Record {
	r, ok := a.records[id]
	if !ok {
		r = &Record{}
		a.records[id] = r
	}
	return r
}
