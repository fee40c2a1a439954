// Package stats records scalar training statistics.
//
// Statistics are reported through the Logger interface. A Recorder
// keeps a moving average of each statistic, writes the averages as
// structured log events, and optionally persists them to a Sink such
// as a SQLite Store.
package stats

import (
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Logger receives scalar statistics. The window is the number of
// most recent values of the statistic to average when reporting it.
type Logger interface {
	AddScalar(name string, value float64, window int)
}

// Sink persists the averaged statistics of a Recorder
type Sink interface {
	Write(step int, scalars map[string]float64) error
}

// Nop is a Logger which discards all statistics
type Nop struct{}

// AddScalar implements the Logger interface
func (Nop) AddScalar(string, float64, int) {}

// window holds the most recent values of a statistic
type window struct {
	values []float64
	next   int
	size   int
}

func (w *window) add(value float64, size int) {
	if size < 1 {
		size = 1
	}
	if size != w.size {
		// Keep the most recent values when the window changes size
		recent := w.ordered()
		if len(recent) > size {
			recent = recent[len(recent)-size:]
		}
		w.values = recent
		w.next = len(recent) % size
		w.size = size
	}

	if len(w.values) < w.size {
		w.values = append(w.values, value)
		w.next = len(w.values) % w.size
		return
	}
	w.values[w.next] = value
	w.next = (w.next + 1) % w.size
}

// ordered returns the values in the window from oldest to newest
func (w *window) ordered() []float64 {
	if len(w.values) < w.size || w.next == 0 {
		return append([]float64(nil), w.values...)
	}
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.next:]...)
	return append(out, w.values[:w.next]...)
}

func (w *window) mean() float64 {
	return stat.Mean(w.values, nil)
}

// Recorder implements Logger by keeping a moving window of the
// values of each statistic. A Recorder is not safe for concurrent
// use.
type Recorder struct {
	windows map[string]*window
	counts  map[string]int
	logger  zerolog.Logger
	sink    Sink
}

// NewRecorder returns a new Recorder which logs to logger and, if
// sink is not nil, persists statistics to sink when flushed.
func NewRecorder(logger zerolog.Logger, sink Sink) *Recorder {
	return &Recorder{
		windows: make(map[string]*window),
		counts:  make(map[string]int),
		logger:  logger.With().Str("component", "stats").Logger(),
		sink:    sink,
	}
}

// AddScalar implements the Logger interface
func (r *Recorder) AddScalar(name string, value float64, size int) {
	w, ok := r.windows[name]
	if !ok {
		w = &window{}
		r.windows[name] = w
	}
	w.add(value, size)
	r.counts[name]++
}

// Mean returns the moving average of the statistic called name
func (r *Recorder) Mean(name string) (float64, bool) {
	w, ok := r.windows[name]
	if !ok {
		return 0, false
	}
	return w.mean(), true
}

// Count returns how many values of the statistic called name have
// been added
func (r *Recorder) Count(name string) int {
	return r.counts[name]
}

// Names returns the names of all statistics, sorted
func (r *Recorder) Names() []string {
	names := make([]string, 0, len(r.windows))
	for name := range r.windows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flush logs the moving average of every statistic at the given step
// and writes them to the Recorder's Sink
func (r *Recorder) Flush(step int) error {
	if len(r.windows) == 0 {
		return nil
	}

	scalars := make(map[string]float64, len(r.windows))
	event := r.logger.Info().Int("step", step)
	for _, name := range r.Names() {
		mean := r.windows[name].mean()
		scalars[name] = mean
		event = event.Float64(name, mean)
	}
	event.Msg("statistics")

	if r.sink == nil {
		return nil
	}
	return r.sink.Write(step, scalars)
}
