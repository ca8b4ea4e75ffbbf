package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Recorder is an in-memory Backend. Commands use it for the end-of-run
// summary line; tests use it to assert what was emitted.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	next     Backend
}

// NewRecorder returns a Recorder that also forwards to next (may be nil).
func NewRecorder(next Backend) *Recorder {
	return &Recorder{
		counters: make(map[string]float64),
		samples:  make(map[string][]float64),
		next:     next,
	}
}

func (r *Recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	r.counters[SeriesKey(name, labels)] += delta
	r.mu.Unlock()
	if r.next != nil {
		r.next.IncCounter(name, delta, labels)
	}
}

func (r *Recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	k := SeriesKey(name, labels)
	r.samples[k] = append(r.samples[k], value)
	r.mu.Unlock()
	if r.next != nil {
		r.next.ObserveHistogram(name, value, labels)
	}
}

func (r *Recorder) Flush() error {
	if r.next != nil {
		return r.next.Flush()
	}
	return nil
}

// Counter returns the accumulated value for name+labels.
func (r *Recorder) Counter(name string, labels Labels) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[SeriesKey(name, labels)]
}

// Samples returns how many observations were recorded for name+labels.
func (r *Recorder) Samples(name string, labels Labels) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples[SeriesKey(name, labels)])
}

// SeriesKey renders name{k=v,...} with labels sorted by key.
func SeriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
