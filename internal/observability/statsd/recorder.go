package statsd

import (
	"strconv"
	"sync"
	"time"
)

// Recorder is an in-memory Sink that keeps every emitted metric, for tests and dry runs.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

var _ Sink = (*Recorder)(nil)

// Count records a counter.
func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(FormatLine("", name, strconv.FormatInt(value, 10)+"|c", nil, tags))
}

// Gauge records a gauge.
func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(FormatLine("", name, formatFloat(value)+"|g", nil, tags))
}

// Timing records a timing in milliseconds.
func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(FormatLine("", name, formatFloat(float64(value)/float64(time.Millisecond))+"|ms", nil, tags))
}

// Lines returns a copy of the recorded metric lines in emission order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *Recorder) add(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}
