// Package profiling times nested operations of a single command run.
package profiling

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stopper ends a timed span.
type Stopper interface {
	Stop()
}

type span struct {
	name     string
	depth    int
	start    time.Time
	duration time.Duration
	p        *Profiler
}

func (s *span) Stop() {
	s.p.end(s)
}

// Profiler records spans in start order; a span started while another is
// open is nested below it.
type Profiler struct {
	mu      sync.Mutex
	enabled bool
	started time.Time
	spans   []*span
	open    int
}

var defaultProfiler = &Profiler{}

// Enable turns on the global profiler.
func Enable() {
	defaultProfiler.mu.Lock()
	defer defaultProfiler.mu.Unlock()
	if !defaultProfiler.enabled {
		defaultProfiler.enabled = true
		defaultProfiler.started = time.Now()
	}
}

// Start begins a span, typically ended with defer.
func Start(name string) Stopper {
	return defaultProfiler.Start(name)
}

// Summarize writes the timing tree of the global profiler.
func Summarize(w io.Writer) {
	defaultProfiler.Summarize(w)
}

// Start begins a span. It is a no-op until the profiler is enabled.
func (p *Profiler) Start(name string) Stopper {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return noopStopper{}
	}
	s := &span{name: name, depth: p.open, start: time.Now(), p: p}
	p.spans = append(p.spans, s)
	p.open++
	return s
}

func (p *Profiler) end(s *span) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.duration != 0 {
		return
	}
	s.duration = time.Since(s.start)
	if p.open > 0 {
		p.open--
	}
}

// Summarize writes every span with its share of the total run time.
func (p *Profiler) Summarize(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}

	total := time.Since(p.started)
	fmt.Fprintln(w, "\n--- Timing Profile ---")
	for _, s := range p.spans {
		d := s.duration
		if d == 0 {
			d = time.Since(s.start)
		}
		share := 0.0
		if total > 0 {
			share = float64(d) / float64(total) * 100
		}
		fmt.Fprintf(w, "%s- %s (%v, %.1f%%)\n", strings.Repeat("  ", s.depth), s.name, d.Round(100*time.Microsecond), share)
	}
	fmt.Fprintf(w, "total %v\n", total.Round(100*time.Microsecond))
}

type noopStopper struct{}

func (noopStopper) Stop() {}
