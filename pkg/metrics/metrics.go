// Package metrics provides run statistics for the path simulator.
// It tracks guard, circuit, and stream counters across a simulation run
// for end-of-period and end-of-run summary reporting.
package metrics

import (
	"sync/atomic"
)

// Stats is a simulation run's counter collection. All fields are safe for
// concurrent use, though the core simulator itself is single-threaded.
type Stats struct {
	// Guard metrics
	GuardsAdded     *Counter
	GuardsRemoved   *Counter
	GuardsMarkedBad *Counter
	GuardsBroughtUp *Counter
	ActiveGuards    *Gauge

	// Circuit metrics
	CircuitsBuilt      *Counter
	CircuitBuildErrors *Counter
	ActiveCleanExits   *Gauge
	ActiveDirtyExits   *Gauge

	// Stream metrics
	StreamsAssigned *Counter
	StreamsDropped  *Counter

	// Period metrics
	PeriodsProcessed *Counter
}

// New creates a new Stats collector with all counters zeroed.
func New() *Stats {
	return &Stats{
		GuardsAdded:        NewCounter(),
		GuardsRemoved:      NewCounter(),
		GuardsMarkedBad:    NewCounter(),
		GuardsBroughtUp:    NewCounter(),
		ActiveGuards:       NewGauge(),
		CircuitsBuilt:      NewCounter(),
		CircuitBuildErrors: NewCounter(),
		ActiveCleanExits:   NewGauge(),
		ActiveDirtyExits:   NewGauge(),
		StreamsAssigned:    NewCounter(),
		StreamsDropped:     NewCounter(),
		PeriodsProcessed:   NewCounter(),
	}
}

// Snapshot returns a point-in-time snapshot of all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		GuardsAdded:        s.GuardsAdded.Value(),
		GuardsRemoved:      s.GuardsRemoved.Value(),
		GuardsMarkedBad:    s.GuardsMarkedBad.Value(),
		GuardsBroughtUp:    s.GuardsBroughtUp.Value(),
		ActiveGuards:       s.ActiveGuards.Value(),
		CircuitsBuilt:      s.CircuitsBuilt.Value(),
		CircuitBuildErrors: s.CircuitBuildErrors.Value(),
		ActiveCleanExits:   s.ActiveCleanExits.Value(),
		ActiveDirtyExits:   s.ActiveDirtyExits.Value(),
		StreamsAssigned:    s.StreamsAssigned.Value(),
		StreamsDropped:     s.StreamsDropped.Value(),
		PeriodsProcessed:   s.PeriodsProcessed.Value(),
	}
}

// Snapshot represents a point-in-time snapshot of Stats.
type Snapshot struct {
	GuardsAdded        int64
	GuardsRemoved      int64
	GuardsMarkedBad    int64
	GuardsBroughtUp    int64
	ActiveGuards       int64
	CircuitsBuilt      int64
	CircuitBuildErrors int64
	ActiveCleanExits   int64
	ActiveDirtyExits   int64
	StreamsAssigned    int64
	StreamsDropped     int64
	PeriodsProcessed   int64
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value int64
}

// NewCounter creates a new counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds n to the counter.
func (c *Counter) Add(n int64) {
	atomic.AddInt64(&c.value, n)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge is a value that can go up or down.
type Gauge struct {
	value int64
}

// NewGauge creates a new gauge.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Set sets the gauge to a specific value.
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds n to the gauge.
func (g *Gauge) Add(n int64) {
	atomic.AddInt64(&g.value, n)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}
