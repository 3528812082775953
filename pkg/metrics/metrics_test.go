package metrics

import "testing"

func TestNewStatsZeroed(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	if snap.GuardsAdded != 0 || snap.CircuitsBuilt != 0 || snap.StreamsAssigned != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
}

func TestStatsRecording(t *testing.T) {
	s := New()
	s.GuardsAdded.Inc()
	s.GuardsAdded.Inc()
	s.GuardsRemoved.Inc()
	s.CircuitsBuilt.Add(5)
	s.ActiveGuards.Set(3)
	s.StreamsAssigned.Inc()

	snap := s.Snapshot()
	if snap.GuardsAdded != 2 {
		t.Errorf("GuardsAdded = %d, want 2", snap.GuardsAdded)
	}
	if snap.GuardsRemoved != 1 {
		t.Errorf("GuardsRemoved = %d, want 1", snap.GuardsRemoved)
	}
	if snap.CircuitsBuilt != 5 {
		t.Errorf("CircuitsBuilt = %d, want 5", snap.CircuitsBuilt)
	}
	if snap.ActiveGuards != 3 {
		t.Errorf("ActiveGuards = %d, want 3", snap.ActiveGuards)
	}
	if snap.StreamsAssigned != 1 {
		t.Errorf("StreamsAssigned = %d, want 1", snap.StreamsAssigned)
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("Value() = %d, want 5", c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge()
	g.Set(10)
	g.Inc()
	g.Add(2)
	g.Dec()
	if g.Value() != 12 {
		t.Errorf("Value() = %d, want 12", g.Value())
	}
}
