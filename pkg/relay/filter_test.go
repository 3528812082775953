package relay

import (
	"testing"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

type testPolicy struct {
	rules []PolicyRule
}

func (p *testPolicy) Rules() []PolicyRule { return p.rules }

func (p *testPolicy) CanExitTo(ip string, port int) bool {
	return CanExitToPort(&Descriptor{ExitPolicy: p}, port)
}

func TestSameFamily(t *testing.T) {
	descs := map[string]*Descriptor{
		"AAA": {Fingerprint: "AAA", Nickname: "relayA", Family: []string{"$BBB"}},
		"BBB": {Fingerprint: "BBB", Nickname: "relayB", Family: []string{"relayA"}},
		"CCC": {Fingerprint: "CCC", Nickname: "relayC", Family: []string{"$BBB"}},
	}

	if !SameFamily(descs, "AAA", "BBB") {
		t.Error("expected AAA and BBB to be in the same family")
	}
	if SameFamily(descs, "AAA", "CCC") {
		t.Error("AAA does not list CCC, should not be same family")
	}
	if SameFamily(descs, "BBB", "CCC") {
		t.Error("BBB does not list CCC, should not be same family")
	}
}

func TestSameSlash16(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.3.4", "1.2.9.9", true},
		{"1.2.3.4", "1.3.3.4", false},
	}
	for _, tt := range tests {
		got, err := SameSlash16(tt.a, tt.b)
		if err != nil {
			t.Fatalf("SameSlash16(%q, %q) returned unexpected error: %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("SameSlash16(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSameSlash16MalformedAddress(t *testing.T) {
	_, err := SameSlash16("1.2.3.4", "not-an-ip")
	if simerrors.GetKind(err) != simerrors.KindMalformedInput {
		t.Fatalf("expected KindMalformedInput for malformed address, got %v", err)
	}
}

func TestCanExitToPortNoRules(t *testing.T) {
	desc := &Descriptor{ExitPolicy: &testPolicy{}}
	if !CanExitToPort(desc, 443) {
		t.Error("expected default accept when no rule matches")
	}
}

func TestCanExitToPortFirstMatchWins(t *testing.T) {
	desc := &Descriptor{ExitPolicy: &testPolicy{rules: []PolicyRule{
		{Accept: false, MinPort: 1, MaxPort: 1024, AddressWildcard: true},
		{Accept: true, MinPort: 443, MaxPort: 443},
	}}}
	if CanExitToPort(desc, 443) {
		t.Error("expected the first matching reject rule to win")
	}
	if !CanExitToPort(desc, 8080) {
		t.Error("port 8080 matches no rule, should default accept")
	}
}

func TestCanExitToPortNilPolicy(t *testing.T) {
	if !CanExitToPort(&Descriptor{}, 80) {
		t.Error("nil exit policy should default to accept")
	}
}

func newTestConsensus() *Consensus {
	return &Consensus{
		Statuses: map[string]*Status{
			"exit1":  {Fingerprint: "exit1", Flags: map[string]bool{FlagRunning: true, FlagValid: true}},
			"bad1":   {Fingerprint: "bad1", Flags: map[string]bool{FlagRunning: true, FlagValid: true, FlagBadExit: true}},
			"down1":  {Fingerprint: "down1", Flags: map[string]bool{FlagValid: true}},
			"hib1":   {Fingerprint: "hib1", Flags: map[string]bool{FlagRunning: true, FlagValid: true}},
			"nodesc": {Fingerprint: "nodesc", Flags: map[string]bool{FlagRunning: true, FlagValid: true}},
		},
		Descriptors: map[string]*Descriptor{
			"exit1": {Fingerprint: "exit1"},
			"bad1":  {Fingerprint: "bad1"},
			"down1": {Fingerprint: "down1"},
			"hib1":  {Fingerprint: "hib1", Hibernating: true},
		},
	}
}

func TestFilterExits(t *testing.T) {
	cons := newTestConsensus()
	got := FilterExits(cons)
	want := []string{"exit1"}
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("FilterExits() = %v, want %v", got, want)
	}
}

func TestFilterMiddles(t *testing.T) {
	cons := newTestConsensus()
	got := FilterMiddles(cons)
	want := []string{"bad1", "exit1"}
	if len(got) != len(want) {
		t.Fatalf("FilterMiddles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterMiddles()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFingerprintsSortedAndDescriptorGated(t *testing.T) {
	cons := newTestConsensus()
	got := cons.Fingerprints()
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("Fingerprints() not sorted: %v", got)
		}
	}
	for _, f := range got {
		if f == "nodesc" {
			t.Error("Fingerprints() should exclude fingerprints without descriptors")
		}
	}
}
