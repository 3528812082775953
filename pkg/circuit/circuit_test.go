package circuit

import (
	"testing"
	"time"

	"github.com/opd-ai/pathsim/pkg/config"
	simerrors "github.com/opd-ai/pathsim/pkg/errors"
	"github.com/opd-ai/pathsim/pkg/guard"
	"github.com/opd-ai/pathsim/pkg/relay"
)

func acceptAllPolicy() relay.ExitPolicy { return allowPolicy{} }

type allowPolicy struct{}

func (allowPolicy) Rules() []relay.PolicyRule          { return nil }
func (allowPolicy) CanExitTo(ip string, port int) bool { return true }

func testGuardCfg() config.GuardConfig {
	return config.GuardConfig{
		NumGuards:     3,
		MinNumGuards:  2,
		ExpirationMin: 30 * 24 * time.Hour,
		ExpirationMax: 60 * 24 * time.Hour,
		DownTime:      30 * 24 * time.Hour,
	}
}

func testConsensus(n int, validAfter time.Time) *relay.Consensus {
	cons := &relay.Consensus{
		ValidAfter:       validAfter,
		FreshUntil:       validAfter.Add(time.Hour),
		BandwidthWeights: map[string]int64{"Wgg": 10000, "Wgd": 5000, "Wgm": 10000, "Wmg": 0, "Wmd": 5000, "Wme": 0, "Wmm": 10000, "Weg": 0, "Wed": 5000, "Wee": 10000, "Wem": 10000},
		BWWeightScale:    10000,
		Statuses:         map[string]*relay.Status{},
		Descriptors:      map[string]*relay.Descriptor{},
	}
	for i := 0; i < n; i++ {
		fprint := string(rune('A' + i))
		cons.Statuses[fprint] = &relay.Status{
			Fingerprint: fprint,
			Bandwidth:   1000,
			Flags: map[string]bool{
				relay.FlagGuard:   true,
				relay.FlagExit:    true,
				relay.FlagValid:   true,
				relay.FlagRunning: true,
				relay.FlagFast:    true,
				relay.FlagStable:  true,
			},
		}
		cons.Descriptors[fprint] = &relay.Descriptor{
			Fingerprint: fprint,
			Nickname:    "relay" + fprint,
			Address:     "10." + string(rune('0'+i)) + ".0.1",
			ExitPolicy:  acceptAllPolicy(),
		}
	}
	return cons
}

func TestBuildProducesDistinctHops(t *testing.T) {
	cons := testConsensus(10, time.Unix(0, 0))
	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	port := 80
	circ, err := b.Build(cons, Params{
		Time: time.Unix(0, 0).Add(time.Minute),
		Port: &port,
	}, PeriodCaches{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if circ.Guard == circ.Middle || circ.Middle == circ.Exit || circ.Guard == circ.Exit {
		t.Fatalf("circuit hops should be distinct: guard=%s middle=%s exit=%s", circ.Guard, circ.Middle, circ.Exit)
	}
}

func TestBuildWithPeriodCachesMatchesUncached(t *testing.T) {
	cons := testConsensus(10, time.Unix(0, 0))
	caches, err := ComputePeriodCaches(cons)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gm1 := guard.NewManager(1, testGuardCfg(), nil, nil)
	b1 := NewBuilder(1, gm1, nil)
	gm2 := guard.NewManager(1, testGuardCfg(), nil, nil)
	b2 := NewBuilder(1, gm2, nil)

	port := 80
	p := Params{Time: time.Unix(0, 0).Add(time.Minute), Port: &port}
	cached, err := b1.Build(cons, p, caches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uncached, err := b2.Build(cons, p, PeriodCaches{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached.Guard != uncached.Guard || cached.Middle != uncached.Middle || cached.Exit != uncached.Exit {
		t.Errorf("cached and uncached builds diverged: %v vs %v",
			[]string{cached.Guard, cached.Middle, cached.Exit},
			[]string{uncached.Guard, uncached.Middle, uncached.Exit})
	}
}

func TestBuildInternalCircuitIgnoresPort(t *testing.T) {
	cons := testConsensus(10, time.Unix(0, 0))
	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	circ, err := b.Build(cons, Params{
		Time:     time.Unix(0, 0).Add(time.Minute),
		Internal: true,
	}, PeriodCaches{})
	if err != nil {
		t.Fatalf("unexpected error for internal circuit without port: %v", err)
	}
	if circ.Exit == "" {
		t.Error("expected an exit hop to be chosen for internal circuit")
	}
}

func TestBuildRejectsMissingPortForNonInternal(t *testing.T) {
	cons := testConsensus(10, time.Unix(0, 0))
	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	_, err := b.Build(cons, Params{Time: time.Unix(0, 0).Add(time.Minute)}, PeriodCaches{})
	if !simerrors.IsKind(err, simerrors.KindMissingPort) {
		t.Fatalf("expected missing port error for non-internal circuit, got: %v", err)
	}
}

// familyConsensus builds a small consensus where E is the only weighted
// exit, G1-G3 are the only guard candidates (weighted zero as middles), and
// M is the only weighted middle.
func familyConsensus() *relay.Consensus {
	cons := &relay.Consensus{
		ValidAfter: time.Unix(0, 0),
		FreshUntil: time.Unix(0, 0).Add(time.Hour),
		BandwidthWeights: map[string]int64{
			"Wgg": 10000, "Wgd": 0, "Wgm": 0,
			"Wmg": 0, "Wmd": 0, "Wme": 0, "Wmm": 10000,
			"Weg": 0, "Wed": 0, "Wee": 10000, "Wem": 0,
		},
		BWWeightScale: 10000,
		Statuses:      map[string]*relay.Status{},
		Descriptors:   map[string]*relay.Descriptor{},
	}
	add := func(fprint, address string, flags ...string) {
		flagSet := map[string]bool{relay.FlagRunning: true, relay.FlagValid: true, relay.FlagFast: true}
		for _, f := range flags {
			flagSet[f] = true
		}
		cons.Statuses[fprint] = &relay.Status{Fingerprint: fprint, Bandwidth: 1000, Flags: flagSet}
		cons.Descriptors[fprint] = &relay.Descriptor{
			Fingerprint: fprint,
			Nickname:    "relay" + fprint,
			Address:     address,
			ExitPolicy:  acceptAllPolicy(),
		}
	}
	add("E", "10.1.0.1", relay.FlagExit)
	add("M", "10.2.0.1")
	add("G1", "10.3.0.1", relay.FlagGuard)
	add("G2", "10.4.0.1", relay.FlagGuard)
	add("G3", "10.5.0.1", relay.FlagGuard)
	return cons
}

func TestBuildExcludesExitFamilyFromMiddles(t *testing.T) {
	cons := familyConsensus()
	// E and M declare each other; with M excluded no middle carries weight.
	cons.Descriptors["E"].Family = []string{"$M"}
	cons.Descriptors["M"].Family = []string{"$E"}

	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	port := 80
	_, err := b.Build(cons, Params{Time: time.Unix(0, 0).Add(time.Minute), Port: &port}, PeriodCaches{})
	if !simerrors.IsKind(err, simerrors.KindWeightInvariant) {
		t.Fatalf("expected weight invariant error when the only middle shares the exit's family, got: %v", err)
	}
}

func TestBuildSelectsNonFamilyMiddle(t *testing.T) {
	cons := familyConsensus()

	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	port := 80
	circ, err := b.Build(cons, Params{Time: time.Unix(0, 0).Add(time.Minute), Port: &port}, PeriodCaches{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if circ.Exit != "E" {
		t.Errorf("expected E to be the only weighted exit, got %s", circ.Exit)
	}
	if circ.Middle != "M" {
		t.Errorf("expected M to be the only weighted middle, got %s", circ.Middle)
	}
}

func TestBuildRejectsStaleConsensus(t *testing.T) {
	cons := testConsensus(10, time.Unix(0, 0))
	gm := guard.NewManager(1, testGuardCfg(), nil, nil)
	b := NewBuilder(1, gm, nil)

	port := 80
	if _, err := b.Build(cons, Params{Time: cons.ValidAfter, Port: &port}, PeriodCaches{}); err != nil {
		t.Fatalf("build at valid_after should succeed, got: %v", err)
	}
	_, err := b.Build(cons, Params{Time: cons.FreshUntil, Port: &port}, PeriodCaches{})
	if !simerrors.IsKind(err, simerrors.KindStaleConsensus) {
		t.Fatalf("expected stale consensus error at fresh_until, got: %v", err)
	}
	_, err = b.Build(cons, Params{Time: cons.FreshUntil.Add(time.Hour), Port: &port}, PeriodCaches{})
	if !simerrors.IsKind(err, simerrors.KindStaleConsensus) {
		t.Fatalf("expected stale consensus error past fresh_until, got: %v", err)
	}
}
