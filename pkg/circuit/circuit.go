// Package circuit builds three-hop circuits from a consensus, a client's
// guard list, and the constraints a pending stream or port need imposes.
package circuit

import (
	"math/rand"
	"time"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
	"github.com/opd-ai/pathsim/pkg/guard"
	"github.com/opd-ai/pathsim/pkg/logger"
	"github.com/opd-ai/pathsim/pkg/relay"
	"github.com/opd-ai/pathsim/pkg/weight"
)

// Circuit is a single built three-hop path and the period it was built in.
type Circuit struct {
	Time      time.Time
	Fast      bool
	Stable    bool
	Internal  bool
	DirtyTime *time.Time

	Guard  string
	Middle string
	Exit   string

	Consensus *relay.Consensus
	Covering  map[int]struct{}
}

// Params describes the constraints a requested circuit must satisfy.
type Params struct {
	Time     time.Time
	Fast     bool
	Stable   bool
	Internal bool
	IP       *string
	Port     *int
}

// PeriodCaches carries the per-consensus candidate lists and position
// weights a driver computes once per period and reuses across every build
// in that period. The zero value makes Build recompute everything per
// circuit. The weight maps cover the whole consensus and are used only as
// per-relay multipliers, so they stay correct even after family and subnet
// exclusions shrink a build's candidate set.
type PeriodCaches struct {
	PotentialExits   []string
	PotentialMiddles []string
	ExitWeights      map[string]float64
	MiddleWeights    map[string]float64
}

// ComputePeriodCaches runs the basic exit/middle filters and both position
// weightings over a consensus's relays.
func ComputePeriodCaches(cons *relay.Consensus) (PeriodCaches, error) {
	fingerprints := cons.Fingerprints()
	middleWeights, err := weight.PositionWeight(fingerprints, cons.Statuses, weight.PositionMiddle, cons.BandwidthWeights, cons.BWWeightScale)
	if err != nil {
		return PeriodCaches{}, err
	}
	exitWeights, err := weight.PositionWeight(fingerprints, cons.Statuses, weight.PositionExit, cons.BandwidthWeights, cons.BWWeightScale)
	if err != nil {
		return PeriodCaches{}, err
	}
	return PeriodCaches{
		PotentialExits:   relay.FilterExits(cons),
		PotentialMiddles: relay.FilterMiddles(cons),
		ExitWeights:      exitWeights,
		MiddleWeights:    middleWeights,
	}, nil
}

// Builder constructs circuits for a single client against a consensus.
type Builder struct {
	logger *logger.Logger
	rng    *rand.Rand
	guards *guard.Manager
}

// NewBuilder creates a circuit builder for one client.
func NewBuilder(seed int64, guards *guard.Manager, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Builder{
		logger: log.Component("circuit"),
		rng:    rand.New(rand.NewSource(seed)),
		guards: guards,
	}
}

// weightedExits narrows the basic-filtered exit candidates by fast/stable
// and (for non-internal circuits) by whether the relay's exit policy
// accepts the destination, then weights them for the exit position. For
// internal circuits the final hop is chosen like a middle: the exit policy
// is ignored and middle-position weights apply.
func weightedExits(cons *relay.Consensus, p Params, caches PeriodCaches) ([]weight.Candidate, error) {
	if p.Port == nil && !p.Internal {
		return nil, simerrors.New(simerrors.KindMissingPort, "circuit requires a port unless internal")
	}

	potential := caches.PotentialExits
	if potential == nil {
		potential = relay.FilterExits(cons)
	}

	var exits []string
	for _, fprint := range potential {
		status := cons.Statuses[fprint]
		desc := cons.Descriptors[fprint]
		if p.Fast && !status.HasFlag(relay.FlagFast) {
			continue
		}
		if p.Stable && !status.HasFlag(relay.FlagStable) {
			continue
		}
		if p.Internal {
			exits = append(exits, fprint)
			continue
		}
		if p.IP != nil && desc.ExitPolicy != nil {
			if desc.ExitPolicy.CanExitTo(*p.IP, *p.Port) {
				exits = append(exits, fprint)
			}
		} else if relay.CanExitToPort(desc, *p.Port) {
			exits = append(exits, fprint)
		}
	}

	pos := weight.PositionExit
	weights := caches.ExitWeights
	if p.Internal {
		pos = weight.PositionMiddle
		weights = caches.MiddleWeights
	}
	if weights == nil {
		var err error
		weights, err = weight.PositionWeight(exits, cons.Statuses, pos, cons.BandwidthWeights, cons.BWWeightScale)
		if err != nil {
			return nil, err
		}
	}
	return weight.WeightedFingerprints(exits, weights)
}

// weightedMiddles narrows the basic-filtered middle candidates by
// fast/stable and excludes any relay sharing identity, family, or /16
// subnet with either the chosen exit or guard.
func weightedMiddles(cons *relay.Consensus, p Params, caches PeriodCaches, exit, guardFprint string) ([]weight.Candidate, error) {
	potential := caches.PotentialMiddles
	if potential == nil {
		potential = relay.FilterMiddles(cons)
	}

	var middles []string
	for _, fprint := range potential {
		status := cons.Statuses[fprint]
		if p.Fast && !status.HasFlag(relay.FlagFast) {
			continue
		}
		if p.Stable && !status.HasFlag(relay.FlagStable) {
			continue
		}
		if fprint == exit || relay.SameFamily(cons.Descriptors, exit, fprint) {
			continue
		}
		sameAsExit, err := relay.SameSlash16(cons.Descriptors[exit].Address, cons.Descriptors[fprint].Address)
		if err != nil {
			return nil, err
		}
		if sameAsExit {
			continue
		}
		if fprint == guardFprint || relay.SameFamily(cons.Descriptors, guardFprint, fprint) {
			continue
		}
		sameAsGuard, err := relay.SameSlash16(cons.Descriptors[guardFprint].Address, cons.Descriptors[fprint].Address)
		if err != nil {
			return nil, err
		}
		if sameAsGuard {
			continue
		}
		middles = append(middles, fprint)
	}

	weights := caches.MiddleWeights
	if weights == nil {
		var err error
		weights, err = weight.PositionWeight(middles, cons.Statuses, weight.PositionMiddle, cons.BandwidthWeights, cons.BWWeightScale)
		if err != nil {
			return nil, err
		}
	}
	return weight.WeightedFingerprints(middles, weights)
}

// Build selects an exit, a guard, and a middle for the given parameters
// and returns the resulting circuit: exit chosen first, then a guard drawn
// uniformly from the client's usable guard set, then a middle excluded
// from sharing identity/family/subnet with either.
func (b *Builder) Build(cons *relay.Consensus, p Params, caches PeriodCaches) (*Circuit, error) {
	if p.Time.Before(cons.ValidAfter) || !p.Time.Before(cons.FreshUntil) {
		return nil, simerrors.New(simerrors.KindStaleConsensus, "consensus not fresh for circuit time")
	}

	exitCandidates, err := weightedExits(cons, p, caches)
	if err != nil {
		return nil, err
	}
	exitNode, err := weight.Sample(b.rng, exitCandidates)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("selected exit", "fingerprint", exitNode)

	circGuards, err := b.guards.GuardsForCircuit(cons, p.Fast, p.Stable, exitNode, p.Time)
	if err != nil {
		return nil, err
	}
	guardNode := circGuards[b.rng.Intn(len(circGuards))]
	b.logger.Debug("selected guard", "fingerprint", guardNode)

	middleCandidates, err := weightedMiddles(cons, p, caches, exitNode, guardNode)
	if err != nil {
		return nil, err
	}
	middleNode, err := weight.Sample(b.rng, middleCandidates)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("selected middle", "fingerprint", middleNode)

	return &Circuit{
		Time:      p.Time,
		Fast:      p.Fast,
		Stable:    p.Stable,
		Internal:  p.Internal,
		Guard:     guardNode,
		Middle:    middleNode,
		Exit:      exitNode,
		Consensus: cons,
		Covering:  make(map[int]struct{}),
	}, nil
}
