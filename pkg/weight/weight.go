// Package weight computes Tor's consensus bandwidth-weighted selection
// probabilities and samples from them with a seeded PRNG.
package weight

import (
	"math/rand"
	"sort"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
	"github.com/opd-ai/pathsim/pkg/relay"
)

// Position identifies a role a relay is being weighted for.
type Position string

const (
	// PositionGuard weights a relay for the guard (first hop) position.
	PositionGuard Position = "g"
	// PositionMiddle weights a relay for the middle hop position.
	PositionMiddle Position = "m"
	// PositionExit weights a relay for the exit (last hop) position.
	PositionExit Position = "e"
)

// bandwidth-weight keys, as carried in a consensus's "bandwidth-weights" line.
const (
	keyWgg = "Wgg"
	keyWgd = "Wgd"
	keyWgm = "Wgm"
	keyWmg = "Wmg"
	keyWmd = "Wmd"
	keyWme = "Wme"
	keyWmm = "Wmm"
	keyWeg = "Weg"
	keyWed = "Wed"
	keyWee = "Wee"
	keyWem = "Wem"
)

// bwWeightKey returns the bandwidth-weight key for a relay at the given
// position. Returns an error for the guard-position Wge case, which Tor's
// weight generation never produces.
func bwWeightKey(status *relay.Status, pos Position) (string, error) {
	guard := status.HasFlag(relay.FlagGuard)
	exit := status.HasFlag(relay.FlagExit)

	switch pos {
	case PositionGuard:
		switch {
		case guard && exit:
			return keyWgd, nil
		case guard:
			return keyWgg, nil
		case !exit:
			return keyWgm, nil
		default:
			return "", simerrors.New(simerrors.KindUnrepresentableWeight, "Wge weight does not exist")
		}
	case PositionMiddle:
		switch {
		case guard && exit:
			return keyWmd, nil
		case guard:
			return keyWmg, nil
		case exit:
			return keyWme, nil
		default:
			return keyWmm, nil
		}
	case PositionExit:
		switch {
		case guard && exit:
			return keyWed, nil
		case guard:
			return keyWeg, nil
		case exit:
			return keyWee, nil
		default:
			return keyWem, nil
		}
	default:
		return "", simerrors.New(simerrors.KindWeightInvariant, "unsupported position "+string(pos))
	}
}

// BandwidthWeight returns a relay's position weight, scaled by
// BWWeightScale, applied to its consensus bandwidth.
func BandwidthWeight(status *relay.Status, pos Position, bwWeights map[string]int64, scale int64) (float64, error) {
	key, err := bwWeightKey(status, pos)
	if err != nil {
		return 0, err
	}
	if scale == 0 {
		scale = relay.DefaultBWWeightScale
	}
	w := float64(bwWeights[key]) / float64(scale)
	return float64(status.Bandwidth) * w, nil
}

// PositionWeight computes the consensus-bandwidth weight for every named
// relay at the given position.
func PositionWeight(fingerprints []string, statuses map[string]*relay.Status, pos Position, bwWeights map[string]int64, scale int64) (map[string]float64, error) {
	weights := make(map[string]float64, len(fingerprints))
	for _, fprint := range fingerprints {
		status, ok := statuses[fprint]
		if !ok {
			continue
		}
		w, err := BandwidthWeight(status, pos, bwWeights, scale)
		if err != nil {
			return nil, err
		}
		weights[fprint] = w
	}
	return weights, nil
}

// Candidate pairs a relay fingerprint with its raw (unnormalized) weight.
type Candidate struct {
	Fingerprint string
	Weight      float64
}

// Normalize divides each candidate's weight by the sum of all weights, so
// the resulting weights sum to 1. Candidates must already be in the order
// Sample should iterate them (callers sort fingerprints ascending first,
// per the simulator's determinism requirement).
func Normalize(candidates []Candidate) ([]Candidate, error) {
	var total float64
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return nil, simerrors.New(simerrors.KindWeightInvariant, "candidate weights sum to zero")
	}
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = Candidate{Fingerprint: c.Fingerprint, Weight: c.Weight / total}
	}
	return out, nil
}

// Sample picks one candidate using roulette-wheel selection: draw r in
// [0,1) and walk the normalized candidates accumulating weight until the
// cumulative probability reaches r. Candidates must already sum to 1
// (within floating point tolerance); use Normalize first. Exhausting the
// list without a pick violates that contract and is reported as a weight
// invariant error.
func Sample(rng *rand.Rand, candidates []Candidate) (string, error) {
	r := rng.Float64()
	var cum float64
	for _, c := range candidates {
		if r <= cum+c.Weight {
			return c.Fingerprint, nil
		}
		cum += c.Weight
	}
	return "", simerrors.New(simerrors.KindWeightInvariant, "weights must sum to 1")
}

// WeightedFingerprints builds normalized Candidates from a fingerprint list
// and its precomputed weight map, sorting fingerprints ascending first so
// sampling is deterministic for a given PRNG stream.
func WeightedFingerprints(fingerprints []string, weights map[string]float64) ([]Candidate, error) {
	sorted := append([]string(nil), fingerprints...)
	sort.Strings(sorted)
	candidates := make([]Candidate, 0, len(sorted))
	for _, fprint := range sorted {
		candidates = append(candidates, Candidate{Fingerprint: fprint, Weight: weights[fprint]})
	}
	return Normalize(candidates)
}
