package relay

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

// SimplePolicy is a minimal ExitPolicy implementation driven by an ordered
// rule list, for loaders whose snapshot format carries no per-IP policy
// data.
type SimplePolicy struct {
	RuleList []PolicyRule
}

// Rules returns the policy's ordered rules.
func (p SimplePolicy) Rules() []PolicyRule { return p.RuleList }

// CanExitTo evaluates the policy by port only, ignoring ip.
func (p SimplePolicy) CanExitTo(ip string, port int) bool {
	return CanExitToPort(&Descriptor{ExitPolicy: p}, port)
}

type snapshotRelay struct {
	Fingerprint string       `json:"fingerprint"`
	Nickname    string       `json:"nickname"`
	Bandwidth   int64        `json:"bandwidth"`
	Flags       []string     `json:"flags"`
	Address     string       `json:"address"`
	Family      []string     `json:"family"`
	Hibernating bool         `json:"hibernating"`
	ExitPolicy  []PolicyRule `json:"exit_policy"`
}

type snapshotDocument struct {
	ValidAfter       string           `json:"valid_after"`
	FreshUntil       string           `json:"fresh_until"`
	BandwidthWeights map[string]int64 `json:"bandwidth_weights"`
	BWWeightScale    int64            `json:"bwweightscale"`
	Relays           []snapshotRelay  `json:"relays"`
}

// LoadConsensus reads a JSON-encoded consensus snapshot from path and
// builds the Consensus/Descriptor records the simulator core consumes.
// This is one concrete implementation of the caller-supplied parsing
// boundary; callers may substitute any function with this signature.
func LoadConsensus(path string) (*Consensus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindMalformedInput, "read consensus snapshot", err)
	}

	var doc snapshotDocument
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &doc); err != nil {
		return nil, simerrors.Wrap(simerrors.KindMalformedInput, "parse consensus snapshot", err)
	}

	validAfter, err := time.Parse(time.RFC3339, doc.ValidAfter)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindMalformedInput, "parse valid_after", err)
	}
	freshUntil, err := time.Parse(time.RFC3339, doc.FreshUntil)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindMalformedInput, "parse fresh_until", err)
	}

	scale := doc.BWWeightScale
	if scale == 0 {
		scale = DefaultBWWeightScale
	}

	cons := &Consensus{
		ValidAfter:       validAfter,
		FreshUntil:       freshUntil,
		BandwidthWeights: doc.BandwidthWeights,
		BWWeightScale:    scale,
		Statuses:         make(map[string]*Status, len(doc.Relays)),
		Descriptors:      make(map[string]*Descriptor, len(doc.Relays)),
	}
	for _, r := range doc.Relays {
		flags := make(map[string]bool, len(r.Flags))
		for _, f := range r.Flags {
			flags[f] = true
		}
		cons.Statuses[r.Fingerprint] = &Status{
			Nickname:    r.Nickname,
			Fingerprint: r.Fingerprint,
			Bandwidth:   r.Bandwidth,
			Flags:       flags,
		}
		cons.Descriptors[r.Fingerprint] = &Descriptor{
			Fingerprint: r.Fingerprint,
			Nickname:    r.Nickname,
			Address:     r.Address,
			Family:      r.Family,
			ExitPolicy:  SimplePolicy{RuleList: r.ExitPolicy},
			Hibernating: r.Hibernating,
		}
	}
	return cons, nil
}
