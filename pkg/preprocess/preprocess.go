// Package preprocess pairs relay descriptors to the consensus periods that
// reference them, picking for each relay the descriptor published most
// recently at or before the relay's entry in a given consensus. It consumes
// already-parsed records; parsing descriptor and consensus documents is
// left to a caller-supplied loader.
package preprocess

import (
	"sort"
	"time"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

// DescriptorRecord is one relay descriptor as published at a point in time.
type DescriptorRecord struct {
	Fingerprint string
	Published   time.Time
	Path        string
}

// StatusRecord is one relay's entry within a consensus, carrying the
// timestamp the consensus recorded for that relay's descriptor publication.
type StatusRecord struct {
	Fingerprint string
	Published   time.Time
}

// ConsensusFile names a consensus document, its relay entries, and the
// period it covers.
type ConsensusFile struct {
	Path       string
	ValidAfter time.Time
	FreshUntil time.Time
	Relays     []StatusRecord
}

// ManifestEntry records one consensus's path, its period boundaries, and
// the descriptor paths selected for the relays it lists.
type ManifestEntry struct {
	ConsensusPath   string
	ValidAfter      time.Time
	FreshUntil      time.Time
	DescriptorPaths []string
	Missing         []string
}

// byFingerprint groups descriptor records by relay, sorted by publish time
// ascending so SelectDescriptor can do a simple forward scan.
func byFingerprint(descriptors []DescriptorRecord) map[string][]DescriptorRecord {
	grouped := make(map[string][]DescriptorRecord)
	for _, d := range descriptors {
		grouped[d.Fingerprint] = append(grouped[d.Fingerprint], d)
	}
	for fprint := range grouped {
		list := grouped[fprint]
		sort.Slice(list, func(i, j int) bool { return list[i].Published.Before(list[j].Published) })
		grouped[fprint] = list
	}
	return grouped
}

// SelectDescriptor returns the descriptor published most recently at or
// before the given time, among a relay's known descriptors sorted
// ascending by publish time. Returns false if none qualify.
func SelectDescriptor(published time.Time, candidates []DescriptorRecord) (DescriptorRecord, bool) {
	var best DescriptorRecord
	found := false
	for _, d := range candidates {
		if d.Published.After(published) {
			break
		}
		best = d
		found = true
	}
	return best, found
}

// Process pairs every consensus's listed relays with the descriptor
// published most recently at or before that relay's recorded publish time,
// returning one manifest entry per consensus in the input order. Relays
// with no qualifying descriptor are recorded under Missing rather than
// failing the whole pass.
func Process(consensuses []ConsensusFile, descriptors []DescriptorRecord) ([]ManifestEntry, error) {
	if len(consensuses) == 0 {
		return nil, simerrors.New(simerrors.KindMalformedInput, "no consensus files given")
	}
	grouped := byFingerprint(descriptors)

	manifest := make([]ManifestEntry, 0, len(consensuses))
	for _, cons := range consensuses {
		entry := ManifestEntry{
			ConsensusPath: cons.Path,
			ValidAfter:    cons.ValidAfter,
			FreshUntil:    cons.FreshUntil,
		}
		seen := make(map[string]bool)
		for _, relay := range cons.Relays {
			desc, ok := SelectDescriptor(relay.Published, grouped[relay.Fingerprint])
			if !ok {
				entry.Missing = append(entry.Missing, relay.Fingerprint)
				continue
			}
			if seen[desc.Path] {
				continue
			}
			seen[desc.Path] = true
			entry.DescriptorPaths = append(entry.DescriptorPaths, desc.Path)
		}
		manifest = append(manifest, entry)
	}
	return manifest, nil
}
