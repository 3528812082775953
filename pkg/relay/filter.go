package relay

import (
	"sort"
	"strconv"
	"strings"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

// SameFamily reports whether two relays list each other in their family
// (both directions must list the other, by fingerprint or nickname).
func SameFamily(descriptors map[string]*Descriptor, a, b string) bool {
	descA, okA := descriptors[a]
	descB, okB := descriptors[b]
	if !okA || !okB {
		return false
	}
	aListsB := listsMember(descA.Family, descB.Fingerprint, descB.Nickname)
	bListsA := listsMember(descB.Family, descA.Fingerprint, descA.Nickname)
	return aListsB && bListsA
}

func listsMember(family []string, fingerprint, nickname string) bool {
	for _, member := range family {
		if member == "$"+fingerprint || member == nickname {
			return true
		}
	}
	return false
}

// SameSlash16 reports whether two dotted-quad IPv4 addresses share their
// first two octets. Returns a KindMalformedInput error if either address
// cannot be parsed as a dotted-quad IPv4 string.
func SameSlash16(address1, address2 string) (bool, error) {
	a1, a2, err := firstTwoOctets(address1)
	if err != nil {
		return false, err
	}
	b1, b2, err := firstTwoOctets(address2)
	if err != nil {
		return false, err
	}
	return a1 == b1 && a2 == b2, nil
}

func firstTwoOctets(address string) (string, string, error) {
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return "", "", simerrors.New(simerrors.KindMalformedInput, "address is not a dotted-quad IPv4 string: "+address)
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return "", "", simerrors.New(simerrors.KindMalformedInput, "address octet is not numeric: "+address)
		}
	}
	return parts[0], parts[1], nil
}

// CanExitToPort reports whether there is some IP a relay will exit to on
// the given port, by scanning its exit policy's ordered rules for the
// first matching rule. No matching rule defaults to accept.
func CanExitToPort(desc *Descriptor, port int) bool {
	if desc.ExitPolicy == nil {
		return true
	}
	var decided bool
	canExit := true
	for _, rule := range desc.ExitPolicy.Rules() {
		if port < rule.MinPort || port > rule.MaxPort {
			continue
		}
		if rule.Accept && !decided {
			canExit = true
			decided = true
		} else if !rule.Accept && rule.AddressWildcard && !decided {
			canExit = false
			decided = true
		}
	}
	return canExit
}

// FilterExits applies the basic exit filter: not BadExit, Running, Valid,
// and not hibernating. Returns fingerprints sorted ascending.
func FilterExits(cons *Consensus) []string {
	var exits []string
	for fprint, status := range cons.Statuses {
		desc, ok := cons.Descriptors[fprint]
		if !ok {
			continue
		}
		if !status.HasFlag(FlagBadExit) && status.HasFlag(FlagRunning) &&
			status.HasFlag(FlagValid) && !desc.Hibernating {
			exits = append(exits, fprint)
		}
	}
	sort.Strings(exits)
	return exits
}

// FilterMiddles applies the basic middle filter: Running and not
// hibernating. Returns fingerprints sorted ascending.
func FilterMiddles(cons *Consensus) []string {
	var middles []string
	for fprint, status := range cons.Statuses {
		desc, ok := cons.Descriptors[fprint]
		if !ok {
			continue
		}
		if status.HasFlag(FlagRunning) && !desc.Hibernating {
			middles = append(middles, fprint)
		}
	}
	sort.Strings(middles)
	return middles
}
