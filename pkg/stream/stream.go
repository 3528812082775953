// Package stream defines the stream-request record consumed by the
// simulator's client-state driver.
package stream

import (
	"time"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

// Type is the kind of stream request being simulated.
type Type string

const (
	// Resolve is a name-resolution request, satisfied by any internal circuit.
	Resolve Type = "resolve"
	// Generic is any other TCP connection, requiring exit-policy evaluation.
	Generic Type = "generic"
)

// Stream is a single simulated client request.
type Stream struct {
	Time time.Time
	Type Type
	IP   *string
	Port *int
}

// Validate checks a stream's required fields for its declared Type.
func (s *Stream) Validate() error {
	switch s.Type {
	case Resolve:
		return nil
	case Generic:
		if s.IP == nil {
			return simerrors.New(simerrors.KindMalformedInput, "generic stream must have an IP")
		}
		if s.Port == nil {
			return simerrors.New(simerrors.KindMalformedInput, "generic stream must have a port")
		}
		return nil
	default:
		return simerrors.New(simerrors.KindMalformedInput, "unrecognized stream type: "+string(s.Type))
	}
}

// LongLivedPorts lists the ports Tor's path-spec treats as long-lived,
// requiring a Stable circuit regardless of the stream's own preference.
var LongLivedPorts = []int{21, 22, 706, 1863, 5050, 5190, 5222, 5223, 6667, 6697, 8300}
