// Package workload generates the simulator's default synthetic stream
// sequence, used when a run is not given an explicit stream file: a resolve
// request immediately followed by a generic port-80 request to a fixed IP,
// repeated every five minutes for the run's duration.
package workload

import (
	"time"

	"github.com/opd-ai/pathsim/pkg/stream"
)

// DefaultIP is the fixed destination address the default workload requests.
const DefaultIP = "204.13.248.100"

// DefaultPort is the port requested by the default workload's generic
// stream.
const DefaultPort = 80

// DefaultInterval is how often the default workload issues a new
// resolve/generic request pair.
const DefaultInterval = 5 * time.Minute

// Generate produces the default synthetic workload spanning [start, end):
// a resolve stream followed immediately by a generic stream to
// DefaultIP:DefaultPort, once per DefaultInterval.
func Generate(start, end time.Time) []stream.Stream {
	return GenerateWith(start, end, DefaultIP, DefaultPort, DefaultInterval)
}

// GenerateWith produces the same pattern as Generate with caller-chosen
// destination and interval, for tests and alternate default workloads.
func GenerateWith(start, end time.Time, ip string, port int, interval time.Duration) []stream.Stream {
	var streams []stream.Stream
	for t := start; t.Before(end); t = t.Add(interval) {
		addr := ip
		p := port
		streams = append(streams,
			stream.Stream{Time: t, Type: stream.Resolve},
			stream.Stream{Time: t, Type: stream.Generic, IP: &addr, Port: &p},
		)
	}
	return streams
}
