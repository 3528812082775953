// Package simstate holds a single simulated client's guard list, circuit
// pools, and port needs, and drives them forward one time step at a time.
package simstate

import (
	"sort"
	"time"

	"github.com/opd-ai/pathsim/pkg/circuit"
	"github.com/opd-ai/pathsim/pkg/config"
	"github.com/opd-ai/pathsim/pkg/guard"
	"github.com/opd-ai/pathsim/pkg/logger"
	"github.com/opd-ai/pathsim/pkg/metrics"
	"github.com/opd-ai/pathsim/pkg/relay"
	"github.com/opd-ai/pathsim/pkg/stream"
)

// PortNeed tracks an observed demand for circuits able to exit on a given
// port, expiring if unused.
type PortNeed struct {
	Port         int
	CoveredCount int
	Expires      *time.Time
	Fast         bool
	Stable       bool
}

// Client is one simulated Tor client's accumulated path-selection state.
type Client struct {
	ID int

	guards  *guard.Manager
	builder *circuit.Builder
	cfg     *config.Config
	logger  *logger.Logger
	stats   *metrics.Stats

	PortNeeds map[int]*PortNeed

	// Exit-circuit pools: index 0 is the front (most recently touched).
	CleanExit []*circuit.Circuit
	DirtyExit []*circuit.Circuit

	CleanInternal *circuit.Circuit
	DirtyInternal *circuit.Circuit
}

// NewClient creates a client seeded with a single port need on 80,
// matching Tor's startup behavior of keeping a clean fast exit circuit
// that allows connections to port 80.
func NewClient(id int, seed int64, cfg *config.Config, log *logger.Logger, stats *metrics.Stats) *Client {
	if log == nil {
		log = logger.NewDefault()
	}
	if stats == nil {
		stats = metrics.New()
	}
	clientLog := log.Client(id)
	// Guard selection and circuit sampling each get their own PRNG stream
	// derived from the client's seed, so builds and guard additions don't
	// consume from identical sequences.
	base := seed ^ int64(id)
	gm := guard.NewManager(base+1, cfg.Guard, stats, clientLog)
	return &Client{
		ID:      id,
		guards:  gm,
		builder: circuit.NewBuilder(base, gm, clientLog),
		cfg:     cfg,
		logger:  clientLog,
		stats:   stats,
		PortNeeds: map[int]*PortNeed{
			80: {Port: 80, Fast: true},
		},
	}
}

// Guards exposes the client's guard manager for period-start Update calls.
func (c *Client) Guards() *guard.Manager { return c.guards }

func covers(circ *circuit.Circuit, cons *relay.Consensus, need *PortNeed) bool {
	desc := cons.Descriptors[circ.Exit]
	if !relay.CanExitToPort(desc, need.Port) {
		return false
	}
	if need.Fast && !circ.Fast {
		return false
	}
	if need.Stable && !circ.Stable {
		return false
	}
	return true
}

func supportsStream(circ *circuit.Circuit, s stream.Stream, longLived map[int]bool) bool {
	switch s.Type {
	case stream.Resolve:
		return circ.Internal
	case stream.Generic:
		desc := circ.Consensus.Descriptors[circ.Exit]
		if desc.ExitPolicy == nil || !desc.ExitPolicy.CanExitTo(*s.IP, *s.Port) {
			return false
		}
		if circ.Internal {
			return false
		}
		return circ.Stable || !longLived[*s.Port]
	default:
		return false
	}
}

// killOldDirtyCircuits drops dirty circuits older than the configured
// dirty-circuit lifetime. DirtyExit is ordered newest-first, so old
// circuits are trimmed from the back.
func (c *Client) killOldDirtyCircuits(curTime time.Time) {
	cutoff := curTime.Add(-c.cfg.Circuit.DirtyLifetime)
	for len(c.DirtyExit) > 0 {
		last := c.DirtyExit[len(c.DirtyExit)-1]
		if last.DirtyTime == nil || last.DirtyTime.After(cutoff) {
			break
		}
		c.DirtyExit = c.DirtyExit[:len(c.DirtyExit)-1]
	}
	if c.DirtyInternal != nil && c.DirtyInternal.DirtyTime != nil && !c.DirtyInternal.DirtyTime.After(cutoff) {
		c.DirtyInternal = nil
	}
}

func (c *Client) expirePortNeeds(curTime time.Time) {
	for port, need := range c.PortNeeds {
		if need.Expires != nil && !need.Expires.After(curTime) {
			delete(c.PortNeeds, port)
		}
	}
}

// coverUncoveredPorts walks needs in ascending port order so circuit builds
// consume the PRNG in the same sequence every run.
func (c *Client) coverUncoveredPorts(cons *relay.Consensus, curTime time.Time, caches circuit.PeriodCaches) error {
	ports := make([]int, 0, len(c.PortNeeds))
	for port := range c.PortNeeds {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	for _, port := range ports {
		need := c.PortNeeds[port]
		if need.CoveredCount != 0 {
			continue
		}
		newCirc, err := c.builder.Build(cons, circuit.Params{
			Time:   curTime,
			Fast:   need.Fast,
			Stable: need.Stable,
			Port:   &port,
		}, caches)
		if err != nil {
			c.stats.CircuitBuildErrors.Inc()
			return err
		}
		c.stats.CircuitsBuilt.Inc()
		c.CleanExit = append([]*circuit.Circuit{newCirc}, c.CleanExit...)

		for _, n := range c.PortNeeds {
			if covers(newCirc, cons, n) {
				n.CoveredCount++
				newCirc.Covering[n.Port] = struct{}{}
			}
		}
		c.logger.Debug("created circuit to cover port", "port", port, "time", curTime)
	}
	return nil
}

func (c *Client) ensureCleanInternal(cons *relay.Consensus, curTime time.Time, caches circuit.PeriodCaches) error {
	if c.CleanInternal != nil {
		return nil
	}
	newCirc, err := c.builder.Build(cons, circuit.Params{
		Time:     curTime,
		Fast:     true,
		Stable:   true,
		Internal: true,
	}, caches)
	if err != nil {
		c.stats.CircuitBuildErrors.Inc()
		return err
	}
	c.stats.CircuitsBuilt.Inc()
	c.CleanInternal = newCirc
	c.logger.Debug("created clean internal circuit", "time", curTime)
	return nil
}

func (c *Client) assignResolve(cons *relay.Consensus, s stream.Stream, caches circuit.PeriodCaches) error {
	if c.DirtyInternal != nil {
		c.logger.Debug("assigned resolve stream to dirty internal circuit", "time", s.Time)
		return nil
	}
	if c.CleanInternal != nil {
		c.CleanInternal.DirtyTime = &s.Time
		c.DirtyInternal = c.CleanInternal
		c.CleanInternal = nil
		c.logger.Debug("assigned resolve stream to clean internal circuit", "time", s.Time)
		return nil
	}
	newCirc, err := c.builder.Build(cons, circuit.Params{
		Time:     s.Time,
		Fast:     true,
		Stable:   true,
		Internal: true,
	}, caches)
	if err != nil {
		c.stats.CircuitBuildErrors.Inc()
		return err
	}
	c.stats.CircuitsBuilt.Inc()
	newCirc.DirtyTime = &s.Time
	c.DirtyInternal = newCirc
	c.logger.Debug("created new internal circuit for resolve stream", "time", s.Time)
	return nil
}

func (c *Client) assignGeneric(cons *relay.Consensus, s stream.Stream, longLived map[int]bool, caches circuit.PeriodCaches) error {
	for _, circ := range c.DirtyExit {
		if supportsStream(circ, s, longLived) {
			c.logger.Debug("assigned stream to dirty circuit", "port", *s.Port, "time", s.Time)
			return c.recordPortNeed(s, longLived)
		}
	}

	assigned := false
	var remaining []*circuit.Circuit
	for i, circ := range c.CleanExit {
		if !assigned && supportsStream(circ, s, longLived) {
			circ.DirtyTime = &s.Time
			c.DirtyExit = append([]*circuit.Circuit{circ}, c.DirtyExit...)
			for port := range circ.Covering {
				if need, ok := c.PortNeeds[port]; ok {
					need.CoveredCount--
				}
			}
			c.logger.Debug("assigned stream to clean circuit", "port", *s.Port, "time", s.Time)
			assigned = true
			remaining = append(remaining, c.CleanExit[i+1:]...)
			break
		}
		remaining = append(remaining, circ)
	}
	c.CleanExit = remaining

	if !assigned {
		stable := longLived[*s.Port]
		newCirc, err := c.builder.Build(cons, circuit.Params{
			Time:   s.Time,
			Fast:   true,
			Stable: stable,
			IP:     s.IP,
			Port:   s.Port,
		}, caches)
		if err != nil {
			c.stats.CircuitBuildErrors.Inc()
			return err
		}
		c.stats.CircuitsBuilt.Inc()
		newCirc.DirtyTime = &s.Time
		c.DirtyExit = append([]*circuit.Circuit{newCirc}, c.DirtyExit...)
		c.logger.Debug("created circuit to cover stream", "ip", *s.IP, "port", *s.Port, "time", s.Time)
	}

	return c.recordPortNeed(s, longLived)
}

func (c *Client) recordPortNeed(s stream.Stream, longLived map[int]bool) error {
	port := *s.Port
	if need, ok := c.PortNeeds[port]; ok {
		expires := s.Time.Add(c.cfg.Circuit.PortNeedLifetime)
		if need.Expires != nil && need.Expires.Before(expires) {
			need.Expires = &expires
		}
		return nil
	}
	expires := s.Time.Add(c.cfg.Circuit.PortNeedLifetime)
	c.PortNeeds[port] = &PortNeed{
		Port:    port,
		Expires: &expires,
		Fast:    true,
		Stable:  longLived[port],
	}
	return nil
}

// Tick advances this client through one time step, processing the streams
// that fall within [curTime, curTime+timeStep).
func (c *Client) Tick(cons *relay.Consensus, curTime time.Time, streams []stream.Stream, longLived map[int]bool, caches circuit.PeriodCaches) error {
	c.killOldDirtyCircuits(curTime)
	c.expirePortNeeds(curTime)
	if err := c.coverUncoveredPorts(cons, curTime, caches); err != nil {
		return err
	}
	if err := c.ensureCleanInternal(cons, curTime, caches); err != nil {
		return err
	}

	for _, s := range streams {
		err := s.Validate()
		if err == nil {
			switch s.Type {
			case stream.Resolve:
				err = c.assignResolve(cons, s, caches)
			case stream.Generic:
				err = c.assignGeneric(cons, s, longLived, caches)
			}
		}
		if err != nil {
			c.stats.StreamsDropped.Inc()
			return err
		}
		c.stats.StreamsAssigned.Inc()
	}

	c.stats.ActiveCleanExits.Set(int64(len(c.CleanExit)))
	c.stats.ActiveDirtyExits.Set(int64(len(c.DirtyExit)))
	c.stats.ActiveGuards.Set(int64(c.guards.Len()))
	return nil
}
