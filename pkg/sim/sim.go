// Package sim drives a multi-period, multi-client path-selection simulation
// over a sequence of consensuses and a stream workload.
package sim

import (
	"time"

	"github.com/opd-ai/pathsim/pkg/circuit"
	"github.com/opd-ai/pathsim/pkg/config"
	simerrors "github.com/opd-ai/pathsim/pkg/errors"
	"github.com/opd-ai/pathsim/pkg/logger"
	"github.com/opd-ai/pathsim/pkg/metrics"
	"github.com/opd-ai/pathsim/pkg/relay"
	"github.com/opd-ai/pathsim/pkg/simstate"
	"github.com/opd-ai/pathsim/pkg/stream"
)

// Driver runs the simulation across consensus periods for every client.
type Driver struct {
	cfg    *config.Config
	logger *logger.Logger
	stats  *metrics.Stats

	clients []*simstate.Client

	streams       []stream.Stream
	streamIdx     int
	prevPeriodEnd *time.Time
}

// NewDriver builds a driver with cfg.Run.NumClients clients, seeded from
// cfg.Run.Seed, ready to process consensus periods in order.
func NewDriver(cfg *config.Config, streams []stream.Stream, log *logger.Logger, stats *metrics.Stats) *Driver {
	if log == nil {
		log = logger.NewDefault()
	}
	if stats == nil {
		stats = metrics.New()
	}
	clients := make([]*simstate.Client, cfg.Run.NumClients)
	for i := range clients {
		clients[i] = simstate.NewClient(i, cfg.Run.Seed, cfg, log, stats)
	}
	return &Driver{
		cfg:     cfg,
		logger:  log.Component("driver"),
		stats:   stats,
		clients: clients,
		streams: streams,
	}
}

// Stats returns the driver's shared metrics collector.
func (d *Driver) Stats() *metrics.Stats { return d.stats }

// RunPeriod processes a single consensus period: update every client's
// guard list, precompute basic filters and position weights, then step
// through the period minute-by-minute assigning streams that fall in each
// window. Consecutive periods must exactly cover time with no gap or
// overlap.
func (d *Driver) RunPeriod(cons *relay.Consensus) error {
	if d.prevPeriodEnd != nil && !d.prevPeriodEnd.Equal(cons.ValidAfter) {
		return simerrors.New(simerrors.KindPeriodGap, "gap or overlap in consensus times")
	}

	periodLog := d.logger.Period(cons.ValidAfter.Format(time.RFC3339))
	periodLog.Info("processing consensus period", "relays", len(cons.Statuses))

	for _, client := range d.clients {
		client.Guards().Update(cons)
	}

	caches, err := circuit.ComputePeriodCaches(cons)
	if err != nil {
		return err
	}
	longLived := d.cfg.LongLivedPortSet()

	step := d.cfg.Circuit.TimeStep
	for curTime := cons.ValidAfter; curTime.Before(cons.FreshUntil); curTime = curTime.Add(step) {
		windowEnd := curTime.Add(step)

		start := d.streamIdx
		for start < len(d.streams) && d.streams[start].Time.Before(curTime) {
			start++
		}
		end := start
		for end < len(d.streams) && d.streams[end].Time.Before(windowEnd) {
			end++
		}
		d.streamIdx = start
		window := d.streams[start:end]

		for _, client := range d.clients {
			if err := client.Tick(cons, curTime, window, longLived, caches); err != nil {
				return err
			}
		}
	}

	end := cons.FreshUntil
	d.prevPeriodEnd = &end
	d.stats.PeriodsProcessed.Inc()
	return nil
}

// Run processes a sequence of consecutive consensus periods in order.
func (d *Driver) Run(periods []*relay.Consensus) error {
	for _, cons := range periods {
		if err := d.RunPeriod(cons); err != nil {
			return err
		}
	}
	return nil
}
