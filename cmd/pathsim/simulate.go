package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/opd-ai/pathsim/pkg/metrics"
	"github.com/opd-ai/pathsim/pkg/relay"
	"github.com/opd-ai/pathsim/pkg/sim"
	"github.com/opd-ai/pathsim/pkg/stream"
	"github.com/opd-ai/pathsim/pkg/workload"
	"github.com/spf13/cobra"
)

var (
	streamsFile string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <consensus-snapshot-dir> [num-samples]",
	Args:  cobra.RangeArgs(1, 2),
	Short: "Run the path simulator over a sequence of consensus snapshots",
	Long: `Loads every JSON consensus snapshot in the given directory, in filename
order, and steps num-samples independent simulated clients (default from
config) through each period, assigning a stream workload to circuits and
guards the way a real Tor client would.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&streamsFile, "streams", "", "JSON stream workload file (default: built-in synthetic workload)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("num-samples must be a positive integer, got %q", args[1])
		}
		cfg.Run.NumClients = n
	}
	log := newLogger(cfg)

	paths, err := filepath.Glob(filepath.Join(args[0], "*.json"))
	if err != nil {
		return fmt.Errorf("list consensus snapshots: %w", err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return fmt.Errorf("no consensus snapshots found in %s", args[0])
	}

	periods := make([]*relay.Consensus, 0, len(paths))
	for _, p := range paths {
		cons, err := relay.LoadConsensus(p)
		if err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		periods = append(periods, cons)
	}

	var streams []stream.Stream
	if streamsFile != "" {
		streams, err = loadStreams(streamsFile)
		if err != nil {
			return fmt.Errorf("load streams: %w", err)
		}
	} else {
		streams = workload.Generate(periods[0].ValidAfter, periods[len(periods)-1].FreshUntil)
		log.Info("using default synthetic workload", "count", len(streams))
	}

	stats := metrics.New()
	driver := sim.NewDriver(cfg, streams, log, stats)
	if err := driver.Run(periods); err != nil {
		return fmt.Errorf("run simulation: %w", err)
	}

	snap := stats.Snapshot()
	log.Info("simulation complete",
		"periods", snap.PeriodsProcessed,
		"circuits_built", snap.CircuitsBuilt,
		"circuit_build_errors", snap.CircuitBuildErrors,
		"streams_assigned", snap.StreamsAssigned,
		"streams_dropped", snap.StreamsDropped,
		"guards_added", snap.GuardsAdded,
	)
	return nil
}

type streamJSON struct {
	Time string  `json:"time"`
	Type string  `json:"type"`
	IP   *string `json:"ip,omitempty"`
	Port *int    `json:"port,omitempty"`
}

func loadStreams(path string) ([]stream.Stream, error) {
	docs, err := readJSONArray[streamJSON](path)
	if err != nil {
		return nil, err
	}
	out := make([]stream.Stream, 0, len(docs))
	for _, d := range docs {
		t, err := time.Parse(time.RFC3339, d.Time)
		if err != nil {
			return nil, fmt.Errorf("parse stream time %q: %w", d.Time, err)
		}
		s := stream.Stream{Time: t, Type: stream.Type(d.Type), IP: d.IP, Port: d.Port}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
