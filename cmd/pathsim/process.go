package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/opd-ai/pathsim/pkg/preprocess"
	"github.com/spf13/cobra"
)

var outManifest string

var processCmd = &cobra.Command{
	Use:   "process <descriptor-dir> <consensus-dir>",
	Args:  cobra.ExactArgs(2),
	Short: "Pair relay descriptors to consensus periods",
	Long: `For every consensus snapshot in consensus-dir, finds the descriptor
published most recently at or before each listed relay's publish time among
the snapshots in descriptor-dir, and writes a JSON manifest pairing consensus
files to their resolved descriptor files. The simulate subcommand does not
read this manifest; it loads consensus snapshots directly.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&outManifest, "out", "manifest.json", "output manifest path")
}

type descriptorJSON struct {
	Fingerprint string `json:"fingerprint"`
	Published   string `json:"published"`
	Path        string `json:"path"`
}

type consensusRelayJSON struct {
	Fingerprint string `json:"fingerprint"`
	Published   string `json:"published"`
}

type consensusFileJSON struct {
	Path       string               `json:"path"`
	ValidAfter string               `json:"valid_after"`
	FreshUntil string               `json:"fresh_until"`
	Relays     []consensusRelayJSON `json:"relays"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	_, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	descPaths, err := filepath.Glob(filepath.Join(args[0], "*.json"))
	if err != nil {
		return fmt.Errorf("list descriptor files: %w", err)
	}
	sort.Strings(descPaths)

	var descriptors []preprocess.DescriptorRecord
	for _, p := range descPaths {
		docs, err := readJSONArray[descriptorJSON](p)
		if err != nil {
			return fmt.Errorf("load descriptors from %s: %w", p, err)
		}
		for _, d := range docs {
			published, err := time.Parse(time.RFC3339, d.Published)
			if err != nil {
				return fmt.Errorf("parse descriptor publish time in %s: %w", p, err)
			}
			descriptors = append(descriptors, preprocess.DescriptorRecord{
				Fingerprint: d.Fingerprint,
				Published:   published,
				Path:        d.Path,
			})
		}
	}

	consPaths, err := filepath.Glob(filepath.Join(args[1], "*.json"))
	if err != nil {
		return fmt.Errorf("list consensus files: %w", err)
	}
	sort.Strings(consPaths)

	var consensuses []preprocess.ConsensusFile
	for _, p := range consPaths {
		docs, err := readJSONArray[consensusFileJSON](p)
		if err != nil {
			return fmt.Errorf("load consensus file %s: %w", p, err)
		}
		for _, c := range docs {
			validAfter, err := time.Parse(time.RFC3339, c.ValidAfter)
			if err != nil {
				return fmt.Errorf("parse valid_after in %s: %w", p, err)
			}
			freshUntil, err := time.Parse(time.RFC3339, c.FreshUntil)
			if err != nil {
				return fmt.Errorf("parse fresh_until in %s: %w", p, err)
			}
			relays := make([]preprocess.StatusRecord, 0, len(c.Relays))
			for _, r := range c.Relays {
				published, err := time.Parse(time.RFC3339, r.Published)
				if err != nil {
					return fmt.Errorf("parse relay publish time in %s: %w", p, err)
				}
				relays = append(relays, preprocess.StatusRecord{Fingerprint: r.Fingerprint, Published: published})
			}
			consensuses = append(consensuses, preprocess.ConsensusFile{
				Path:       c.Path,
				ValidAfter: validAfter,
				FreshUntil: freshUntil,
				Relays:     relays,
			})
		}
	}

	manifest, err := preprocess.Process(consensuses, descriptors)
	if err != nil {
		return fmt.Errorf("pair descriptors to consensuses: %w", err)
	}

	if err := writeJSON(outManifest, manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
