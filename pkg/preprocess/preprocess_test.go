package preprocess

import (
	"testing"
	"time"

	simerrors "github.com/opd-ai/pathsim/pkg/errors"
)

func ts(seconds int64) time.Time { return time.Unix(seconds, 0) }

func TestSelectDescriptorPicksMostRecentBeforePublish(t *testing.T) {
	candidates := []DescriptorRecord{
		{Fingerprint: "A", Published: ts(100), Path: "d100"},
		{Fingerprint: "A", Published: ts(200), Path: "d200"},
		{Fingerprint: "A", Published: ts(300), Path: "d300"},
	}
	got, ok := SelectDescriptor(ts(250), candidates)
	if !ok {
		t.Fatal("expected a qualifying descriptor")
	}
	if got.Path != "d200" {
		t.Errorf("SelectDescriptor() = %s, want d200", got.Path)
	}
}

func TestSelectDescriptorNoneQualify(t *testing.T) {
	candidates := []DescriptorRecord{{Fingerprint: "A", Published: ts(500), Path: "d500"}}
	_, ok := SelectDescriptor(ts(100), candidates)
	if ok {
		t.Error("expected no qualifying descriptor when all are published after the target time")
	}
}

func TestProcessPairsConsensusToDescriptors(t *testing.T) {
	descriptors := []DescriptorRecord{
		{Fingerprint: "A", Published: ts(100), Path: "a-100"},
		{Fingerprint: "A", Published: ts(300), Path: "a-300"},
		{Fingerprint: "B", Published: ts(150), Path: "b-150"},
	}
	consensuses := []ConsensusFile{
		{
			Path:       "cons1",
			ValidAfter: ts(400),
			FreshUntil: ts(500),
			Relays: []StatusRecord{
				{Fingerprint: "A", Published: ts(350)},
				{Fingerprint: "B", Published: ts(200)},
			},
		},
	}

	manifest, err := Process(consensuses, descriptors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest) != 1 {
		t.Fatalf("expected one manifest entry, got %d", len(manifest))
	}
	entry := manifest[0]
	if len(entry.Missing) != 0 {
		t.Errorf("expected no missing descriptors, got %v", entry.Missing)
	}
	wantPaths := map[string]bool{"a-300": true, "b-150": true}
	for _, p := range entry.DescriptorPaths {
		if !wantPaths[p] {
			t.Errorf("unexpected descriptor path in manifest: %s", p)
		}
	}
	if len(entry.DescriptorPaths) != 2 {
		t.Errorf("expected 2 descriptor paths, got %d: %v", len(entry.DescriptorPaths), entry.DescriptorPaths)
	}
}

func TestProcessRecordsMissingDescriptors(t *testing.T) {
	consensuses := []ConsensusFile{
		{
			Path:       "cons1",
			ValidAfter: ts(400),
			FreshUntil: ts(500),
			Relays:     []StatusRecord{{Fingerprint: "Z", Published: ts(300)}},
		},
	}
	manifest, err := Process(consensuses, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest[0].Missing) != 1 || manifest[0].Missing[0] != "Z" {
		t.Errorf("expected relay Z to be recorded missing, got %v", manifest[0].Missing)
	}
}

func TestProcessRejectsEmptyConsensusList(t *testing.T) {
	_, err := Process(nil, nil)
	if !simerrors.IsKind(err, simerrors.KindMalformedInput) {
		t.Error("expected malformed-input error for empty consensus list")
	}
}
