package localstore

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestOverride_RoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if on, err := s.Override(); err != nil || on {
		t.Fatalf("fresh override=%v err=%v", on, err)
	}
	if err := s.SetOverride(true); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	id1, err := s.InstallationID()
	if err != nil || id1 == "" {
		t.Fatalf("InstallationID: %q %v", id1, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	on, err := s2.Override()
	if err != nil || !on {
		t.Fatalf("override after reopen=%v err=%v", on, err)
	}
	id2, _ := s2.InstallationID()
	if id2 != id1 {
		t.Fatalf("installation id changed: %q -> %q", id1, id2)
	}
	if err := s2.SetOverride(false); err != nil {
		t.Fatalf("SetOverride(false): %v", err)
	}
	if on, _ := s2.Override(); on {
		t.Fatalf("override not cleared")
	}
}

func TestNarrativeRing_TrimsOldest(t *testing.T) {
	s, err := OpenWithRing(filepath.Join(t.TempDir(), "client.db"), 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 1; i <= 7; i++ {
		if err := s.AppendNarrative("Aria", fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.AppendNarrative("Bram", "other player")

	got, err := s.RecentNarrative("Aria", 0)
	if err != nil {
		t.Fatalf("RecentNarrative: %v", err)
	}
	if len(got) != 5 || got[0] != "line 3" || got[4] != "line 7" {
		t.Fatalf("ring=%v", got)
	}
	last2, _ := s.RecentNarrative("Aria", 2)
	if len(last2) != 2 || last2[0] != "line 6" || last2[1] != "line 7" {
		t.Fatalf("last2=%v", last2)
	}
	bram, _ := s.RecentNarrative("Bram", 0)
	if len(bram) != 1 {
		t.Fatalf("bram ring=%v", bram)
	}
}

func TestNarrativeRing_DefaultCap(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	lines := make([]string, 250)
	for i := range lines {
		lines[i] = fmt.Sprintf("l%d", i)
	}
	if err := s.AppendNarrative("Aria", lines...); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := s.RecentNarrative("Aria", 0)
	if len(got) != DefaultRingCap {
		t.Fatalf("len=%d want %d", len(got), DefaultRingCap)
	}
	if got[0] != "l50" || got[len(got)-1] != "l249" {
		t.Fatalf("ring bounds: first=%q last=%q", got[0], got[len(got)-1])
	}
}
