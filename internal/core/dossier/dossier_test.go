package dossier

import (
	"testing"
	"time"

	"github.com/wardenhq/sentryd/internal/core/errs"
)

type fakeResolver struct{ status string }

func (f fakeResolver) Status(addr string) string { return f.status }

func TestNotePacketEvictsOlderThan60s(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)

	s.NotePacket("10.0.0.1", base)
	s.NotePacket("10.0.0.1", base.Add(30*time.Second))
	s.NotePacket("10.0.0.1", base.Add(65*time.Second))

	times := s.RecentPacketTimes("10.0.0.1")
	now := base.Add(65 * time.Second)
	for _, ts := range times {
		if now.Sub(ts) >= 60*time.Second {
			t.Fatalf("found stale timestamp %v at now=%v", ts, now)
		}
	}
	// base is 65s old and evicted; base+30s (35s old) and base+65s survive.
	if len(times) != 2 {
		t.Fatalf("expected 2 surviving timestamps, got %d", len(times))
	}
}

func TestNotePortIdempotent(t *testing.T) {
	s := New()
	now := time.Now()
	s.NotePort("10.0.0.2", 80, now)
	s.NotePort("10.0.0.2", 80, now)
	s.NotePort("10.0.0.2", 443, now)

	if s.PortCount("10.0.0.2") != 2 {
		t.Fatalf("expected 2 distinct ports, got %d", s.PortCount("10.0.0.2"))
	}
}

func TestGetUnknownAddressNotFound(t *testing.T) {
	s := New()
	_, err := s.Get("10.0.0.3", fakeResolver{status: "monitoring"})
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetDerivesStatusFromLists(t *testing.T) {
	s := New()
	now := time.Now()
	s.NotePacket("10.0.0.4", now)

	snap, err := s.Get("10.0.0.4", fakeResolver{status: "blocked"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != "blocked" {
		t.Fatalf("expected derived status 'blocked', got %s", snap.Status)
	}
}

func TestDossierNeverDeletedDuringUptime(t *testing.T) {
	s := New()
	now := time.Now()
	s.NotePacket("10.0.0.5", now)
	s.NotePacket("10.0.0.5", now.Add(5*time.Minute)) // well past the 60s recent window

	if !s.Exists("10.0.0.5") {
		t.Fatal("dossier must persist across recent-packet-time eviction")
	}
}

func TestSetNotesRequiresExistingDossier(t *testing.T) {
	s := New()
	if err := s.SetNotes("10.0.0.6", "hello"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound setting notes on unseen address, got %v", err)
	}
}

func TestSetGeoAttachesToSnapshot(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetGeo("10.0.0.7", "US", "Ashburn", 39.04, -77.48, now)

	snap, err := s.Get("10.0.0.7", fakeResolver{status: "monitoring"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.GeoCountry != "US" || snap.GeoCity != "Ashburn" {
		t.Fatalf("expected geo fields to survive snapshot, got %+v", snap)
	}
}
