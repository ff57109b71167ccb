package alert

import (
	"testing"
	"time"

	"github.com/wardenhq/sentryd/internal/core/anomaly"
	"github.com/wardenhq/sentryd/internal/core/errs"
	"github.com/wardenhq/sentryd/internal/core/ruledetect"
)

func TestAssembleRulePortScan(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()
	d := ruledetect.Detection{
		Kind:       ruledetect.PortScan,
		Severity:   High,
		SourceAddr: "10.0.0.9",
		Timestamp:  now,
		PortSet:    []uint16{20, 21, 22, 23, 24, 25},
	}

	al := a.AssembleRule(d)
	if al.Severity != High {
		t.Fatalf("expected high severity, got %s", al.Severity)
	}
	if al.SourceAddr != "10.0.0.9" {
		t.Fatalf("unexpected source addr: %s", al.SourceAddr)
	}
	if al.Status != Active {
		t.Fatalf("expected active status on creation, got %s", al.Status)
	}
}

func TestRingCapacityClampedToMinimum(t *testing.T) {
	a := NewAssembler(10)
	if a.capacity != minRingCapacity {
		t.Fatalf("expected capacity clamped to %d, got %d", minRingCapacity, a.capacity)
	}
}

func TestRingEvictsOldestFirst(t *testing.T) {
	a := NewAssembler(minRingCapacity)
	now := time.Now()
	for i := 0; i < minRingCapacity+5; i++ {
		a.AssembleRule(ruledetect.Detection{Kind: ruledetect.Flood, Severity: High, SourceAddr: "1.1.1.1", Timestamp: now, Count: i})
	}
	recent := a.Recent(minRingCapacity)
	if len(recent) != minRingCapacity {
		t.Fatalf("expected ring to cap at %d entries, got %d", minRingCapacity, len(recent))
	}
	// the oldest 5 should have been evicted; the earliest surviving entry's
	// Count should be 5.
	if recent[0].Details["count"] != 5 {
		t.Fatalf("expected oldest-first eviction, got count %v", recent[0].Details["count"])
	}
}

func TestAssembleAnomaly(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()
	d := anomaly.Detection{
		Metric:     anomaly.PacketRate,
		Severity:   High,
		SourceAddr: "multiple",
		Timestamp:  now,
		Current:    100,
		Mean:       20,
		Std:        2,
		ZScore:     40,
	}
	al := a.AssembleAnomaly(d)
	if al.Title != "Unusual Packet Rate Detected" {
		t.Fatalf("unexpected title: %s", al.Title)
	}
}

func TestSetStatusUnknownID(t *testing.T) {
	a := NewAssembler(0)
	err := a.SetStatus("nonexistent", Resolved)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSetStatusUpdatesExisting(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()
	al := a.AssembleRule(ruledetect.Detection{Kind: ruledetect.PortScan, Severity: High, SourceAddr: "10.0.0.1", Timestamp: now})

	if err := a.SetStatus(al.ID, Resolved); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recent := a.Recent(1)
	if recent[0].Status != Resolved {
		t.Fatalf("expected status resolved, got %s", recent[0].Status)
	}
}
