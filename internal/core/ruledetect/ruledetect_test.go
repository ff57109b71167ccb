package ruledetect

import (
	"testing"
	"time"
)

func TestPortScanFiresOnThresholdCrossingAndEveryPacketAbove(t *testing.T) {
	d := NewPortScanDetector()
	now := time.Now()
	ports := []uint16{20, 21, 22, 23, 24, 25, 26}
	threshold := 5

	var fired []bool
	for _, p := range ports {
		_, ok := d.Observe("10.0.0.9", p, threshold, now)
		fired = append(fired, ok)
	}

	// 6 distinct ports after the 6th packet (port 25) crosses threshold 5.
	want := []bool{false, false, false, false, false, true, true}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("packet %d: expected fired=%v, got %v", i, w, fired[i])
		}
	}
}

func TestPortScanSameDestPortDoesNotInflateCount(t *testing.T) {
	d := NewPortScanDetector()
	now := time.Now()
	for i := 0; i < 10; i++ {
		d.Observe("10.0.0.1", 80, 5, now)
	}
	if d.PortCount("10.0.0.1") != 1 {
		t.Fatalf("expected 1 distinct port, got %d", d.PortCount("10.0.0.1"))
	}
}

func TestFloodFiresAboveThreshold(t *testing.T) {
	fd := NewFloodDetector()
	now := time.Now()
	var recent []time.Time
	for i := 0; i < 51; i++ {
		recent = append(recent, now.Add(-time.Duration(i)*5*time.Millisecond))
	}

	det, ok := fd.Observe("203.0.113.45", recent, 50, now)
	if !ok {
		t.Fatal("expected flood detection to fire")
	}
	if det.Count != 51 {
		t.Fatalf("expected count 51, got %d", det.Count)
	}
	if det.Severity != "high" {
		t.Fatalf("expected high severity, got %s", det.Severity)
	}
}

func TestFloodDoesNotFireAtOrBelowThreshold(t *testing.T) {
	fd := NewFloodDetector()
	now := time.Now()
	var recent []time.Time
	for i := 0; i < 50; i++ {
		recent = append(recent, now.Add(-time.Duration(i)*5*time.Millisecond))
	}
	if _, ok := fd.Observe("203.0.113.45", recent, 50, now); ok {
		t.Fatal("flood must not fire at exactly the threshold")
	}
}

func TestFloodIgnoresEntriesOutsideOneSecondWindow(t *testing.T) {
	fd := NewFloodDetector()
	now := time.Now()
	var recent []time.Time
	for i := 0; i < 60; i++ {
		recent = append(recent, now.Add(-2*time.Second))
	}
	if _, ok := fd.Observe("203.0.113.45", recent, 50, now); ok {
		t.Fatal("entries older than 1s must not count toward the flood window")
	}
}
