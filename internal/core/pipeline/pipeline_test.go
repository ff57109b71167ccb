package pipeline

import (
	"testing"
	"time"

	"github.com/wardenhq/sentryd/internal/core/alert"
	"github.com/wardenhq/sentryd/internal/core/anomaly"
)

func frame(srcIP, dstIP [4]byte, destPort uint16) []byte {
	f := make([]byte, linkLayerHeaderLen+20+20)
	ip := f[linkLayerHeaderLen:]
	ip[0] = 0x45 // version 4, IHL 5
	ip[9] = 6    // TCP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])

	tcp := ip[20:40]
	tcp[2] = byte(destPort >> 8)
	tcp[3] = byte(destPort)
	tcp[12] = 0x50

	return f
}

func TestS1PortScanFires(t *testing.T) {
	start := time.Now()
	cfg := DefaultConfig()
	cfg.PortScanThreshold = 5
	o := New(cfg, start)

	src := [4]byte{10, 0, 0, 9}
	dst := [4]byte{192, 168, 1, 1}
	ports := []uint16{20, 21, 22, 23, 24, 25}

	now := start
	for _, p := range ports {
		o.processFrame(frame(src, dst, p), now)
		now = now.Add(time.Millisecond)
	}

	status := o.Status(now)
	if len(status.RecentAlerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(status.RecentAlerts))
	}
	got := status.RecentAlerts[0]
	if got.SourceAddr != "10.0.0.9" || got.Severity != alert.High {
		t.Fatalf("unexpected alert: %+v", got)
	}
}

func TestS2AllowlistExemptsScanning(t *testing.T) {
	start := time.Now()
	cfg := DefaultConfig()
	cfg.PortScanThreshold = 5
	cfg.AutoBlock = true
	o := New(cfg, start)

	src := [4]byte{10, 0, 0, 9}
	dst := [4]byte{192, 168, 1, 1}

	o.Allow("10.0.0.9", start)

	now := start
	for _, p := range []uint16{20, 21, 22, 23, 24, 25} {
		o.processFrame(frame(src, dst, p), now)
		now = now.Add(time.Millisecond)
	}

	status := o.Status(now)
	if len(status.RecentAlerts) != 0 {
		t.Fatalf("expected zero alerts for allowlisted scanner, got %d", len(status.RecentAlerts))
	}
	for _, b := range status.Blocklist {
		if b.Addr == "10.0.0.9" {
			t.Fatal("allowlisted address must never appear in blocklist even with auto_block")
		}
	}
}

func TestS3FloodFires(t *testing.T) {
	start := time.Now()
	cfg := DefaultConfig()
	cfg.DDoSThreshold = 50
	o := New(cfg, start)

	src := [4]byte{203, 0, 113, 45}
	dst := [4]byte{192, 168, 1, 1}

	now := start
	step := 500 * time.Millisecond / 60
	for i := 0; i < 60; i++ {
		o.processFrame(frame(src, dst, 80), now)
		now = now.Add(step)
	}

	status := o.Status(now)
	found := false
	for _, a := range status.RecentAlerts {
		if a.SourceAddr == "203.0.113.45" && a.Severity == alert.High {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a high-severity flood alert")
	}
}

func TestBlockThenAllowViaOrchestrator(t *testing.T) {
	start := time.Now()
	o := New(DefaultConfig(), start)

	if err := o.Block("10.0.0.1", start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.Allow("10.0.0.1", start)

	status := o.Status(start)
	for _, b := range status.Blocklist {
		if b.Addr == "10.0.0.1" {
			t.Fatal("expected address removed from blocklist after allow")
		}
	}
	found := false
	for _, a := range status.Allowlist {
		if a == "10.0.0.1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected address present in allowlist")
	}
}

func TestGeoEnrichReflectedInDossier(t *testing.T) {
	start := time.Now()
	o := New(DefaultConfig(), start)

	o.GeoEnrich("198.51.100.9", "DE", "Frankfurt", 50.11, 8.68, start)

	snap, err := o.Dossier("198.51.100.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.GeoCountry != "DE" || snap.GeoCity != "Frankfurt" {
		t.Fatalf("expected geo enrichment on dossier snapshot, got %+v", snap)
	}
}

// TestAnomalyTickAfterBaseline exercises Tick's wiring (trafficLog window
// -> anomaly.Detector.Sample/Detect -> alert.Assembler) directly, holding
// each tick's synthetic traffic-log window constant rather than routing
// packets through the full ingest path — the anomaly math itself (z-score,
// baseline freeze, severity bands) is covered in internal/core/anomaly.
func TestAnomalyTickAfterBaseline(t *testing.T) {
	start := time.Now()
	cfg := DefaultConfig()
	o := New(cfg, start)
	o.anomalyD.SetBaselinePeriod(0)

	now := start
	src := "192.168.1.50"

	// Warm up with a slightly jittered steady rate so the baseline's std
	// is small but non-zero (a perfectly constant rate would yield std=0
	// and spec requires detectors to emit nothing on a zero-std metric).
	rates := []int{19, 20, 21, 20}
	for i := 0; i < 60; i++ {
		now = now.Add(time.Second)
		o.trafficLog = syntheticWindow(src, rates[i%len(rates)], now)
		o.Tick(now)
	}
	if !o.anomalyD.BaselineEstablished() {
		t.Fatal("expected baseline established")
	}

	now = now.Add(time.Second)
	o.trafficLog = syntheticWindow(src, 100, now)
	o.Tick(now)

	status := o.Status(now)
	foundAnomaly := false
	for _, a := range status.RecentAlerts {
		if m, ok := a.Details["metric"]; ok && m == anomaly.PacketRate {
			foundAnomaly = true
			if a.Severity != alert.High {
				t.Fatalf("expected high severity for a 100 vs ~20 spike, got %s", a.Severity)
			}
		}
	}
	if !foundAnomaly {
		t.Fatal("expected a packet_rate anomaly alert after baseline + spike")
	}
}

func syntheticWindow(src string, count int, now time.Time) []trafficEntry {
	out := make([]trafficEntry, count)
	for i := range out {
		out[i] = trafficEntry{timestamp: now, sourceAddr: src, destPort: 80}
	}
	return out
}

func TestConfigSetUpdatesSensitivityThresholds(t *testing.T) {
	o := New(DefaultConfig(), time.Now())
	cfg := o.GetConfig()
	cfg.Sensitivity = anomaly.High
	ps, ddos := anomaly.RuleThresholdsFor(anomaly.High)
	cfg.PortScanThreshold = ps
	cfg.DDoSThreshold = ddos
	o.ConfigSet(cfg)

	got := o.GetConfig()
	if got.PortScanThreshold != 5 || got.DDoSThreshold != 50 {
		t.Fatalf("expected high-sensitivity thresholds, got %+v", got)
	}
}

func TestCapacityDropDoesNotBlockIngest(t *testing.T) {
	o := New(DefaultConfig(), time.Now())
	src := [4]byte{1, 1, 1, 1}
	dst := [4]byte{2, 2, 2, 2}
	for i := 0; i < ingestQueueDepth+10; i++ {
		o.Ingest(frame(src, dst, 80))
	}
	// Must not deadlock or panic; queue depth is bounded.
	if len(o.ingestCh) > ingestQueueDepth {
		t.Fatalf("ingest queue exceeded capacity: %d", len(o.ingestCh))
	}
}
