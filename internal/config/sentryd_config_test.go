package config

import (
	"testing"

	"github.com/wardenhq/sentryd/internal/core/anomaly"
)

func TestPresetLightDisablesAnomaly(t *testing.T) {
	cfg, err := Preset("light")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detection.AnomalyEnabled {
		t.Fatal("expected light preset to disable anomaly detection")
	}
	if cfg.Detection.Sensitivity != "low" {
		t.Fatalf("expected low sensitivity, got %s", cfg.Detection.Sensitivity)
	}
}

func TestPresetAggressiveEnablesAutoBlock(t *testing.T) {
	cfg, err := Preset("aggressive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Detection.AutoBlock {
		t.Fatal("expected aggressive preset to enable auto_block")
	}
}

func TestPresetUnknownNameErrors(t *testing.T) {
	if _, err := Preset("nonexistent"); err == nil {
		t.Fatal("expected error for unknown preset name")
	}
}

func TestToPipelineConfigDerivesThresholdsFromSensitivity(t *testing.T) {
	d := DetectionConfig{Sensitivity: "high", AnomalyEnabled: true, PortScanEnabled: true, FloodEnabled: true}
	pc := d.ToPipelineConfig()
	if pc.Sensitivity != anomaly.High {
		t.Fatalf("expected high sensitivity, got %v", pc.Sensitivity)
	}
	wantPS, wantDDoS := anomaly.RuleThresholdsFor(anomaly.High)
	if pc.PortScanThreshold != wantPS || pc.DDoSThreshold != wantDDoS {
		t.Fatalf("thresholds not derived from sensitivity: %+v", pc)
	}
}

func TestToPipelineConfigConvertsMonitoredPorts(t *testing.T) {
	d := DetectionConfig{MonitoredPorts: []int{22, 80, 443}}
	pc := d.ToPipelineConfig()
	if len(pc.MonitoredPorts) != 3 || pc.MonitoredPorts[1] != 80 {
		t.Fatalf("expected monitored ports converted to uint16, got %v", pc.MonitoredPorts)
	}
}
