package rules

import (
	"testing"
	"time"

	"github.com/wardenhq/sentryd/internal/core/alert"
)

func TestMatchEvaluatesCondition(t *testing.T) {
	e := NewEngine(0)
	errs := e.Load([]Rule{{ID: "r1", Condition: `Alert.Severity == "high"`}})
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}

	now := time.Now()
	high := alert.Alert{Severity: alert.High, SourceAddr: "10.0.0.1"}
	low := alert.Alert{Severity: alert.Low, SourceAddr: "10.0.0.1"}

	if got := e.Match(high, now); len(got) != 1 {
		t.Fatalf("expected match on high severity, got %d", len(got))
	}
	if got := e.Match(low, now); len(got) != 0 {
		t.Fatalf("expected no match on low severity, got %d", len(got))
	}
}

func TestMalformedConditionIsSkippedNotFatal(t *testing.T) {
	e := NewEngine(0)
	errs := e.Load([]Rule{
		{ID: "bad", Condition: `Alert.Nonexistent &&& broken`},
		{ID: "good", Condition: `Alert.Severity == "high"`},
	})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one compile error, got %d", len(errs))
	}

	now := time.Now()
	got := e.Match(alert.Alert{Severity: alert.High}, now)
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("expected the well-formed rule to still load and match, got %+v", got)
	}
}

func TestDedupeWindowSuppressesRepeatMatch(t *testing.T) {
	e := NewEngine(time.Minute)
	e.Load([]Rule{{ID: "r1", Condition: `Alert.Severity == "high"`}})

	now := time.Now()
	a := alert.Alert{Severity: alert.High, SourceAddr: "10.0.0.1"}

	if got := e.Match(a, now); len(got) != 1 {
		t.Fatal("expected first match to fire")
	}
	if got := e.Match(a, now.Add(10*time.Second)); len(got) != 0 {
		t.Fatal("expected repeat match within window to be suppressed")
	}
	if got := e.Match(a, now.Add(2*time.Minute)); len(got) != 1 {
		t.Fatal("expected match to fire again once the window elapses")
	}
}

func TestDefaultRulesMatchPortScanTitle(t *testing.T) {
	e := NewEngine(time.Minute)
	if errs := e.Load(DefaultRules()); len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}

	now := time.Now()
	a := alert.Alert{Title: "Port Scan Detected", SourceAddr: "10.0.0.9"}

	got := e.Match(a, now)
	if len(got) != 1 || got[0].ID != PortScanDedupeRuleID {
		t.Fatalf("expected default dedup rule to match a port scan alert, got %+v", got)
	}
	if got := e.Match(a, now.Add(10*time.Second)); len(got) != 0 {
		t.Fatal("expected repeated port scan alert within the window to be deduped")
	}
}

func TestLoadFileMissingPathIsNotAnError(t *testing.T) {
	loaded, err := LoadFile("/nonexistent/sentryd-rules.yaml")
	if err != nil {
		t.Fatalf("unexpected error for missing rules file: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected no rules from a missing file, got %+v", loaded)
	}
}

func TestLoadFileEmptyPathReturnsNil(t *testing.T) {
	loaded, err := LoadFile("")
	if err != nil || loaded != nil {
		t.Fatalf("expected (nil, nil) for an empty path, got (%+v, %v)", loaded, err)
	}
}

func TestDedupeWindowZeroNeverSuppresses(t *testing.T) {
	e := NewEngine(0)
	e.Load([]Rule{{ID: "r1", Condition: `Alert.Severity == "high"`}})

	now := time.Now()
	a := alert.Alert{Severity: alert.High, SourceAddr: "10.0.0.1"}
	for i := 0; i < 5; i++ {
		if got := e.Match(a, now); len(got) != 1 {
			t.Fatalf("expected every call to fire with dedupe disabled, iteration %d", i)
		}
	}
}
