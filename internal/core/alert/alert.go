// Package alert defines the Alert record and the Assembler that
// normalizes rule- and anomaly-detector output into alerts, held in a
// bounded in-memory ring.
package alert

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wardenhq/sentryd/internal/core/anomaly"
	"github.com/wardenhq/sentryd/internal/core/errs"
	"github.com/wardenhq/sentryd/internal/core/ruledetect"
)

// Alert is the normalized detection record exposed to external
// collaborators.
type Alert struct {
	ID          string
	Severity    Severity
	Title       string
	Description string
	Timestamp   time.Time
	SourceAddr  string // or "multiple"
	DestAddr    string // or "multiple"
	Status      Status
	Details     map[string]any
}

const minRingCapacity = 1000

// counter provides the monotonically increasing suffix the spec
// requires for uniqueness under sub-second alert bursts.
var counter atomic.Uint64

// Assembler turns detection records into Alerts and holds them in a
// fixed-capacity ring, oldest-evicted-first.
type Assembler struct {
	ring     []Alert
	capacity int
	next     int
	full     bool
}

// NewAssembler returns an Assembler with the given ring capacity,
// clamped up to the spec-mandated minimum of 1000.
func NewAssembler(capacity int) *Assembler {
	if capacity < minRingCapacity {
		capacity = minRingCapacity
	}
	return &Assembler{ring: make([]Alert, capacity), capacity: capacity}
}

func nextID(tag string, ts time.Time, suffix string) string {
	n := counter.Add(1)
	if suffix == "" {
		return fmt.Sprintf("%s_%d_%d", tag, ts.Unix(), n)
	}
	return fmt.Sprintf("%s_%d_%s_%d", tag, ts.Unix(), suffix, n)
}

func (a *Assembler) push(al Alert) Alert {
	a.ring[a.next] = al
	a.next = (a.next + 1) % a.capacity
	if a.next == 0 {
		a.full = true
	}
	return al
}

// AssembleRule builds an Alert from a rule-detector Detection.
func (a *Assembler) AssembleRule(d ruledetect.Detection) Alert {
	var tag, title, desc string
	details := map[string]any{}

	switch d.Kind {
	case ruledetect.PortScan:
		tag = "ps"
		title = "Port Scan Detected"
		desc = fmt.Sprintf("Source %s touched %d distinct destination ports", d.SourceAddr, len(d.PortSet))
		details["port_set"] = d.PortSet
	case ruledetect.Flood:
		tag = "ddos"
		title = "Volumetric Flood Detected"
		desc = fmt.Sprintf("Source %s sent %d packets within the trailing second", d.SourceAddr, d.Count)
		details["count"] = d.Count
	}

	al := Alert{
		ID:          nextID(tag, d.Timestamp, ""),
		Severity:    d.Severity,
		Title:       title,
		Description: desc,
		Timestamp:   d.Timestamp,
		SourceAddr:  d.SourceAddr,
		DestAddr:    "multiple",
		Status:      Active,
		Details:     details,
	}
	return a.push(al)
}

var anomalyTitles = map[anomaly.Metric]string{
	anomaly.PacketRate:      "Unusual Packet Rate Detected",
	anomaly.ConnectionCount: "Abnormal Connection Pattern",
	anomaly.PortCount:       "Unusual Port Usage Pattern",
	anomaly.IPFrequency:     "Abnormal IP Traffic Frequency",
}

// AssembleAnomaly builds an Alert from an anomaly-detector Detection.
func (a *Assembler) AssembleAnomaly(d anomaly.Detection) Alert {
	title := anomalyTitles[d.Metric]
	if title == "" {
		title = "Network Anomaly Detected"
	}
	desc := fmt.Sprintf("%s current=%.2f baseline=%.2f±%.2f z=%.2f", d.Metric, d.Current, d.Mean, d.Std, d.ZScore)

	al := Alert{
		ID:          nextID("anomaly", d.Timestamp, string(d.Metric)),
		Severity:    d.Severity,
		Title:       title,
		Description: desc,
		Timestamp:   d.Timestamp,
		SourceAddr:  d.SourceAddr,
		DestAddr:    "multiple",
		Status:      Active,
		Details: map[string]any{
			"metric":  d.Metric,
			"current": d.Current,
			"mean":    d.Mean,
			"std":     d.Std,
			"z_score": d.ZScore,
		},
	}
	return a.push(al)
}

// Recent returns up to n most recently assembled alerts, newest last.
func (a *Assembler) Recent(n int) []Alert {
	total := a.len()
	if n > total {
		n = total
	}
	out := make([]Alert, 0, n)
	start := a.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + a.capacity) % a.capacity
		out = append(out, a.ring[idx])
	}
	return out
}

func (a *Assembler) len() int {
	if a.full {
		return a.capacity
	}
	return a.next
}

// SetStatus transitions the alert with id to status. Returns
// errs.NotFound if no alert with that id exists in the ring.
func (a *Assembler) SetStatus(id string, status Status) error {
	total := a.len()
	for i := 0; i < total; i++ {
		idx := (a.next - 1 - i + a.capacity*2) % a.capacity
		if a.ring[idx].ID == id {
			a.ring[idx].Status = status
			return nil
		}
	}
	return errs.New(errs.NotFound, "alert.SetStatus", "unknown alert id")
}
