// Package ruledetect implements the sliding-window rule detectors:
// port-scan (distinct destination ports touched during uptime) and
// volumetric-flood (packet rate within a 1-second window), both scoped
// to a single source address.
package ruledetect

import (
	"time"

	"github.com/wardenhq/sentryd/internal/core/alert"
)

// Kind identifies which rule detector produced a Detection.
type Kind string

const (
	PortScan Kind = "port_scan"
	Flood    Kind = "flood"
)

// Detection is the record a rule detector hands to the alert assembler.
type Detection struct {
	Kind       Kind
	Severity   alert.Severity
	SourceAddr string
	Timestamp  time.Time
	PortSet    []uint16 // populated for PortScan
	Count      int      // populated for Flood: packets in the 1s window
}

// PortScanDetector tracks, per source address, the set of destination
// ports touched during the process uptime. The set is never evicted —
// it mirrors the source's cumulative intent rather than a sliding
// window, per spec.
type PortScanDetector struct {
	ports map[string]map[uint16]struct{}
}

// NewPortScanDetector returns an empty PortScanDetector.
func NewPortScanDetector() *PortScanDetector {
	return &PortScanDetector{ports: make(map[string]map[uint16]struct{})}
}

// Observe records destPort for src and reports a Detection if the
// source's distinct-port count exceeds threshold. Fires on the
// threshold-crossing packet and on every subsequent packet while above
// threshold — deduplication is the alert assembler's responsibility.
func (d *PortScanDetector) Observe(src string, destPort uint16, threshold int, now time.Time) (Detection, bool) {
	set, ok := d.ports[src]
	if !ok {
		set = make(map[uint16]struct{})
		d.ports[src] = set
	}
	set[destPort] = struct{}{}

	if len(set) <= threshold {
		return Detection{}, false
	}

	ps := make([]uint16, 0, len(set))
	for p := range set {
		ps = append(ps, p)
	}
	return Detection{
		Kind:       PortScan,
		Severity:   alert.High,
		SourceAddr: src,
		Timestamp:  now,
		PortSet:    ps,
	}, true
}

// PortCount returns the number of distinct destination ports observed
// for src so far.
func (d *PortScanDetector) PortCount(src string) int {
	return len(d.ports[src])
}

// Reset clears all tracked state.
func (d *PortScanDetector) Reset() {
	d.ports = make(map[string]map[uint16]struct{})
}

// FloodDetector fires when a source's packet rate within the trailing
// one second exceeds ddos_threshold. It has no state of its own beyond
// the caller-supplied recent-packet-time window — the dossier store
// already maintains that window.
type FloodDetector struct{}

// NewFloodDetector returns a stateless FloodDetector.
func NewFloodDetector() *FloodDetector { return &FloodDetector{} }

// Observe counts entries of recentTimes within 1s of now and reports a
// Detection if that count exceeds threshold.
func (d *FloodDetector) Observe(src string, recentTimes []time.Time, threshold int, now time.Time) (Detection, bool) {
	count := 0
	for _, t := range recentTimes {
		if now.Sub(t) < time.Second {
			count++
		}
	}
	if count <= threshold {
		return Detection{}, false
	}
	return Detection{
		Kind:       Flood,
		Severity:   alert.High,
		SourceAddr: src,
		Timestamp:  now,
		Count:      count,
	}, true
}
