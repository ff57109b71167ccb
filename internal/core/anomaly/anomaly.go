// Package anomaly implements the baseline-learning, z-score anomaly
// detector: it samples four global/per-source metrics each tick, learns
// a one-time baseline once enough history has accumulated, and reports
// deviations from that frozen baseline.
package anomaly

import (
	"math"
	"time"

	"github.com/wardenhq/sentryd/internal/core/alert"
)

const (
	seriesCapacity       = 100
	defaultBaselinePeriod = 3600 * time.Second
	minBaselineSamples    = 50
	minPerSourceSamples   = 10
)

// Metric identifies which global series a Detection concerns.
type Metric string

const (
	PacketRate       Metric = "packet_rate"
	ConnectionCount  Metric = "connection_count"
	PortCount        Metric = "port_count"
	IPFrequency      Metric = "ip_frequency"
)

// Detection is the record the anomaly detector hands to the alert
// assembler.
type Detection struct {
	Metric     Metric
	Severity   alert.Severity
	SourceAddr string // set for IPFrequency; "multiple" otherwise
	Timestamp  time.Time
	Current    float64
	Mean       float64
	Std        float64
	ZScore     float64
}

// Thresholds are the sensitivity-driven multipliers from spec §4.4.
type Thresholds struct {
	PacketRateMult   float64
	ConnectionMult   float64
	IPFrequencyMult  float64
}

// Sensitivity is the coarse knob jointly setting rule and anomaly
// thresholds.
type Sensitivity string

const (
	High   Sensitivity = "high"
	Medium Sensitivity = "medium"
	Low    Sensitivity = "low"
)

// ThresholdsFor returns the multiplier table for a sensitivity level per
// spec §4.4's table. Unrecognized levels fall back to medium.
func ThresholdsFor(s Sensitivity) Thresholds {
	switch s {
	case High:
		return Thresholds{PacketRateMult: 2.0, ConnectionMult: 2.0, IPFrequencyMult: 1.5}
	case Low:
		return Thresholds{PacketRateMult: 4.0, ConnectionMult: 3.0, IPFrequencyMult: 2.5}
	default:
		return Thresholds{PacketRateMult: 3.0, ConnectionMult: 2.5, IPFrequencyMult: 2.0}
	}
}

// RuleThresholdsFor returns the port-scan and flood thresholds for a
// sensitivity level per spec §4.4's table.
func RuleThresholdsFor(s Sensitivity) (portScanThreshold, ddosThreshold int) {
	switch s {
	case High:
		return 5, 50
	case Low:
		return 20, 200
	default:
		return 10, 100
	}
}

type series struct {
	samples []float64
}

func (s *series) push(v float64) {
	s.samples = append(s.samples, v)
	if len(s.samples) > seriesCapacity {
		s.samples = s.samples[len(s.samples)-seriesCapacity:]
	}
}

// meanStdev returns the sample mean and Bessel-corrected (n-1) standard
// deviation of s. Returns std=0 when fewer than 2 samples exist.
func meanStdev(samples []float64) (mean, std float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(n-1))
	return mean, std
}

// Baseline is the one-time frozen snapshot of global series statistics.
type Baseline struct {
	PacketRateMean      float64
	PacketRateStd       float64
	ConnectionCountMean float64
	ConnectionCountStd  float64
	PortCountMean       float64
	PortCountStd        float64
}

// CurrentMetrics is the set of metrics computed from one tick's traffic
// window.
type CurrentMetrics struct {
	PacketRate      int
	ConnectionCount int
	UniquePorts     int
	IPCounts        map[string]int
}

// Detector holds the rolling series, frozen baseline (once established),
// and per-source frequency series.
type Detector struct {
	startTime      time.Time
	baselinePeriod time.Duration

	packetRateSeries      series
	connectionCountSeries series
	portCountSeries       series
	perSourceSeries       map[string]*series

	baseline    *Baseline
	current     CurrentMetrics
	thresholds  Thresholds
}

// New returns a Detector whose uptime clock starts at startTime.
func New(startTime time.Time, thresholds Thresholds) *Detector {
	return &Detector{
		startTime:      startTime,
		baselinePeriod: defaultBaselinePeriod,
		perSourceSeries: make(map[string]*series),
		thresholds:      thresholds,
	}
}

// SetBaselinePeriod overrides the default 3600s baseline period (test
// hook / operator tuning).
func (d *Detector) SetBaselinePeriod(p time.Duration) { d.baselinePeriod = p }

// SetThresholds updates the active sensitivity thresholds. Does not
// affect an already-established baseline.
func (d *Detector) SetThresholds(t Thresholds) { d.thresholds = t }

// TrafficEntry is the minimal shape the detector needs from a traffic
// log record.
type TrafficEntry struct {
	Timestamp  time.Time
	SourceAddr string
	DestPort   uint16
}

// Sample computes the current metrics from entries restricted to the
// trailing 60s window ending at now, appends them to the rolling
// series, and attempts baseline establishment if not yet established.
// Entries outside the window must already be excluded by the caller
// (the orchestrator hands in the traffic log filtered to the window).
func (d *Detector) Sample(entries []TrafficEntry, now time.Time) {
	metrics := CurrentMetrics{IPCounts: make(map[string]int)}
	ports := make(map[uint16]struct{})

	for _, e := range entries {
		metrics.PacketRate++
		metrics.ConnectionCount++
		ports[e.DestPort] = struct{}{}
		metrics.IPCounts[e.SourceAddr]++
	}
	metrics.UniquePorts = len(ports)
	d.current = metrics

	d.packetRateSeries.push(float64(metrics.PacketRate))
	d.connectionCountSeries.push(float64(metrics.ConnectionCount))
	d.portCountSeries.push(float64(metrics.UniquePorts))

	for src, count := range metrics.IPCounts {
		s, ok := d.perSourceSeries[src]
		if !ok {
			s = &series{}
			d.perSourceSeries[src] = s
		}
		s.push(float64(count))
	}

	if d.baseline == nil {
		d.tryEstablishBaseline(now)
	}
}

func (d *Detector) tryEstablishBaseline(now time.Time) {
	if now.Sub(d.startTime) < d.baselinePeriod {
		return
	}
	if len(d.packetRateSeries.samples) < minBaselineSamples {
		return
	}

	prMean, prStd := meanStdev(d.packetRateSeries.samples)
	ccMean, ccStd := meanStdev(d.connectionCountSeries.samples)
	pcMean, pcStd := meanStdev(d.portCountSeries.samples)

	d.baseline = &Baseline{
		PacketRateMean:      prMean,
		PacketRateStd:       prStd,
		ConnectionCountMean: ccMean,
		ConnectionCountStd:  ccStd,
		PortCountMean:       pcMean,
		PortCountStd:        pcStd,
	}
}

// BaselineEstablished reports whether the one-time baseline has been
// captured.
func (d *Detector) BaselineEstablished() bool { return d.baseline != nil }

// Baseline returns the frozen baseline, or nil if not yet established.
func (d *Detector) Baseline() *Baseline { return d.baseline }

// BaselineProgressPercent returns elapsed-time progress toward baseline
// establishment, capped at 100.
func (d *Detector) BaselineProgressPercent(now time.Time) float64 {
	pct := now.Sub(d.startTime).Seconds() / d.baselinePeriod.Seconds() * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// DataPointsCollected returns the number of samples in the packet-rate
// series (the series all three global metrics grow in lockstep with).
func (d *Detector) DataPointsCollected() int { return len(d.packetRateSeries.samples) }

// CurrentMetricsSnapshot returns the most recently sampled metrics.
func (d *Detector) CurrentMetricsSnapshot() CurrentMetrics { return d.current }

// Detect runs the full detection pass for the current tick's already-
// sampled metrics and returns every Detection that fires. Must be
// called only when BaselineEstablished(); returns nil otherwise.
func (d *Detector) Detect(now time.Time) []Detection {
	if d.baseline == nil {
		return nil
	}

	var out []Detection

	if det, ok := d.detectGlobal(PacketRate, float64(d.current.PacketRate), d.baseline.PacketRateMean, d.baseline.PacketRateStd, d.thresholds.PacketRateMult, now); ok {
		out = append(out, det)
	}
	if det, ok := d.detectGlobal(ConnectionCount, float64(d.current.ConnectionCount), d.baseline.ConnectionCountMean, d.baseline.ConnectionCountStd, d.thresholds.ConnectionMult, now); ok {
		out = append(out, det)
	}
	if det, ok := d.detectPortCount(now); ok {
		out = append(out, det)
	}
	out = append(out, d.detectIPFrequency(now)...)

	return out
}

// detectGlobal implements the packet_rate / connection_count rule:
// severity high if z > 1.5*threshold else medium.
func (d *Detector) detectGlobal(m Metric, current, mean, std, thresholdMult float64, now time.Time) (Detection, bool) {
	if std == 0 {
		return Detection{}, false
	}
	z := math.Abs(current-mean) / std
	if z <= thresholdMult {
		return Detection{}, false
	}
	sev := alert.Medium
	if z > thresholdMult*1.5 {
		sev = alert.High
	}
	return Detection{
		Metric:     m,
		Severity:   sev,
		SourceAddr: "multiple",
		Timestamp:  now,
		Current:    current,
		Mean:       mean,
		Std:        std,
		ZScore:     z,
	}, true
}

// detectPortCount implements port_count, which deliberately reuses
// connection_mult as its threshold (per spec §4.4) with its own
// severity bands: medium if z > 1.2*threshold else low.
func (d *Detector) detectPortCount(now time.Time) (Detection, bool) {
	std := d.baseline.PortCountStd
	if std == 0 {
		return Detection{}, false
	}
	mean := d.baseline.PortCountMean
	current := float64(d.current.UniquePorts)
	thresholdMult := d.thresholds.ConnectionMult

	z := math.Abs(current-mean) / std
	if z <= thresholdMult {
		return Detection{}, false
	}
	sev := alert.Low
	if z > thresholdMult*1.2 {
		sev = alert.Medium
	}
	return Detection{
		Metric:     PortCount,
		Severity:   sev,
		SourceAddr: "multiple",
		Timestamp:  now,
		Current:    current,
		Mean:       mean,
		Std:        std,
		ZScore:     z,
	}, true
}

// detectIPFrequency implements the per-source anomaly: requires at
// least 10 samples in the source's own series before checking.
func (d *Detector) detectIPFrequency(now time.Time) []Detection {
	var out []Detection
	for src, s := range d.perSourceSeries {
		if len(s.samples) < minPerSourceSamples {
			continue
		}
		mean, std := meanStdev(s.samples)
		if std == 0 {
			continue
		}
		current := float64(d.current.IPCounts[src])
		z := math.Abs(current-mean) / std
		if z <= d.thresholds.IPFrequencyMult {
			continue
		}
		sev := alert.Medium
		if z > d.thresholds.IPFrequencyMult*1.5 {
			sev = alert.High
		}
		out = append(out, Detection{
			Metric:     IPFrequency,
			Severity:   sev,
			SourceAddr: src,
			Timestamp:  now,
			Current:    current,
			Mean:       mean,
			Std:        std,
			ZScore:     z,
		})
	}
	return out
}
