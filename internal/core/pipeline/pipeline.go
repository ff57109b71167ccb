// Package pipeline implements the Pipeline Orchestrator: the single
// owner of the dossier store, access lists, traffic log, and anomaly
// state, exposing the serialized control-plane API of spec §6 and
// driving each ingested frame through decode -> list check -> dossier
// update -> rule detectors -> traffic log append.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenhq/sentryd/internal/core/alert"
	"github.com/wardenhq/sentryd/internal/core/anomaly"
	"github.com/wardenhq/sentryd/internal/core/decode"
	"github.com/wardenhq/sentryd/internal/core/dossier"
	"github.com/wardenhq/sentryd/internal/core/lists"
	"github.com/wardenhq/sentryd/internal/core/ruledetect"
)

const (
	linkLayerHeaderLen = 14
	trafficLogCapacity = 1000
	ingestQueueDepth   = 4096
)

// Config holds the control-plane-mutable tunables of spec §6's
// config_set operation.
type Config struct {
	PortScanThreshold int
	DDoSThreshold     int
	Sensitivity       anomaly.Sensitivity
	AutoBlock         bool
	AnomalyEnabled    bool
	PortScanEnabled   bool
	FloodEnabled      bool
	MonitoredPorts    []uint16
	ExcludedAddrs     []string
}

// DefaultConfig returns the medium-sensitivity baseline configuration.
func DefaultConfig() Config {
	ps, ddos := anomaly.RuleThresholdsFor(anomaly.Medium)
	return Config{
		PortScanThreshold: ps,
		DDoSThreshold:     ddos,
		Sensitivity:       anomaly.Medium,
		AutoBlock:         false,
		AnomalyEnabled:    true,
		PortScanEnabled:   true,
		FloodEnabled:      true,
	}
}

type trafficEntry struct {
	timestamp  time.Time
	sourceAddr string
	destPort   uint16
}

// Stats are the coarse counters exposed by Status().
type Stats struct {
	TotalPackets      uint64
	SuspiciousPackets uint64
	BlockedCount      int
	ActiveSources     int
	LastScan          time.Time
	DecodeErrors      uint64
	Dropped           uint64
}

// AnomalyStatus mirrors spec §6's anomaly_status shape.
type AnomalyStatus struct {
	BaselineEstablished    bool
	BaselineProgressPercent float64
	SampleCount            int
	RecentAnomalyCount     int
	CurrentMetrics         anomaly.CurrentMetrics
}

// StatusSnapshot is the full response to Status().
type StatusSnapshot struct {
	Stats             Stats
	RecentAlerts      []alert.Alert
	MonitoringActive  bool
	AnomalyStatus     AnomalyStatus
	Blocklist         []lists.BlockEntry
	Allowlist         []string
	Uptime            time.Duration
}

// Orchestrator is the single owner of all core state.
type Orchestrator struct {
	mu sync.Mutex

	cfg       Config
	dossiers  *dossier.Store
	lists     *lists.Lists
	portScan  *ruledetect.PortScanDetector
	flood     *ruledetect.FloodDetector
	anomalyD  *anomaly.Detector
	assembler *alert.Assembler

	trafficLog []trafficEntry
	startTime  time.Time

	stats Stats

	anomalyAlertTimes []time.Time // for recent_anomaly_count (last hour)

	monitoringActive bool

	ingestCh chan []byte
	stopCh   chan struct{}
	wg       sync.WaitGroup

	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
}

// New returns an Orchestrator ready to Start, with its uptime clock
// beginning at startTime.
func New(cfg Config, startTime time.Time) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		dossiers:  dossier.New(),
		lists:     lists.New(),
		portScan:  ruledetect.NewPortScanDetector(),
		flood:     ruledetect.NewFloodDetector(),
		anomalyD:  anomaly.New(startTime, anomaly.ThresholdsFor(cfg.Sensitivity)),
		assembler: alert.NewAssembler(trafficLogCapacity),
		startTime: startTime,
		ingestCh:  make(chan []byte, ingestQueueDepth),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the single consumer worker draining the ingest queue.
// Per §5, the core runs as one logical worker regardless of how many
// producers call Ingest.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.monitoringActive = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case frame := <-o.ingestCh:
			o.processFrame(frame, time.Now())
		}
	}
}

// Stop raises the stop signal; the worker finishes its in-flight frame
// and exits. Blocks until the worker has exited.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.monitoringActive = false
	o.mu.Unlock()

	close(o.stopCh)
	o.wg.Wait()
}

// Ingest submits a raw frame (link-layer header included) to the bounded
// ingest queue. Non-blocking: if the queue is full, the oldest pending
// frame is dropped to make room (errs.Capacity, never surfaced).
func (o *Orchestrator) Ingest(frame []byte) {
	select {
	case o.ingestCh <- frame:
	default:
		select {
		case <-o.ingestCh:
			o.dropped.Add(1)
		default:
		}
		select {
		case o.ingestCh <- frame:
		default:
			o.dropped.Add(1)
		}
	}
}

func (o *Orchestrator) processFrame(frame []byte, now time.Time) {
	if len(frame) < linkLayerHeaderLen {
		o.decodeErrors.Add(1)
		return
	}
	ipFrame := frame[linkLayerHeaderLen:]

	pkt, err := decode.Decode(ipFrame, float64(now.Unix()))
	if err != nil {
		o.decodeErrors.Add(1)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	src := pkt.SourceAddr.String()

	if o.lists.IsBlocked(src) {
		return
	}
	if o.isExcluded(src) {
		return
	}

	o.stats.TotalPackets++
	o.dossiers.NotePacket(src, now)

	allowlisted := o.lists.IsAllowed(src)

	if pkt.Protocol == decode.TCP {
		o.dossiers.NotePort(src, pkt.DestPort, now)

		if !allowlisted && o.isMonitoredPort(pkt.DestPort) {
			o.runRuleDetectors(src, pkt.DestPort, now)
		}
	}

	o.trafficLog = append(o.trafficLog, trafficEntry{timestamp: now, sourceAddr: src, destPort: pkt.DestPort})
	if len(o.trafficLog) > trafficLogCapacity {
		o.trafficLog = o.trafficLog[len(o.trafficLog)-trafficLogCapacity:]
	}
}

// isExcluded reports whether src is in the operator-configured
// excluded_addrs set — a lighter-weight exemption than the allowlist:
// excluded sources are skipped entirely (no dossier, no traffic-log
// entry), matching the original's placeholder excludedIPs semantics,
// whereas allowlisted sources are still counted and logged per §3.
func (o *Orchestrator) isExcluded(src string) bool {
	for _, addr := range o.cfg.ExcludedAddrs {
		if addr == src {
			return true
		}
	}
	return false
}

// isMonitoredPort reports whether destPort should be considered by the
// rule detectors. An empty monitored_ports list means "monitor every
// port" (the default).
func (o *Orchestrator) isMonitoredPort(destPort uint16) bool {
	if len(o.cfg.MonitoredPorts) == 0 {
		return true
	}
	for _, p := range o.cfg.MonitoredPorts {
		if p == destPort {
			return true
		}
	}
	return false
}

func (o *Orchestrator) runRuleDetectors(src string, destPort uint16, now time.Time) {
	if o.cfg.PortScanEnabled {
		if det, ok := o.portScan.Observe(src, destPort, o.cfg.PortScanThreshold, now); ok {
			o.stats.SuspiciousPackets++
			o.assembler.AssembleRule(det)
			o.dossiers.Log(src, "port_scan", "threshold exceeded", string(det.Severity), now)
			o.maybeAutoBlock(src, "auto: port_scan", now)
		}
	}
	if o.cfg.FloodEnabled {
		recent := o.dossiers.RecentPacketTimes(src)
		if det, ok := o.flood.Observe(src, recent, o.cfg.DDoSThreshold, now); ok {
			o.stats.SuspiciousPackets++
			o.assembler.AssembleRule(det)
			o.dossiers.Log(src, "flood", "threshold exceeded", string(det.Severity), now)
			o.maybeAutoBlock(src, "auto: flood", now)
		}
	}
}

func (o *Orchestrator) maybeAutoBlock(src, reason string, now time.Time) {
	if !o.cfg.AutoBlock {
		return
	}
	if o.lists.IsAllowed(src) {
		return
	}
	_ = o.lists.Block(src, reason, now)
	o.dossiers.SetClassification(src, dossier.Malicious, now)
}

// Tick runs one anomaly-detection pass restricted to the traffic log
// entries within the trailing 60s of now. The orchestrator must not be
// re-entered mid-tick; the mutex enforces that.
func (o *Orchestrator) Tick(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.cfg.AnomalyEnabled {
		o.stats.LastScan = now
		return
	}

	window := make([]anomaly.TrafficEntry, 0, len(o.trafficLog))
	for _, e := range o.trafficLog {
		if now.Sub(e.timestamp) <= 60*time.Second {
			window = append(window, anomaly.TrafficEntry{Timestamp: e.timestamp, SourceAddr: e.sourceAddr, DestPort: e.destPort})
		}
	}

	o.anomalyD.Sample(window, now)

	if o.anomalyD.BaselineEstablished() {
		for _, det := range o.anomalyD.Detect(now) {
			o.assembler.AssembleAnomaly(det)
			o.anomalyAlertTimes = append(o.anomalyAlertTimes, now)
		}
	}

	o.stats.LastScan = now
}

func (o *Orchestrator) recentAnomalyCount(now time.Time) int {
	cut := 0
	for cut < len(o.anomalyAlertTimes) && now.Sub(o.anomalyAlertTimes[cut]) >= time.Hour {
		cut++
	}
	if cut > 0 {
		o.anomalyAlertTimes = o.anomalyAlertTimes[cut:]
	}
	return len(o.anomalyAlertTimes)
}

// Status returns a full snapshot of orchestrator state per spec §6.
func (o *Orchestrator) Status(now time.Time) StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	allow, block := o.lists.Snapshot()
	o.stats.BlockedCount = len(block)
	o.stats.ActiveSources = len(o.dossiers.Addresses())
	o.stats.DecodeErrors = o.decodeErrors.Load()
	o.stats.Dropped = o.dropped.Load()

	return StatusSnapshot{
		Stats:            o.stats,
		RecentAlerts:     o.assembler.Recent(10),
		MonitoringActive: o.monitoringActive,
		AnomalyStatus: AnomalyStatus{
			BaselineEstablished:     o.anomalyD.BaselineEstablished(),
			BaselineProgressPercent: o.anomalyD.BaselineProgressPercent(now),
			SampleCount:             o.anomalyD.DataPointsCollected(),
			RecentAnomalyCount:      o.recentAnomalyCount(now),
			CurrentMetrics:          o.anomalyD.CurrentMetricsSnapshot(),
		},
		Blocklist: block,
		Allowlist: allow,
		Uptime:    now.Sub(o.startTime),
	}
}

// ConfigSet replaces the active configuration with patch; zero-value
// fields in patch that the caller did not intend to set should be
// avoided by passing a fully-populated Config obtained from GetConfig.
// The anomaly multipliers are re-derived from patch.Sensitivity; the
// rule thresholds are taken from patch as given (callers such as
// internal/httpapi derive them from the sensitivity level first).
func (o *Orchestrator) ConfigSet(patch Config) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cfg = patch
	o.anomalyD.SetThresholds(anomaly.ThresholdsFor(patch.Sensitivity))
}

// GetConfig returns the active configuration.
func (o *Orchestrator) GetConfig() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Block adds addr to the blocklist. Fails with errs.Precondition if addr
// is allowlisted.
func (o *Orchestrator) Block(addr string, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.lists.Block(addr, "manual", now); err != nil {
		return err
	}
	o.dossiers.SetClassification(addr, dossier.Malicious, now)
	return nil
}

// Allow adds addr to the allowlist, implicitly removing it from the
// blocklist.
func (o *Orchestrator) Allow(addr string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists.Allow(addr)
	o.dossiers.SetClassification(addr, dossier.Benign, now)
}

// RemoveBlock removes addr from the blocklist.
func (o *Orchestrator) RemoveBlock(addr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists.RemoveBlock(addr)
}

// RemoveAllow removes addr from the allowlist.
func (o *Orchestrator) RemoveAllow(addr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists.RemoveAllow(addr)
}

// Dossier returns a snapshot of addr's dossier, or errs.NotFound.
func (o *Orchestrator) Dossier(addr string) (dossier.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dossiers.Get(addr, o.lists)
}

// SetNotes sets addr's operator notes.
func (o *Orchestrator) SetNotes(addr, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dossiers.SetNotes(addr, text)
}

// GeoEnrich attaches a GeoIP lookup result to addr's dossier. Called
// by the alert-forwarding path once per freshly observed alert source
// rather than per packet, since it's a best-effort enrichment, not a
// detection input.
func (o *Orchestrator) GeoEnrich(addr, country, city string, lat, lon float64, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dossiers.SetGeo(addr, country, city, lat, lon, now)
}

// SetAlertStatus transitions alertID to status.
func (o *Orchestrator) SetAlertStatus(alertID string, status alert.Status) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.assembler.SetStatus(alertID, status)
}
