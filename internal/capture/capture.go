// Package capture opens a live network interface and feeds raw link-
// layer frames into the pipeline Orchestrator's ingest queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/wardenhq/sentryd/internal/config"
)

// Source is the narrow interface both the libpcap and AF_PACKET
// backends satisfy, so the orchestrator wiring in cmd/sentryd never
// has to know which one is in play.
type Source interface {
	ReadPacket() (gopacket.Packet, error)
	Stats() (received, dropped uint64, err error)
	Close() error
}

// Sink is satisfied by pipeline.Orchestrator; kept narrow so capture
// never depends on the pipeline package directly.
type Sink interface {
	Ingest(frame []byte)
}

// pcapSource wraps a libpcap live handle.
type pcapSource struct {
	handle *pcap.Handle
}

// Open opens iface using libpcap, unless cfg.UseAFPacket requests the
// AF_PACKET backend (Linux only, see afpacket_linux.go).
func Open(iface string, cfg config.InterfaceConfig) (Source, error) {
	if cfg.UseAFPacket {
		return openAFPacket(iface, cfg)
	}

	snaplen := cfg.Snaplen
	if snaplen <= 0 {
		snaplen = 1600
	}
	timeout := 30 * time.Second

	handle, err := pcap.OpenLive(iface, int32(snaplen), cfg.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", iface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capture: bpf filter: %w", err)
		}
	}
	if cfg.BufferSize > 0 {
		_ = handle.SetBufferSize(cfg.BufferSize)
	}

	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) ReadPacket() (gopacket.Packet, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		return nil, fmt.Errorf("capture: read packet: %w", err)
	}
	return gopacket.NewPacket(data, s.handle.LinkType(), gopacket.DecodeOptions{
		NoCopy:             false,
		SkipDecodeRecovery: true,
	}).ApplyMetadata(ci), nil
}

func (s *pcapSource) Stats() (uint64, uint64, error) {
	st, err := s.handle.Stats()
	if err != nil {
		return 0, 0, err
	}
	return uint64(st.PacketsReceived), uint64(st.PacketsDropped), nil
}

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}

// Run reads packets from src until ctx is canceled, forwarding each
// frame's raw bytes to sink.Ingest. A libpcap read timeout is retried;
// any other read error ends the loop and is returned.
func Run(ctx context.Context, src Source, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, err := src.ReadPacket()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			return err
		}
		sink.Ingest(pkt.Data())
	}
}
