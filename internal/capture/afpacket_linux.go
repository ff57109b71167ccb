//go:build linux

package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"github.com/wardenhq/sentryd/internal/config"
)

type afpacketSource struct {
	handle *afpacket.TPacket
}

func openAFPacket(iface string, cfg config.InterfaceConfig) (Source, error) {
	opts := []afpacket.Option{
		afpacket.Device(iface),
		afpacket.Snaplen(int(cfg.Snaplen)),
		afpacket.Promiscuous(cfg.Promiscuous),
		afpacket.BufferSize(int(cfg.BufferSize)),
		afpacket.Timeout(30 * time.Second),
	}

	handle, err := afpacket.NewTPacket(append([]afpacket.Option{afpacket.TPacketVersion3}, opts...)...)
	if err != nil {
		handle, err = afpacket.NewTPacket(append([]afpacket.Option{afpacket.TPacketVersion1}, opts...)...)
		if err != nil {
			return nil, fmt.Errorf("capture: af_packet open %s: %w", iface, err)
		}
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capture: af_packet bpf filter: %w", err)
		}
	}
	return &afpacketSource{handle: handle}, nil
}

func (s *afpacketSource) ReadPacket() (gopacket.Packet, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		return nil, fmt.Errorf("capture: af_packet read: %w", err)
	}
	return gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.DecodeOptions{
		SkipDecodeRecovery: true,
	}).ApplyMetadata(ci), nil
}

func (s *afpacketSource) Stats() (uint64, uint64, error) {
	stats := s.handle.SocketStats()
	return uint64(stats.Packets), uint64(stats.Drops), nil
}

func (s *afpacketSource) Close() error {
	s.handle.Close()
	return nil
}
