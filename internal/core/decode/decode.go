// Package decode parses IPv4 and TCP headers from a raw frame (with the
// link-layer header already stripped) into a normalized packet record.
// Decode is a pure function: it never panics on malformed input and
// carries no state of its own.
package decode

import (
	"encoding/binary"
	"net"

	"github.com/wardenhq/sentryd/internal/core/errs"
)

// Protocol identifies the transport protocol a Packet carries.
type Protocol string

const (
	TCP   Protocol = "TCP"
	Other Protocol = "OTHER"
)

// Packet is the normalized, immutable record the Decoder produces.
type Packet struct {
	Timestamp  float64 // seconds since epoch, monotonic preferred
	SourceAddr net.IP
	DestAddr   net.IP
	Protocol   Protocol
	DestPort   uint16 // valid only when Protocol == TCP
	TCPFlags   uint8  // valid only when Protocol == TCP
}

const (
	minIPHeaderLen  = 20
	tcpHeaderLen    = 20
	protocolNumTCP  = 6
	versionIPv4     = 4
	minIHL          = 5
)

// Decode parses raw as an IPv4 packet. now is the arrival timestamp to
// stamp onto the resulting record. Decode never throws: malformed input
// yields a *errs.CoreError of kind errs.Decode.
func Decode(raw []byte, now float64) (Packet, error) {
	if len(raw) < minIPHeaderLen {
		return Packet{}, errs.New(errs.Decode, "decode.Decode", "frame shorter than minimum IPv4 header")
	}

	versionIHL := raw[0]
	version := versionIHL >> 4
	ihl := versionIHL & 0x0F

	if version != versionIPv4 {
		return Packet{}, errs.New(errs.Decode, "decode.Decode", "not an IPv4 packet")
	}
	if ihl < minIHL {
		return Packet{}, errs.New(errs.Decode, "decode.Decode", "IHL below minimum")
	}

	headerLen := int(ihl) * 4
	if len(raw) < headerLen {
		return Packet{}, errs.New(errs.Decode, "decode.Decode", "frame shorter than declared IP header length")
	}

	protocolNum := raw[9]
	srcIP := net.IPv4(raw[12], raw[13], raw[14], raw[15])
	dstIP := net.IPv4(raw[16], raw[17], raw[18], raw[19])

	pkt := Packet{
		Timestamp:  now,
		SourceAddr: srcIP,
		DestAddr:   dstIP,
		Protocol:   Other,
	}

	if protocolNum == protocolNumTCP && len(raw) >= headerLen+tcpHeaderLen {
		tcp := raw[headerLen : headerLen+tcpHeaderLen]
		pkt.Protocol = TCP
		pkt.DestPort = binary.BigEndian.Uint16(tcp[2:4])
		pkt.TCPFlags = tcp[13]
	}

	return pkt, nil
}
