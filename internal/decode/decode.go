// Package decode implements the pure Layer2-4 frame decoder: a single
// Decode call transforms a raw captured buffer into a frame.Record, with
// no I/O and no shared state. Decode never panics on a malformed or
// truncated buffer; those cases surface as a typed *Error instead.
package decode

import (
	"time"

	"github.com/secuaas/netsentinel/pkg/frame"
)

// Decode parses a raw Ethernet frame captured on ifaceName at ts into a
// normalized record. Only the Ethernet header is mandatory; VLAN tags,
// IPv4, and TCP/UDP layers are parsed best-effort and simply left absent
// from the record when the buffer is too short or the protocol isn't
// recognized. Only a truncated Ethernet header, a truncated VLAN tag, or
// a malformed-but-present IPv4/TCP header (wrong version, IHL/data-offset
// too small) produce an error.
func Decode(ifaceName string, data []byte, ts time.Time) (*frame.Record, error) {
	eth, err := parseEthernet(data)
	if err != nil {
		return nil, err
	}

	rec := &frame.Record{
		Timestamp: ts,
		Interface: ifaceName,
		SrcMAC:    eth.src,
		DstMAC:    eth.dst,
		EtherType: eth.etherType,
		FrameSize: len(data),
	}

	rest := data[ethernetHeaderLen:]
	etherType := eth.etherType

	if isVLANType(etherType) {
		vr, err := stripVLAN(etherType, rest)
		if err != nil {
			return nil, err
		}
		rest = vr.rest
		etherType = vr.etherType
		rec.VLAN = vr.vlan
		rec.QinQ = vr.qinq
		rec.EtherType = etherType
	}

	rec.PayloadSize = len(rest)

	if etherType != frame.EtherTypeIPv4 || len(rest) < ipv4MinHeaderLen {
		return rec, nil
	}

	ip, l4, err := parseIPv4(rest)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == Malformed {
			return nil, err
		}
		// Truncated IPv4: not an error, the record simply carries no L3.
		return rec, nil
	}

	proto := ip.protocol
	rec.SrcIP = ip.srcIP
	rec.DstIP = ip.dstIP
	rec.IPProto = &proto
	ttl := ip.ttl
	rec.TTL = &ttl
	rec.DF = ip.dontFragment
	rec.MF = ip.moreFragments
	rec.FragOff = ip.fragmentOffset
	rec.PayloadSize = len(l4)

	switch proto {
	case frame.IPProtocolTCP:
		if len(l4) < tcpMinHeaderLen {
			return rec, nil
		}
		tcp, err := parseTCP(l4)
		if err != nil {
			if e, ok := err.(*Error); ok && e.Kind == Malformed {
				return nil, err
			}
			return rec, nil
		}
		sp, dp, seq, ack, win := tcp.srcPort, tcp.dstPort, tcp.seq, tcp.ack, tcp.window
		rec.SrcPort = &sp
		rec.DstPort = &dp
		rec.TCPFlags = &tcp.flags
		rec.Seq = &seq
		rec.Ack = &ack
		rec.Window = &win
		rec.PayloadSize = tcp.payloadSize

	case frame.IPProtocolUDP:
		if len(l4) < udpHeaderLen {
			return rec, nil
		}
		udp, err := parseUDP(l4)
		if err != nil {
			return rec, nil
		}
		sp, dp := udp.srcPort, udp.dstPort
		rec.SrcPort = &sp
		rec.DstPort = &dp
		rec.PayloadSize = udp.payloadSize
	}

	return rec, nil
}

func isVLANType(t uint16) bool {
	switch t {
	case frame.EtherTypeVLAN, frame.EtherTypeQinQ, frame.EtherTypeQinQAlt:
		return true
	default:
		return false
	}
}
