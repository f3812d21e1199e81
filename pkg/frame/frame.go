// Package frame defines the normalized record produced by the decoder and
// carried across the broker between the capture and aggregation engines.
package frame

import (
	"fmt"
	"net"
	"time"
)

// EtherType values recognized by the decoder. Values not listed here are
// still carried on Record.EtherType but receive no further parsing.
const (
	EtherTypeIPv4    uint16 = 0x0800
	EtherTypeARP     uint16 = 0x0806
	EtherTypeVLAN    uint16 = 0x8100
	EtherTypeQinQ    uint16 = 0x88A8
	EtherTypeQinQAlt uint16 = 0x9100
	EtherTypeIPv6    uint16 = 0x86DD
	EtherTypeMPLS    uint16 = 0x8847
	EtherTypeLLDP    uint16 = 0x88CC
)

// IP protocol numbers used by the decoder and the protocol-name helper.
const (
	IPProtocolICMP uint8 = 1
	IPProtocolTCP  uint8 = 6
	IPProtocolUDP  uint8 = 17
)

// MacAddr is a 6-byte Ethernet hardware address.
type MacAddr [6]byte

// MacAddrFromBytes builds a MacAddr from a 6-byte slice. Panics if the
// slice is shorter than 6 bytes; callers are expected to have already
// validated the buffer length.
func MacAddrFromBytes(b []byte) MacAddr {
	var m MacAddr
	copy(m[:], b[:6])
	return m
}

// String renders the address as lowercase colon-separated hex.
func (m MacAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// MarshalJSON renders the address the same way String does, matching the
// wire format produced by the reference capture engine.
func (m MacAddr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON parses a lowercase-or-uppercase colon-separated address.
func (m *MacAddr) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("frame: invalid mac address literal %q", data)
	}
	hw, err := net.ParseMAC(string(data[1 : len(data)-1]))
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("frame: invalid mac address %q: %w", data, err)
	}
	copy(m[:], hw)
	return nil
}

// IsBroadcast reports whether the address is the all-ones broadcast address.
func (m MacAddr) IsBroadcast() bool {
	for _, b := range m {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// IsMulticast reports whether the group bit (LSB of the first octet) is
// set. Broadcast addresses are also multicast under this test.
func (m MacAddr) IsMulticast() bool {
	return m[0]&0x01 == 0x01
}

// OUIPrefix formats the first three octets as "XX:XX:XX" in uppercase hex.
func (m MacAddr) OUIPrefix() string {
	return fmt.Sprintf("%02X:%02X:%02X", m[0], m[1], m[2])
}

// VlanTag is a single 802.1Q tag.
type VlanTag struct {
	ID       uint16 `json:"id"`
	Priority uint8  `json:"priority"`
	DEI      bool   `json:"dei"`
}

// VlanTagFromTCI decomposes a raw 16-bit tag control information field.
func VlanTagFromTCI(tci uint16) VlanTag {
	return VlanTag{
		ID:       tci & 0x0FFF,
		Priority: uint8((tci >> 13) & 0x7),
		DEI:      (tci>>12)&0x1 == 1,
	}
}

// TCI reconstructs the 16-bit tag control information field.
func (v VlanTag) TCI() uint16 {
	tci := v.ID & 0x0FFF
	tci |= uint16(v.Priority&0x7) << 13
	if v.DEI {
		tci |= 1 << 12
	}
	return tci
}

// QinQInfo is a double VLAN tag (802.1ad).
type QinQInfo struct {
	Outer VlanTag `json:"outer"`
	Inner VlanTag `json:"inner"`
}

// TCPFlags is the 8-bit flag field from a TCP header.
type TCPFlags struct {
	FIN bool `json:"fin"`
	SYN bool `json:"syn"`
	RST bool `json:"rst"`
	PSH bool `json:"psh"`
	ACK bool `json:"ack"`
	URG bool `json:"urg"`
	ECE bool `json:"ece"`
	CWR bool `json:"cwr"`
}

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagPSH = 0x08
	tcpFlagACK = 0x10
	tcpFlagURG = 0x20
	tcpFlagECE = 0x40
	tcpFlagCWR = 0x80
)

// TCPFlagsFromByte decodes the raw flag octet.
func TCPFlagsFromByte(b uint8) TCPFlags {
	return TCPFlags{
		FIN: b&tcpFlagFIN != 0,
		SYN: b&tcpFlagSYN != 0,
		RST: b&tcpFlagRST != 0,
		PSH: b&tcpFlagPSH != 0,
		ACK: b&tcpFlagACK != 0,
		URG: b&tcpFlagURG != 0,
		ECE: b&tcpFlagECE != 0,
		CWR: b&tcpFlagCWR != 0,
	}
}

// ToByte re-encodes the flags into the raw octet. Round-trips exactly with
// TCPFlagsFromByte.
func (f TCPFlags) ToByte() uint8 {
	var b uint8
	if f.FIN {
		b |= tcpFlagFIN
	}
	if f.SYN {
		b |= tcpFlagSYN
	}
	if f.RST {
		b |= tcpFlagRST
	}
	if f.PSH {
		b |= tcpFlagPSH
	}
	if f.ACK {
		b |= tcpFlagACK
	}
	if f.URG {
		b |= tcpFlagURG
	}
	if f.ECE {
		b |= tcpFlagECE
	}
	if f.CWR {
		b |= tcpFlagCWR
	}
	return b
}

// IsConnectionTerminator reports whether the flag set includes FIN or RST,
// the two flags that mark a TCP flow as completed.
func (f TCPFlags) IsConnectionTerminator() bool {
	b := f.ToByte()
	return b&(tcpFlagFIN|tcpFlagRST) != 0
}

// Record is the normalized, decoder-produced representation of one
// captured frame. Optional layers are nil/zero when absent.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Interface string    `json:"interface"`

	SrcMAC    MacAddr `json:"src_mac"`
	DstMAC    MacAddr `json:"dst_mac"`
	EtherType uint16  `json:"ether_type"`

	VLAN *VlanTag  `json:"vlan,omitempty"`
	QinQ *QinQInfo `json:"qinq,omitempty"`

	SrcIP    net.IP `json:"src_ip,omitempty"`
	DstIP    net.IP `json:"dst_ip,omitempty"`
	IPProto  *uint8 `json:"ip_protocol,omitempty"`
	TTL      *uint8 `json:"ttl,omitempty"`
	DF       bool   `json:"df,omitempty"`
	MF       bool   `json:"mf,omitempty"`
	FragOff  uint16 `json:"fragment_offset,omitempty"`

	SrcPort  *uint16   `json:"src_port,omitempty"`
	DstPort  *uint16   `json:"dst_port,omitempty"`
	TCPFlags *TCPFlags `json:"tcp_flags,omitempty"`
	Seq      *uint32   `json:"seq,omitempty"`
	Ack      *uint32   `json:"ack,omitempty"`
	Window   *uint16   `json:"window,omitempty"`

	FrameSize   int `json:"frame_size"`
	PayloadSize int `json:"payload_size"`
}

// EffectiveVLANID returns the VLAN id that should be used for aggregation
// keys: the QinQ inner id if double-tagged, else the single tag id, else
// nil when the frame is untagged.
func (r *Record) EffectiveVLANID() *uint16 {
	if r.QinQ != nil {
		id := r.QinQ.Inner.ID
		return &id
	}
	if r.VLAN != nil {
		id := r.VLAN.ID
		return &id
	}
	return nil
}

// OuterVLANID returns the outer tag id under QinQ, nil otherwise.
func (r *Record) OuterVLANID() *uint16 {
	if r.QinQ != nil {
		id := r.QinQ.Outer.ID
		return &id
	}
	return nil
}

// TCPFlagByte returns the raw TCP flag octet, or 0 if the record carries
// no TCP layer.
func (r *Record) TCPFlagByte() uint8 {
	if r.TCPFlags == nil {
		return 0
	}
	return r.TCPFlags.ToByte()
}

// ProtocolName returns a human-readable label for the record's protocol
// stack, nesting the IP protocol name under "IPv4" the way the reference
// aggregator's protocol-stats table does.
func (r *Record) ProtocolName() string {
	switch r.EtherType {
	case EtherTypeIPv4:
		if r.IPProto == nil {
			return "IPv4"
		}
		switch *r.IPProto {
		case IPProtocolTCP:
			return "IPv4/TCP"
		case IPProtocolUDP:
			return "IPv4/UDP"
		case IPProtocolICMP:
			return "IPv4/ICMP"
		default:
			return fmt.Sprintf("IPv4/%d", *r.IPProto)
		}
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeMPLS:
		return "MPLS"
	case EtherTypeLLDP:
		return "LLDP"
	default:
		return fmt.Sprintf("0x%04X", r.EtherType)
	}
}
