package aggregate

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/secuaas/netsentinel/pkg/frame"
)

// FlowKey is the full 8-element identity tuple for a bidirectional flow.
type FlowKey struct {
	SrcMAC   frame.MacAddr
	DstMAC   frame.MacAddr
	SrcIP    string // net.IP.String(), "" when absent
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	HasPorts bool
	VLANID   uint16
	HasVLAN  bool
	IPProto  uint8
	HasProto bool
}

// NewFlowKeyFromRecord builds a FlowKey from a decoded record.
func NewFlowKeyFromRecord(rec *frame.Record) FlowKey {
	k := FlowKey{SrcMAC: rec.SrcMAC, DstMAC: rec.DstMAC}
	if rec.SrcIP != nil {
		k.SrcIP = rec.SrcIP.String()
	}
	if rec.DstIP != nil {
		k.DstIP = rec.DstIP.String()
	}
	if rec.SrcPort != nil && rec.DstPort != nil {
		k.SrcPort, k.DstPort, k.HasPorts = *rec.SrcPort, *rec.DstPort, true
	}
	if vid := rec.EffectiveVLANID(); vid != nil {
		k.VLANID, k.HasVLAN = *vid, true
	}
	if rec.IPProto != nil {
		k.IPProto, k.HasProto = *rec.IPProto, true
	}
	return k
}

// Flow is the in-memory counter record for one flow tuple.
type Flow struct {
	ID        uuid.UUID
	Key       FlowKey
	EtherType uint16
	FirstSeen time.Time

	lastSeen atomic.Int64

	PacketCount   atomic.Uint64
	ByteCount     atomic.Uint64
	tcpFlagsSeen  atomic.Uint32 // stores a single byte, widened for atomic support
	dirty         atomic.Bool
}

func newFlow(key FlowKey, etherType uint16, now time.Time) *Flow {
	f := &Flow{ID: uuid.New(), Key: key, EtherType: etherType, FirstSeen: now}
	f.lastSeen.Store(now.Unix())
	f.dirty.Store(true)
	return f
}

// Update records one observed packet against the flow.
func (f *Flow) Update(bytes uint64, tcpFlagByte uint8, hasTCP bool, now time.Time) {
	f.lastSeen.Store(now.Unix())
	f.PacketCount.Add(1)
	f.ByteCount.Add(bytes)
	if hasTCP {
		for {
			old := f.tcpFlagsSeen.Load()
			updated := old | uint32(tcpFlagByte)
			if updated == old || f.tcpFlagsSeen.CompareAndSwap(old, updated) {
				break
			}
		}
	}
	f.dirty.Store(true)
}

// LastSeen returns the flow's last-update timestamp.
func (f *Flow) LastSeen() time.Time {
	return time.Unix(f.lastSeen.Load(), 0).UTC()
}

// TCPFlagsSeen returns the bitwise-OR of every TCP flag byte observed.
func (f *Flow) TCPFlagsSeen() uint8 {
	return uint8(f.tcpFlagsSeen.Load())
}

// IsTCPCompleted reports whether FIN or RST has been observed (mask 0x05).
func (f *Flow) IsTCPCompleted() bool {
	return f.TCPFlagsSeen()&0x05 != 0
}

// IsDirty reports whether the flow has changed since the last clear.
func (f *Flow) IsDirty() bool { return f.dirty.Load() }

// ClearDirty resets the dirty flag.
func (f *Flow) ClearDirty() { f.dirty.Store(false) }

// SrcIPAddr parses the key's source IP back into a net.IP, or nil.
func (k FlowKey) SrcIPAddr() net.IP {
	if k.SrcIP == "" {
		return nil
	}
	return net.ParseIP(k.SrcIP)
}

// DstIPAddr parses the key's destination IP back into a net.IP, or nil.
func (k FlowKey) DstIPAddr() net.IP {
	if k.DstIP == "" {
		return nil
	}
	return net.ParseIP(k.DstIP)
}
