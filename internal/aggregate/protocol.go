package aggregate

import (
	"sync/atomic"
	"time"
)

// ProtocolKey identifies a protocol-stats bucket.
type ProtocolKey struct {
	EtherType uint16
	IPProto   uint8
	HasProto  bool
}

// ProtocolStats counts traffic for one EtherType/IP-protocol combination.
type ProtocolStats struct {
	Key         ProtocolKey
	FirstSeen   time.Time
	lastSeen    atomic.Int64
	PacketCount atomic.Uint64
	ByteCount   atomic.Uint64
}

func newProtocolStats(key ProtocolKey, now time.Time) *ProtocolStats {
	p := &ProtocolStats{Key: key, FirstSeen: now}
	p.lastSeen.Store(now.Unix())
	return p
}

// Update records one observed packet for this protocol bucket.
func (p *ProtocolStats) Update(bytes uint64, now time.Time) {
	p.lastSeen.Store(now.Unix())
	p.PacketCount.Add(1)
	p.ByteCount.Add(bytes)
}

// LastSeen returns the bucket's last-update timestamp.
func (p *ProtocolStats) LastSeen() time.Time {
	return time.Unix(p.lastSeen.Load(), 0).UTC()
}

// VlanStats counts traffic observed on one VLAN id.
type VlanStats struct {
	VLANID      uint16
	OuterVLANID *uint16
	FirstSeen   time.Time
	lastSeen    atomic.Int64
	PacketCount atomic.Uint64
	ByteCount   atomic.Uint64
}

func newVlanStats(vlanID uint16, outer *uint16, now time.Time) *VlanStats {
	v := &VlanStats{VLANID: vlanID, OuterVLANID: outer, FirstSeen: now}
	v.lastSeen.Store(now.Unix())
	return v
}

// Update records one observed packet on this VLAN.
func (v *VlanStats) Update(bytes uint64, now time.Time) {
	v.lastSeen.Store(now.Unix())
	v.PacketCount.Add(1)
	v.ByteCount.Add(bytes)
}

// LastSeen returns the VLAN bucket's last-update timestamp.
func (v *VlanStats) LastSeen() time.Time {
	return time.Unix(v.lastSeen.Load(), 0).UTC()
}
