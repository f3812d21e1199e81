// Package aggregate implements the in-memory aggregation core: concurrent
// device, flow, protocol, and VLAN counter tables updated on every
// consumed frame, with no global lock on the hot path.
package aggregate

import (
	"sync/atomic"
	"time"

	"github.com/secuaas/netsentinel/pkg/frame"
)

// State holds every counter table for one aggregator run. It is safe for
// concurrent use by multiple goroutines calling ProcessFrame, and for a
// single reader goroutine (the persister) ranging the tables while
// updates continue concurrently.
type State struct {
	devices   *shardedMap[frame.MacAddr, *Device]
	flows     *shardedMap[FlowKey, *Flow]
	protocols *shardedMap[ProtocolKey, *ProtocolStats]
	vlans     *shardedMap[uint16, *VlanStats]

	TotalPackets atomic.Uint64
	TotalBytes   atomic.Uint64
	TotalDevices atomic.Uint64
	TotalFlows   atomic.Uint64
	ParseErrors  atomic.Uint64
}

// NewState constructs an empty aggregation core.
func NewState() *State {
	return &State{
		devices:   newShardedMap[frame.MacAddr, *Device](),
		flows:     newShardedMap[FlowKey, *Flow](),
		protocols: newShardedMap[ProtocolKey, *ProtocolStats](),
		vlans:     newShardedMap[uint16, *VlanStats](),
	}
}

// ProcessResult reports which identities were newly created while
// processing a single frame.
type ProcessResult struct {
	NewDevice bool
	NewFlow   bool
}

// ProcessFrame folds one decoded record into every relevant counter
// table. now is the wall-clock time of processing; the record's own
// Timestamp field is used only to stamp a newly observed IP's FirstSeen.
func (s *State) ProcessFrame(rec *frame.Record, now time.Time) ProcessResult {
	s.TotalPackets.Add(1)
	s.TotalBytes.Add(uint64(rec.FrameSize))

	var result ProcessResult
	vlanID := rec.EffectiveVLANID()

	_, srcNew := s.devices.GetOrInsert(rec.SrcMAC, func() *Device { return newDevice(rec.SrcMAC, now) })
	if srcNew {
		s.TotalDevices.Add(1)
		result.NewDevice = true
	}
	srcDevice, _ := s.devices.Get(rec.SrcMAC)
	srcDevice.Update(rec.SrcIP, vlanID, uint64(rec.FrameSize), true, now, rec.Timestamp)

	// Broadcast/multicast destinations never get a device entry: the
	// least-significant bit of the first octet marks the group bit.
	if rec.DstMAC[0]&0x01 == 0 {
		_, dstNew := s.devices.GetOrInsert(rec.DstMAC, func() *Device { return newDevice(rec.DstMAC, now) })
		if dstNew {
			s.TotalDevices.Add(1)
			result.NewDevice = true
		}
		dstDevice, _ := s.devices.Get(rec.DstMAC)
		dstDevice.Update(rec.DstIP, vlanID, uint64(rec.FrameSize), false, now, rec.Timestamp)
	}

	flowKey := NewFlowKeyFromRecord(rec)
	_, flowNew := s.flows.GetOrInsert(flowKey, func() *Flow { return newFlow(flowKey, rec.EtherType, now) })
	if flowNew {
		s.TotalFlows.Add(1)
		result.NewFlow = true
	}
	flow, _ := s.flows.Get(flowKey)
	flow.Update(uint64(rec.FrameSize), rec.TCPFlagByte(), rec.TCPFlags != nil, now)

	protoKey := ProtocolKey{EtherType: rec.EtherType}
	if rec.IPProto != nil {
		protoKey.IPProto, protoKey.HasProto = *rec.IPProto, true
	}
	_, _ = s.protocols.GetOrInsert(protoKey, func() *ProtocolStats { return newProtocolStats(protoKey, now) })
	proto, _ := s.protocols.Get(protoKey)
	proto.Update(uint64(rec.FrameSize), now)

	if vlanID != nil {
		_, _ = s.vlans.GetOrInsert(*vlanID, func() *VlanStats { return newVlanStats(*vlanID, rec.OuterVLANID(), now) })
		v, _ := s.vlans.Get(*vlanID)
		v.Update(uint64(rec.FrameSize), now)
	}

	return result
}

// Devices returns every device currently tracked.
func (s *State) Devices() []*Device {
	out := make([]*Device, 0, s.devices.Len())
	s.devices.Range(func(_ frame.MacAddr, v *Device) { out = append(out, v) })
	return out
}

// Flows returns every flow currently tracked.
func (s *State) Flows() []*Flow {
	out := make([]*Flow, 0, s.flows.Len())
	s.flows.Range(func(_ FlowKey, v *Flow) { out = append(out, v) })
	return out
}

// ProtocolStatsAll returns every protocol bucket currently tracked.
func (s *State) ProtocolStatsAll() []*ProtocolStats {
	out := make([]*ProtocolStats, 0, s.protocols.Len())
	s.protocols.Range(func(_ ProtocolKey, v *ProtocolStats) { out = append(out, v) })
	return out
}

// VlanStatsAll returns every VLAN bucket currently tracked.
func (s *State) VlanStatsAll() []*VlanStats {
	out := make([]*VlanStats, 0, s.vlans.Len())
	s.vlans.Range(func(_ uint16, v *VlanStats) { out = append(out, v) })
	return out
}
