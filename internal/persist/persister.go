package persist

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/secuaas/netsentinel/internal/aggregate"
	"go.uber.org/zap"
)

// Persister flushes the aggregation core into the database on a fixed
// interval, and once more on shutdown. The device-id cache it maintains
// between passes is touched only from this goroutine and is therefore
// plain, unsynchronized storage, matching the single-threaded HashMap the
// reference persister keeps for the same purpose.
type Persister struct {
	interval time.Duration
	state    *aggregate.State
	db       *Database
	logger   *zap.Logger

	deviceIDs map[string]uuid.UUID
}

// NewPersister constructs a persister for the given aggregation core.
func NewPersister(interval time.Duration, state *aggregate.State, db *Database, logger *zap.Logger) *Persister {
	return &Persister{
		interval:  interval,
		state:     state,
		db:        db,
		logger:    logger,
		deviceIDs: make(map[string]uuid.UUID),
	}
}

// Run loops until ctx is cancelled, issuing one persistence pass per
// interval tick, and one final pass after cancellation before returning.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("starting persister", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("persister received shutdown signal")
			if err := p.persistAll(context.Background()); err != nil {
				p.logger.Error("error in final persistence", zap.Error(err))
			}
			p.logger.Info("persister stopped")
			return
		case <-ticker.C:
			if err := p.persistAll(ctx); err != nil {
				p.logger.Error("error persisting state", zap.Error(err))
			}
		}
	}
}

func (p *Persister) persistAll(ctx context.Context) error {
	start := time.Now()

	deviceCount := p.persistDevices(ctx)
	flowCount := p.persistFlows(ctx)
	protocolCount := p.persistProtocols(ctx)
	vlanCount := p.persistVlans(ctx)

	p.logger.Info("persisted aggregation state",
		zap.Int("devices", deviceCount),
		zap.Int("flows", flowCount),
		zap.Int("protocols", protocolCount),
		zap.Int("vlans", vlanCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (p *Persister) persistDevices(ctx context.Context) int {
	count := 0
	for _, device := range p.state.Devices() {
		mac := device.MAC.String()
		row := DeviceRow{
			MAC:             mac,
			OUIPrefix:       device.MAC.OUIPrefix(),
			FirstSeen:       device.FirstSeen,
			PacketsSent:     device.PacketsSent.Load(),
			PacketsReceived: device.PacketsReceived.Load(),
			BytesSent:       device.BytesSent.Load(),
			BytesReceived:   device.BytesReceived.Load(),
		}

		deviceID, err := p.db.UpsertDevice(ctx, row)
		if err != nil {
			p.logger.Warn("failed to persist device", zap.String("mac", mac), zap.Error(err))
			continue
		}
		p.deviceIDs[mac] = deviceID

		for _, ip := range device.IPs() {
			var vlan *int16
			if ip.VLANID != nil {
				v := int16(*ip.VLANID)
				vlan = &v
			}
			if err := p.db.UpsertDeviceIP(ctx, deviceID, ip.IP.String(), vlan); err != nil {
				p.logger.Warn("failed to persist device ip", zap.String("ip", ip.IP.String()), zap.Error(err))
			}
		}

		count++
	}
	return count
}

func (p *Persister) persistFlows(ctx context.Context) int {
	count := 0
	for _, flow := range p.state.Flows() {
		key := flow.Key

		var srcDeviceID, dstDeviceID *uuid.UUID
		if id, ok := p.deviceIDs[key.SrcMAC.String()]; ok {
			srcDeviceID = &id
		}
		if id, ok := p.deviceIDs[key.DstMAC.String()]; ok {
			dstDeviceID = &id
		}

		row := FlowRow{
			SrcDeviceID:  srcDeviceID,
			SrcMAC:       key.SrcMAC.String(),
			SrcIP:        optionalString(key.SrcIP),
			SrcPort:      optionalPort(key.SrcPort, key.HasPorts),
			DstDeviceID:  dstDeviceID,
			DstMAC:       key.DstMAC.String(),
			DstIP:        optionalString(key.DstIP),
			DstPort:      optionalPort(key.DstPort, key.HasPorts),
			VLANID:       optionalVLAN(key.VLANID, key.HasVLAN),
			IPProtocol:   optionalProto(key.IPProto, key.HasProto),
			FirstSeen:    flow.FirstSeen,
			PacketCount:  flow.PacketCount.Load(),
			ByteCount:    flow.ByteCount.Load(),
			TCPFlagsSeen: flow.TCPFlagsSeen(),
		}

		if _, err := p.db.UpsertFlow(ctx, row); err != nil {
			p.logger.Debug("failed to persist flow", zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func (p *Persister) persistProtocols(ctx context.Context) int {
	count := 0
	for _, stats := range p.state.ProtocolStatsAll() {
		ipProto := optionalProto(stats.Key.IPProto, stats.Key.HasProto)
		if err := p.db.UpsertProtocol(ctx, stats.Key.EtherType, ipProto, stats.PacketCount.Load(), stats.ByteCount.Load()); err != nil {
			p.logger.Debug("failed to persist protocol stats", zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func (p *Persister) persistVlans(ctx context.Context) int {
	count := 0
	for _, stats := range p.state.VlanStatsAll() {
		var outer *int16
		if stats.OuterVLANID != nil {
			v := int16(*stats.OuterVLANID)
			outer = &v
		}
		if err := p.db.UpsertVlan(ctx, stats.VLANID, outer, stats.FirstSeen, stats.PacketCount.Load(), stats.ByteCount.Load()); err != nil {
			p.logger.Debug("failed to persist vlan stats", zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalPort(port uint16, has bool) *int32 {
	if !has {
		return nil
	}
	v := int32(port)
	return &v
}

func optionalVLAN(id uint16, has bool) *int16 {
	if !has {
		return nil
	}
	v := int16(id)
	return &v
}

func optionalProto(proto uint8, has bool) *int16 {
	if !has {
		return nil
	}
	v := int16(proto)
	return &v
}
