package aggregate

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/secuaas/netsentinel/pkg/frame"
)

// Device is the in-memory counter record for one MAC address, updated
// atomically on the hot path and read by the persister.
type Device struct {
	ID        uuid.UUID
	MAC       frame.MacAddr
	FirstSeen time.Time

	lastSeen atomic.Int64 // unix seconds

	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64

	IsGateway atomic.Bool
	IsFlagged atomic.Bool
	dirty     atomic.Bool

	ipsMu sync.RWMutex
	ips   map[string]*DeviceIP

	vlansMu sync.RWMutex
	vlans   map[uint16]struct{}
}

// DeviceIP is the per-device, per-(IP, VLAN) counter record.
type DeviceIP struct {
	IP        net.IP
	VLANID    *uint16
	FirstSeen time.Time
	lastSeen  atomic.Int64

	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64
}

func newDevice(mac frame.MacAddr, now time.Time) *Device {
	d := &Device{
		ID:        uuid.New(),
		MAC:       mac,
		FirstSeen: now,
		ips:       make(map[string]*DeviceIP),
		vlans:     make(map[uint16]struct{}),
	}
	d.lastSeen.Store(now.Unix())
	d.dirty.Store(true)
	return d
}

// LastSeen returns the last-update timestamp.
func (d *Device) LastSeen() time.Time {
	return time.Unix(d.lastSeen.Load(), 0).UTC()
}

// Update applies one observed packet to the device's counters. ip and
// vlanID are nil when the frame carried no L3 address or VLAN tag
// respectively. capturedAt is the frame's own capture timestamp, used to
// stamp a newly created IP record's FirstSeen (see the DeviceIP.first_seen
// open question resolution).
func (d *Device) Update(ip net.IP, vlanID *uint16, bytes uint64, isSource bool, now, capturedAt time.Time) {
	d.lastSeen.Store(now.Unix())

	if isSource {
		d.PacketsSent.Add(1)
		d.BytesSent.Add(bytes)
	} else {
		d.PacketsReceived.Add(1)
		d.BytesReceived.Add(bytes)
	}

	if ip != nil {
		d.updateIP(ip, vlanID, bytes, isSource, now, capturedAt)
	}

	if vlanID != nil {
		d.vlansMu.Lock()
		d.vlans[*vlanID] = struct{}{}
		d.vlansMu.Unlock()
	}

	d.dirty.Store(true)
}

func (d *Device) updateIP(ip net.IP, vlanID *uint16, bytes uint64, isSource bool, now, capturedAt time.Time) {
	key := ip.String()

	d.ipsMu.RLock()
	rec, ok := d.ips[key]
	d.ipsMu.RUnlock()

	if !ok {
		d.ipsMu.Lock()
		if rec, ok = d.ips[key]; !ok {
			rec = &DeviceIP{IP: ip, VLANID: vlanID, FirstSeen: capturedAt}
			rec.lastSeen.Store(now.Unix())
			d.ips[key] = rec
		}
		d.ipsMu.Unlock()
	}

	rec.lastSeen.Store(now.Unix())
	if isSource {
		rec.PacketsSent.Add(1)
		rec.BytesSent.Add(bytes)
	} else {
		rec.PacketsReceived.Add(1)
		rec.BytesReceived.Add(bytes)
	}
}

// IPs returns a snapshot slice of the device's known IP records.
func (d *Device) IPs() []*DeviceIP {
	d.ipsMu.RLock()
	defer d.ipsMu.RUnlock()
	out := make([]*DeviceIP, 0, len(d.ips))
	for _, v := range d.ips {
		out = append(out, v)
	}
	return out
}

// LastSeen returns the IP record's last-update timestamp.
func (ip *DeviceIP) LastSeen() time.Time {
	return time.Unix(ip.lastSeen.Load(), 0).UTC()
}

// VLANs returns the set of VLAN ids this device has been observed on.
func (d *Device) VLANs() []uint16 {
	d.vlansMu.RLock()
	defer d.vlansMu.RUnlock()
	out := make([]uint16, 0, len(d.vlans))
	for v := range d.vlans {
		out = append(out, v)
	}
	return out
}

// IsDirty reports whether the device has changed since the last clear.
func (d *Device) IsDirty() bool { return d.dirty.Load() }

// ClearDirty resets the dirty flag.
func (d *Device) ClearDirty() { d.dirty.Store(false) }
