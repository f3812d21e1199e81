// Package persist periodically snapshots the aggregation core into the
// relational schema, and owns the pgx connection pool used to do it.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConfig configures the persister's connection pool.
type DatabaseConfig struct {
	URL            string
	MaxConnections int32
	ConnectTimeout time.Duration
}

// Database wraps the pgx connection pool and the fixed set of upsert
// queries the persister issues each pass.
type Database struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies connectivity with a ping: parse
// config, tune pool limits, build, ping.
func Connect(ctx context.Context, cfg DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("persist: parse database url: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MinConns = cfg.MaxConnections / 4
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping database: %w", err)
	}

	return &Database{pool: pool}, nil
}

// Close releases the connection pool.
func (d *Database) Close() { d.pool.Close() }

// DeviceRow is the set of fields the persister upserts for a device.
type DeviceRow struct {
	MAC             string
	OUIPrefix       string
	FirstSeen       time.Time
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
}

// UpsertDevice inserts or refreshes a device row, returning its id. The
// upsert never refreshes first_seen on conflict.
func (d *Database) UpsertDevice(ctx context.Context, row DeviceRow) (uuid.UUID, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx, `
		INSERT INTO devices (mac_address, oui_prefix, first_seen, last_seen,
		                      total_packets_sent, total_packets_received,
		                      total_bytes_sent, total_bytes_received)
		VALUES ($1::macaddr, $2, $3, NOW(), $4, $5, $6, $7)
		ON CONFLICT (mac_address) DO UPDATE SET
			last_seen = NOW(),
			total_packets_sent = EXCLUDED.total_packets_sent,
			total_packets_received = EXCLUDED.total_packets_received,
			total_bytes_sent = EXCLUDED.total_bytes_sent,
			total_bytes_received = EXCLUDED.total_bytes_received,
			updated_at = NOW()
		RETURNING id
	`, row.MAC, row.OUIPrefix, row.FirstSeen,
		int64(row.PacketsSent), int64(row.PacketsReceived),
		int64(row.BytesSent), int64(row.BytesReceived)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("persist: upsert device %s: %w", row.MAC, err)
	}
	return id, nil
}

// UpsertDeviceIP inserts or refreshes a (device, ip, vlan) row.
func (d *Database) UpsertDeviceIP(ctx context.Context, deviceID uuid.UUID, ip string, vlanID *int16) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO device_ips (device_id, ip_address, vlan_id, first_seen, last_seen)
		VALUES ($1, $2::inet, $3, NOW(), NOW())
		ON CONFLICT ON CONSTRAINT uq_device_ip_vlan DO UPDATE SET
			last_seen = NOW()
	`, deviceID, ip, vlanID)
	if err != nil {
		return fmt.Errorf("persist: upsert device ip %s: %w", ip, err)
	}
	return nil
}

// FlowRow is the set of fields the persister upserts for a flow.
type FlowRow struct {
	SrcDeviceID  *uuid.UUID
	SrcMAC       string
	SrcIP        *string
	SrcPort      *int32
	DstDeviceID  *uuid.UUID
	DstMAC       string
	DstIP        *string
	DstPort      *int32
	VLANID       *int16
	IPProtocol   *int16
	FirstSeen    time.Time
	PacketCount  uint64
	ByteCount    uint64
	TCPFlagsSeen uint8
}

// UpsertFlow inserts or refreshes a flow row, returning its id. On
// conflict, tcp_flags_seen is merged with a bitwise OR rather than
// overwritten, so flags observed by an earlier pass are never lost.
func (d *Database) UpsertFlow(ctx context.Context, row FlowRow) (uuid.UUID, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx, `
		INSERT INTO traffic_flows (
			src_device_id, src_mac, src_ip, src_port,
			dst_device_id, dst_mac, dst_ip, dst_port,
			vlan_id, ip_protocol,
			first_seen, last_seen, packet_count, byte_count, tcp_flags_seen
		)
		VALUES ($1, $2::macaddr, $3::inet, $4, $5, $6::macaddr, $7::inet, $8, $9, $10, $11, NOW(), $12, $13, $14)
		ON CONFLICT ON CONSTRAINT traffic_flows_unique_tuple DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			packet_count = EXCLUDED.packet_count,
			byte_count = EXCLUDED.byte_count,
			tcp_flags_seen = traffic_flows.tcp_flags_seen | EXCLUDED.tcp_flags_seen
		RETURNING id
	`, row.SrcDeviceID, row.SrcMAC, row.SrcIP, row.SrcPort,
		row.DstDeviceID, row.DstMAC, row.DstIP, row.DstPort,
		row.VLANID, row.IPProtocol, row.FirstSeen,
		int64(row.PacketCount), int64(row.ByteCount), int16(row.TCPFlagsSeen)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("persist: upsert flow %s->%s: %w", row.SrcMAC, row.DstMAC, err)
	}
	return id, nil
}

// UpsertProtocol inserts or refreshes a protocol-stats row.
func (d *Database) UpsertProtocol(ctx context.Context, etherType uint16, ipProto *int16, packetCount, byteCount uint64) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO protocol_stats (ethertype, ip_protocol, packet_count, byte_count, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT ON CONSTRAINT uq_protocol DO UPDATE SET
			packet_count = EXCLUDED.packet_count,
			byte_count = EXCLUDED.byte_count,
			last_seen = EXCLUDED.last_seen
	`, int16(etherType), ipProto, int64(packetCount), int64(byteCount))
	if err != nil {
		return fmt.Errorf("persist: upsert protocol stats: %w", err)
	}
	return nil
}

// UpsertVlan inserts or refreshes a VLAN-stats row.
func (d *Database) UpsertVlan(ctx context.Context, vlanID uint16, outerVLANID *int16, firstSeen time.Time, packetCount, byteCount uint64) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO vlans (vlan_id, outer_vlan_id, first_seen, last_seen, total_packets, total_bytes)
		VALUES ($1, $2, $3, NOW(), $4, $5)
		ON CONFLICT ON CONSTRAINT uq_vlan_ids DO UPDATE SET
			last_seen = NOW(),
			total_packets = EXCLUDED.total_packets,
			total_bytes = EXCLUDED.total_bytes
	`, int16(vlanID), outerVLANID, firstSeen, int64(packetCount), int64(byteCount))
	if err != nil {
		return fmt.Errorf("persist: upsert vlan stats: %w", err)
	}
	return nil
}

// InsertMetric appends a row to the time-series metrics sink. Unlike the
// other tables this is a plain insert with no conflict handling.
func (d *Database) InsertMetric(ctx context.Context, deviceID, flowID *uuid.UUID, metricType string, packetCount, byteCount uint64) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO traffic_metrics (time, bucket_size, device_id, flow_id, metric_type, packet_count, byte_count)
		VALUES (NOW(), '1 minute', $1, $2, $3, $4, $5)
	`, deviceID, flowID, metricType, int64(packetCount), int64(byteCount))
	if err != nil {
		return fmt.Errorf("persist: insert metric: %w", err)
	}
	return nil
}

// DeviceIDByMAC looks up a device's id by MAC address.
func (d *Database) DeviceIDByMAC(ctx context.Context, mac string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx, `SELECT id FROM devices WHERE mac_address = $1::macaddr`, mac).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("persist: lookup device by mac %s: %w", mac, err)
	}
	return id, true, nil
}
