package frame

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVlanTagTCIRoundTrip(t *testing.T) {
	for _, tci := range []uint16{0, 0x0064, 0x0FFF, 0xE123, 0xFFFF} {
		tag := VlanTagFromTCI(tci)
		assert.Equal(t, tci&0xFFFF, tag.TCI(), "tci=%#x", tci)
	}
}

func TestTCPFlagsByteRoundTrip(t *testing.T) {
	for b := 0; b <= 0xFF; b++ {
		flags := TCPFlagsFromByte(uint8(b))
		assert.Equal(t, uint8(b), flags.ToByte())
	}
}

func TestTCPFlagsIsConnectionTerminator(t *testing.T) {
	assert.True(t, TCPFlagsFromByte(0x01).IsConnectionTerminator()) // FIN
	assert.True(t, TCPFlagsFromByte(0x04).IsConnectionTerminator()) // RST
	assert.False(t, TCPFlagsFromByte(0x12).IsConnectionTerminator())
}

func TestRecordJSONRoundTrip(t *testing.T) {
	vlan := VlanTag{ID: 100, Priority: 3, DEI: true}
	proto := IPProtocolTCP
	ttl := uint8(64)
	sp, dp := uint16(12345), uint16(80)
	flags := TCPFlagsFromByte(0x12)
	seq, ack := uint32(111), uint32(222)
	window := uint16(65535)

	rec := &Record{
		SrcMAC:      MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}),
		DstMAC:      MacAddrFromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}),
		EtherType:   EtherTypeIPv4,
		Interface:   "eth0",
		VLAN:        &vlan,
		SrcIP:       net.ParseIP("192.168.1.1").To4(),
		DstIP:       net.ParseIP("192.168.1.2").To4(),
		IPProto:     &proto,
		TTL:         &ttl,
		SrcPort:     &sp,
		DstPort:     &dp,
		TCPFlags:    &flags,
		Seq:         &seq,
		Ack:         &ack,
		Window:      &window,
		FrameSize:   128,
		PayloadSize: 64,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, rec.SrcMAC, got.SrcMAC)
	assert.Equal(t, rec.DstMAC, got.DstMAC)
	assert.Equal(t, rec.EtherType, got.EtherType)
	assert.Equal(t, rec.Interface, got.Interface)
	require.NotNil(t, got.VLAN)
	assert.Equal(t, *rec.VLAN, *got.VLAN)
	assert.True(t, rec.SrcIP.Equal(got.SrcIP))
	assert.True(t, rec.DstIP.Equal(got.DstIP))
	require.NotNil(t, got.IPProto)
	assert.Equal(t, *rec.IPProto, *got.IPProto)
	require.NotNil(t, got.TCPFlags)
	assert.Equal(t, *rec.TCPFlags, *got.TCPFlags)
	assert.Equal(t, rec.FrameSize, got.FrameSize)
	assert.Equal(t, rec.PayloadSize, got.PayloadSize)
}

func TestEffectiveVLANIDPrecedence(t *testing.T) {
	r := &Record{QinQ: &QinQInfo{Outer: VlanTag{ID: 200}, Inner: VlanTag{ID: 100}}}
	require.NotNil(t, r.EffectiveVLANID())
	assert.Equal(t, uint16(100), *r.EffectiveVLANID())
	require.NotNil(t, r.OuterVLANID())
	assert.Equal(t, uint16(200), *r.OuterVLANID())

	r2 := &Record{VLAN: &VlanTag{ID: 42}}
	require.NotNil(t, r2.EffectiveVLANID())
	assert.Equal(t, uint16(42), *r2.EffectiveVLANID())
	assert.Nil(t, r2.OuterVLANID())

	r3 := &Record{}
	assert.Nil(t, r3.EffectiveVLANID())
}

func TestMacAddrIsMulticast(t *testing.T) {
	assert.True(t, MacAddrFromBytes([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}).IsMulticast())
	assert.True(t, MacAddrFromBytes([]byte{0x01, 0x00, 0x5E, 0x00, 0x00, 0x01}).IsMulticast())
	assert.False(t, MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}).IsMulticast())
}

func TestMacAddrOUIPrefix(t *testing.T) {
	m := MacAddrFromBytes([]byte{0x00, 0x1a, 0x2b, 0x33, 0x44, 0x55})
	assert.Equal(t, "00:1A:2B", m.OUIPrefix())
}
