package decode

import (
	"testing"
	"time"

	"github.com/secuaas/netsentinel/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpSynFrame() []byte {
	return []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // dst: broadcast
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, // src
		0x08, 0x00, // IPv4
		0x45, 0x00, 0x00, 0x28, 0x00, 0x01, 0x40, 0x00, // version/ihl, dscp/ecn, len, id, flags/frag
		0x40, 0x06, 0x00, 0x00, // ttl=64, proto=TCP, checksum
		0xc0, 0xa8, 0x01, 0x01, // src 192.168.1.1
		0xc0, 0xa8, 0x01, 0x02, // dst 192.168.1.2
		0x30, 0x39, 0x00, 0x50, // sport=12345, dport=80
		0x00, 0x00, 0x00, 0x01, // seq
		0x00, 0x00, 0x00, 0x00, // ack
		0x50, 0x02, 0x20, 0x00, // data offset=5, flags=SYN
		0x00, 0x00, 0x00, 0x00, // checksum, urgent
	}
}

func TestDecodeTCPSyn(t *testing.T) {
	rec, err := Decode("eth0", tcpSynFrame(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec.IPProto)
	assert.Equal(t, uint8(6), *rec.IPProto)
	require.NotNil(t, rec.SrcPort)
	assert.Equal(t, uint16(12345), *rec.SrcPort)
	assert.Equal(t, uint16(80), *rec.DstPort)
	require.NotNil(t, rec.TCPFlags)
	assert.True(t, rec.TCPFlags.SYN)
	assert.False(t, rec.TCPFlags.ACK)
	assert.Equal(t, uint8(0x02), rec.TCPFlags.ToByte())
}

func TestDecodeTruncatedFrame(t *testing.T) {
	_, err := Decode("eth0", make([]byte, 13), time.Now())
	require.Error(t, err)
	de, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, Truncated, de.Kind)
}

func TestDecodeTruncatedIPv4HasNoL3(t *testing.T) {
	data := append([]byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x08, 0x00,
	}, make([]byte, 18)...)

	rec, err := Decode("eth0", data, time.Now())
	require.NoError(t, err)
	assert.Nil(t, rec.IPProto)
	assert.Nil(t, rec.SrcIP)
}

func TestDecodeMalformedIHL(t *testing.T) {
	data := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x08, 0x00,
		0x44, 0x00, 0x00, 0x28, 0x00, 0x01, 0x40, 0x00, // IHL=4, invalid
		0x40, 0x06, 0x00, 0x00,
		0xc0, 0xa8, 0x01, 0x01,
		0xc0, 0xa8, 0x01, 0x02,
	}
	_, err := Decode("eth0", data, time.Now())
	require.Error(t, err)
	de, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, Malformed, de.Kind)
}

func TestDecode8021QTaggedARP(t *testing.T) {
	data := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x81, 0x00, // 802.1Q
		0x00, 0x64, // TCI: VID=100
		0x08, 0x06, // ARP
	}
	rec, err := Decode("eth0", data, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec.VLAN)
	assert.Equal(t, uint16(100), rec.VLAN.ID)
	assert.Nil(t, rec.QinQ)
	assert.Equal(t, uint16(0x0806), rec.EtherType)
	assert.Nil(t, rec.IPProto)
}

func TestDecodeQinQIPv4UDP(t *testing.T) {
	data := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x88, 0xa8, // QinQ
		0x00, 0xc8, 0x81, 0x00, // outer TCI=200, inner TPID=0x8100
		0x00, 0x64, 0x08, 0x00, // inner TCI=100, ethertype=IPv4
		0x45, 0x00, 0x00, 0x64, 0x00, 0x01, 0x00, 0x00,
		0x40, 0x11, 0x00, 0x00,
		0xc0, 0xa8, 0x01, 0x01,
		0xc0, 0xa8, 0x01, 0x02,
		0x00, 0x35, 0x30, 0x39, 0x00, 0x64, 0x00, 0x00, // sport=53 dport=12345 len=100
	}
	rec, err := Decode("eth0", data, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec.QinQ)
	assert.Equal(t, uint16(200), rec.QinQ.Outer.ID)
	assert.Equal(t, uint16(100), rec.QinQ.Inner.ID)
	assert.Equal(t, uint16(100), *rec.EffectiveVLANID())
	assert.Equal(t, uint16(200), *rec.OuterVLANID())
	require.NotNil(t, rec.IPProto)
	assert.Equal(t, uint8(17), *rec.IPProto)
	assert.Equal(t, 92, rec.PayloadSize)
}

func TestDecodeQinQMalformedInnerTPIDFallsBackToSingleTag(t *testing.T) {
	data := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x88, 0xa8,
		0x00, 0xc8, 0x08, 0x06, // outer TCI=200, inner TPID=0x0806 (not 0x8100)
	}
	rec, err := Decode("eth0", data, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec.VLAN)
	assert.Equal(t, uint16(200), rec.VLAN.ID)
	assert.Nil(t, rec.QinQ)
	assert.Equal(t, uint16(0x0806), rec.EtherType)
}

func TestTCPFlagByteRoundTrips(t *testing.T) {
	for b := 0; b <= 0xFF; b++ {
		flags := frame.TCPFlagsFromByte(uint8(b))
		assert.Equal(t, uint8(b), flags.ToByte())
	}
}

func TestBidirectionalHandshakeFlowFlags(t *testing.T) {
	syn := frame.TCPFlagsFromByte(0x02)
	synack := frame.TCPFlagsFromByte(0x12)
	ack := frame.TCPFlagsFromByte(0x10)

	seen := syn.ToByte() | synack.ToByte() | ack.ToByte()
	assert.Equal(t, uint8(0x12), seen)
	assert.False(t, seen&0x05 != 0) // no FIN/RST observed
}
