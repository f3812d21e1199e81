package aggregate

import (
	"net"
	"testing"
	"time"

	"github.com/secuaas/netsentinel/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpRecord(srcMAC, dstMAC frame.MacAddr, flags uint8, size int) *frame.Record {
	srcIP := net.ParseIP("192.168.1.1").To4()
	dstIP := net.ParseIP("192.168.1.2").To4()
	proto := frame.IPProtocolTCP
	sp := uint16(12345)
	dp := uint16(80)
	tf := frame.TCPFlagsFromByte(flags)
	return &frame.Record{
		Timestamp: time.Now(),
		SrcMAC:    srcMAC,
		DstMAC:    dstMAC,
		EtherType: frame.EtherTypeIPv4,
		SrcIP:     srcIP,
		DstIP:     dstIP,
		IPProto:   &proto,
		SrcPort:   &sp,
		DstPort:   &dp,
		TCPFlags:  &tf,
		FrameSize: size,
	}
}

func TestProcessFrameTracksNewDeviceAndFlow(t *testing.T) {
	s := NewState()
	src := frame.MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	dst := frame.MacAddrFromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})

	result := s.ProcessFrame(tcpRecord(src, dst, 0x02, 100), time.Now())
	assert.True(t, result.NewDevice)
	assert.True(t, result.NewFlow)
	assert.Equal(t, uint64(2), s.TotalDevices.Load()) // unicast src+dst
	assert.Equal(t, uint64(1), s.TotalFlows.Load())
	assert.Equal(t, uint64(1), s.TotalPackets.Load())
	assert.Equal(t, uint64(100), s.TotalBytes.Load())
}

func TestProcessFrameMulticastDstSkipsDeviceCreation(t *testing.T) {
	s := NewState()
	src := frame.MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	broadcast := frame.MacAddrFromBytes([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	s.ProcessFrame(tcpRecord(src, broadcast, 0x02, 60), time.Now())
	assert.Equal(t, uint64(1), s.TotalDevices.Load())
}

func TestBidirectionalHandshakeAccumulatesFlags(t *testing.T) {
	s := NewState()
	src := frame.MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	dst := frame.MacAddrFromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	now := time.Now()

	s.ProcessFrame(tcpRecord(src, dst, 0x02, 100), now) // SYN
	s.ProcessFrame(tcpRecord(src, dst, 0x12, 60), now)  // SYN-ACK
	s.ProcessFrame(tcpRecord(src, dst, 0x10, 52), now)  // ACK

	flows := s.Flows()
	require.Len(t, flows, 1)
	f := flows[0]
	assert.Equal(t, uint64(3), f.PacketCount.Load())
	assert.Equal(t, uint64(212), f.ByteCount.Load())
	assert.Equal(t, uint8(0x12), f.TCPFlagsSeen())
	assert.False(t, f.IsTCPCompleted())
}

func TestFlowCompletesOnFINOrRST(t *testing.T) {
	s := NewState()
	src := frame.MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	dst := frame.MacAddrFromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	now := time.Now()

	s.ProcessFrame(tcpRecord(src, dst, 0x02, 100), now)
	s.ProcessFrame(tcpRecord(src, dst, 0x01, 40), now) // FIN

	flows := s.Flows()
	require.Len(t, flows, 1)
	assert.True(t, flows[0].IsTCPCompleted())
}

func TestDeviceIPFirstSeenUsesCaptureTimestamp(t *testing.T) {
	s := NewState()
	src := frame.MacAddrFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	dst := frame.MacAddrFromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})

	captured := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := tcpRecord(src, dst, 0x02, 100)
	rec.Timestamp = captured

	s.ProcessFrame(rec, time.Now())

	devices := s.Devices()
	var srcDevice *Device
	for _, d := range devices {
		if d.MAC == src {
			srcDevice = d
		}
	}
	require.NotNil(t, srcDevice)
	ips := srcDevice.IPs()
	require.Len(t, ips, 1)
	assert.True(t, ips[0].FirstSeen.Equal(captured))
}
