package decode

import (
	"encoding/binary"

	"github.com/secuaas/netsentinel/pkg/frame"
)

const (
	tcpMinHeaderLen = 20
	udpHeaderLen    = 8
)

type tcpHeader struct {
	srcPort     uint16
	dstPort     uint16
	seq         uint32
	ack         uint32
	dataOffset  int
	flags       frame.TCPFlags
	window      uint16
	payloadSize int
}

func parseTCP(data []byte) (tcpHeader, error) {
	if len(data) < tcpMinHeaderLen {
		return tcpHeader{}, truncated("tcp header needs %d bytes, got %d", tcpMinHeaderLen, len(data))
	}

	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	ack := binary.BigEndian.Uint32(data[8:12])

	dataOffset := int((data[12]>>4)&0x0F) * 4
	if dataOffset < tcpMinHeaderLen {
		return tcpHeader{}, malformed("invalid tcp data offset: %d bytes (minimum 20)", dataOffset)
	}
	if len(data) < dataOffset {
		return tcpHeader{}, truncated("tcp header with options needs %d bytes, got %d", dataOffset, len(data))
	}

	flags := frame.TCPFlagsFromByte(data[13])
	window := binary.BigEndian.Uint16(data[14:16])

	payloadSize := len(data) - dataOffset
	if payloadSize < 0 {
		payloadSize = 0
	}

	return tcpHeader{
		srcPort:     srcPort,
		dstPort:     dstPort,
		seq:         seq,
		ack:         ack,
		dataOffset:  dataOffset,
		flags:       flags,
		window:      window,
		payloadSize: payloadSize,
	}, nil
}

type udpHeader struct {
	srcPort     uint16
	dstPort     uint16
	length      uint16
	payloadSize int
}

func parseUDP(data []byte) (udpHeader, error) {
	if len(data) < udpHeaderLen {
		return udpHeader{}, truncated("udp header needs %d bytes, got %d", udpHeaderLen, len(data))
	}

	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	length := binary.BigEndian.Uint16(data[4:6])

	payloadSize := 0
	if length > udpHeaderLen {
		payloadSize = int(length) - udpHeaderLen
	}

	return udpHeader{
		srcPort:     srcPort,
		dstPort:     dstPort,
		length:      length,
		payloadSize: payloadSize,
	}, nil
}
