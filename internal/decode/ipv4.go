package decode

import (
	"encoding/binary"
	"net"
)

const ipv4MinHeaderLen = 20

type ipv4Header struct {
	headerLength int
	dscp         uint8
	ecn          uint8
	dontFragment bool
	moreFragments bool
	fragmentOffset uint16
	ttl          uint8
	protocol     uint8
	srcIP        net.IP
	dstIP        net.IP
}

func parseIPv4(data []byte) (ipv4Header, []byte, error) {
	if len(data) < ipv4MinHeaderLen {
		return ipv4Header{}, nil, truncated("ipv4 header needs %d bytes, got %d", ipv4MinHeaderLen, len(data))
	}

	version := (data[0] >> 4) & 0x0F
	if version != 4 {
		return ipv4Header{}, nil, malformed("invalid ip version: %d (expected 4)", version)
	}

	ihl := int(data[0] & 0x0F)
	headerLength := ihl * 4
	if headerLength < 20 {
		return ipv4Header{}, nil, malformed("invalid ihl: %d (minimum 5)", ihl)
	}
	if len(data) < headerLength {
		return ipv4Header{}, nil, truncated("ipv4 header with options needs %d bytes, got %d", headerLength, len(data))
	}

	dscp := (data[1] >> 2) & 0x3F
	ecn := data[1] & 0x03

	flagsFragment := binary.BigEndian.Uint16(data[6:8])
	dontFragment := (flagsFragment>>14)&0x01 == 1
	moreFragments := (flagsFragment>>13)&0x01 == 1
	fragmentOffset := flagsFragment & 0x1FFF

	ttl := data[8]
	protocol := data[9]

	srcIP := net.IPv4(data[12], data[13], data[14], data[15])
	dstIP := net.IPv4(data[16], data[17], data[18], data[19])

	hdr := ipv4Header{
		headerLength:   headerLength,
		dscp:           dscp,
		ecn:            ecn,
		dontFragment:   dontFragment,
		moreFragments:  moreFragments,
		fragmentOffset: fragmentOffset,
		ttl:            ttl,
		protocol:       protocol,
		srcIP:          srcIP,
		dstIP:          dstIP,
	}
	return hdr, data[headerLength:], nil
}
