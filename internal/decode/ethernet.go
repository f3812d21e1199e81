package decode

import (
	"encoding/binary"

	"github.com/secuaas/netsentinel/pkg/frame"
)

const ethernetHeaderLen = 14

type ethernetHeader struct {
	dst       frame.MacAddr
	src       frame.MacAddr
	etherType uint16
}

func parseEthernet(data []byte) (ethernetHeader, error) {
	if len(data) < ethernetHeaderLen {
		return ethernetHeader{}, truncated("ethernet header needs %d bytes, got %d", ethernetHeaderLen, len(data))
	}
	return ethernetHeader{
		dst:       frame.MacAddrFromBytes(data[0:6]),
		src:       frame.MacAddrFromBytes(data[6:12]),
		etherType: binary.BigEndian.Uint16(data[12:14]),
	}, nil
}
