package decode

import (
	"encoding/binary"

	"github.com/secuaas/netsentinel/pkg/frame"
)

const vlanTagLen = 4

// vlanResult carries the outcome of stripping VLAN/QinQ tags: the
// remaining payload, the effective (innermost) EtherType, and whichever
// of vlan/qinq applies (never both).
type vlanResult struct {
	rest      []byte
	etherType uint16
	vlan      *frame.VlanTag
	qinq      *frame.QinQInfo
}

// stripVLAN consumes 802.1Q/802.1ad tags from the front of data, which
// must start immediately after the Ethernet header with etherType as the
// type field read from that header. It returns the data following all
// consumed tags and the effective EtherType.
func stripVLAN(etherType uint16, data []byte) (vlanResult, error) {
	switch etherType {
	case frame.EtherTypeQinQ, frame.EtherTypeQinQAlt:
		return parseQinQ(data)
	case frame.EtherTypeVLAN:
		tag, rest, err := readTag(data)
		if err != nil {
			return vlanResult{}, err
		}
		innerType := binary.BigEndian.Uint16(rest[0:2])
		return vlanResult{rest: rest[2:], etherType: innerType, vlan: &tag}, nil
	default:
		return vlanResult{rest: data, etherType: etherType}, nil
	}
}

func parseQinQ(data []byte) (vlanResult, error) {
	outerTag, rest, err := readTag(data)
	if err != nil {
		return vlanResult{}, err
	}
	innerTPID := binary.BigEndian.Uint16(rest[0:2])

	if innerTPID != frame.EtherTypeVLAN {
		// Malformed inner TPID: treat the outer tag as a single 802.1Q tag.
		return vlanResult{rest: rest[2:], etherType: innerTPID, vlan: &outerTag}, nil
	}

	innerTag, rest2, err := readTag(rest[2:])
	if err != nil {
		return vlanResult{}, err
	}
	innerEtherType := binary.BigEndian.Uint16(rest2[0:2])

	return vlanResult{
		rest:      rest2[2:],
		etherType: innerEtherType,
		qinq:      &frame.QinQInfo{Outer: outerTag, Inner: innerTag},
	}, nil
}

// readTag reads a 4-byte TCI+TPID tag and returns the decoded TCI plus the
// remaining buffer, which starts at the following TPID/EtherType field.
func readTag(data []byte) (frame.VlanTag, []byte, error) {
	if len(data) < vlanTagLen {
		return frame.VlanTag{}, nil, truncated("vlan tag needs %d bytes, got %d", vlanTagLen, len(data))
	}
	tci := binary.BigEndian.Uint16(data[0:2])
	return frame.VlanTagFromTCI(tci), data[2:], nil
}
