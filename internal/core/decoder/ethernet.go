package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/v6rx/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANDepth      = 2

	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes an Ethernet header and up to two VLAN tags and
// returns the remaining payload. Any EtherType decodes successfully.
func decodeEthernet(data []byte) (EthernetHeader, []byte, error) {
	var eth EthernetHeader
	if len(data) < ethernetHeaderLen {
		return eth, nil, fmt.Errorf("ethernet header needs %d bytes, have %d: %w", ethernetHeaderLen, len(data), core.ErrPacketTooShort)
	}
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])
	eth.EtherType = binary.BigEndian.Uint16(data[12:14])

	off := ethernetHeaderLen
	for eth.EtherType == etherTypeVLAN || eth.EtherType == etherTypeQinQ {
		if len(eth.VLANs) == maxVLANDepth {
			return eth, nil, fmt.Errorf("more than %d vlan tags: %w", maxVLANDepth, core.ErrUnsupportedProto)
		}
		if len(data) < off+vlanHeaderLen {
			return eth, nil, fmt.Errorf("vlan tag at %d: %w", off, core.ErrPacketTooShort)
		}
		// TCI then the inner EtherType; the VLAN ID is the low 12 bits.
		eth.VLANs = append(eth.VLANs, binary.BigEndian.Uint16(data[off:])&0x0FFF)
		eth.EtherType = binary.BigEndian.Uint16(data[off+2:])
		off += vlanHeaderLen
	}
	return eth, data[off:], nil
}
