// Package wireaddr encodes and decodes net.Addr values in the
// IP-version-tagged wire format used throughout the rendezvous protocol:
// a one-byte tag (0x04 or 0x06) followed by the raw address bytes, the
// port, and — for IPv6 — the flow info and scope ID.
package wireaddr

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	tagIPv4 byte = 0x04
	tagIPv6 byte = 0x06

	ipv4Len = 4
	ipv6Len = 16
)

// Encode serialises addr as tag + address bytes + 2-byte big-endian port,
// plus 4-byte flowinfo and 4-byte scope_id for IPv6.
func Encode(addr *net.UDPAddr) ([]byte, error) {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		buf := make([]byte, 1+ipv4Len+2)
		buf[0] = tagIPv4
		copy(buf[1:1+ipv4Len], ip4)
		binary.BigEndian.PutUint16(buf[1+ipv4Len:], uint16(addr.Port))
		return buf, nil
	}

	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("wireaddr: invalid IP %v", addr.IP)
	}
	buf := make([]byte, 1+ipv6Len+2+4+4)
	buf[0] = tagIPv6
	copy(buf[1:1+ipv6Len], ip16)
	off := 1 + ipv6Len
	binary.BigEndian.PutUint16(buf[off:], uint16(addr.Port))
	off += 2
	binary.BigEndian.PutUint32(buf[off:], 0) // flowinfo, unused
	off += 4
	binary.BigEndian.PutUint32(buf[off:], zoneToScopeID(addr.Zone))
	return buf, nil
}

// Decode parses the tagged wire format produced by Encode.
func Decode(buf []byte) (*net.UDPAddr, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("wireaddr: empty buffer")
	}
	switch buf[0] {
	case tagIPv4:
		if len(buf) < 1+ipv4Len+2 {
			return nil, fmt.Errorf("wireaddr: IPv4 frame too short: %d bytes", len(buf))
		}
		ip := make(net.IP, ipv4Len)
		copy(ip, buf[1:1+ipv4Len])
		port := binary.BigEndian.Uint16(buf[1+ipv4Len:])
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case tagIPv6:
		if len(buf) < 1+ipv6Len+2+4+4 {
			return nil, fmt.Errorf("wireaddr: IPv6 frame too short: %d bytes", len(buf))
		}
		ip := make(net.IP, ipv6Len)
		copy(ip, buf[1:1+ipv6Len])
		off := 1 + ipv6Len
		port := binary.BigEndian.Uint16(buf[off:])
		off += 2 + 4 // skip flowinfo
		scopeID := binary.BigEndian.Uint32(buf[off:])
		return &net.UDPAddr{IP: ip, Port: int(port), Zone: scopeIDToZone(scopeID)}, nil
	default:
		return nil, fmt.Errorf("wireaddr: unknown address tag 0x%02x", buf[0])
	}
}

// EncodedLen returns the number of bytes Encode will produce for addr,
// without allocating.
func EncodedLen(addr *net.UDPAddr) int {
	if addr.IP.To4() != nil {
		return 1 + ipv4Len + 2
	}
	return 1 + ipv6Len + 2 + 4 + 4
}

func zoneToScopeID(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if iface, err := net.InterfaceByName(zone); err == nil {
		return uint32(iface.Index)
	}
	return 0
}

func scopeIDToZone(scopeID uint32) string {
	if scopeID == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(scopeID)); err == nil {
		return iface.Name
	}
	return fmt.Sprintf("%d", scopeID)
}
