// Package ifaddrs enumerates local interface addresses usable as extra
// rendezvous candidates, for peers that share a LAN or otherwise have a
// directly reachable local address that the echo-query/STUN-derived
// external address would never surface.
package ifaddrs

import "net"

// LocalAddrs returns the non-loopback unicast addresses of up interfaces,
// paired with the given port. family selects "ip4", "ip6", or "" for both.
func LocalAddrs(port int, family string) ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &interfacesError{err: err}
	}

	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip == nil || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			isV4 := ip.To4() != nil
			switch family {
			case "ip4":
				if !isV4 {
					continue
				}
			case "ip6":
				if isV4 {
					continue
				}
			}
			out = append(out, &net.TCPAddr{IP: ip, Port: port})
		}
	}
	return out, nil
}

// LocalUDPAddrs is LocalAddrs specialised to *net.UDPAddr, for callers
// building UDP candidate sets.
func LocalUDPAddrs(port int, family string) ([]*net.UDPAddr, error) {
	addrs, err := LocalAddrs(port, family)
	if err != nil {
		return nil, err
	}
	out := make([]*net.UDPAddr, 0, len(addrs))
	for _, a := range addrs {
		tcp := a.(*net.TCPAddr)
		out = append(out, &net.UDPAddr{IP: tcp.IP, Port: tcp.Port, Zone: tcp.Zone})
	}
	return out, nil
}

type interfacesError struct{ err error }

func (e *interfacesError) Error() string { return "ifaddrs: enumerate interfaces: " + e.err.Error() }
func (e *interfacesError) Unwrap() error { return e.err }
