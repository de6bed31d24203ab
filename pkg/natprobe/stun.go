// Package natprobe implements an unauthenticated STUN (RFC 5389) fallback
// probe, used by pkg/rendezvousaddr to enrich NAT classification when fewer
// than two authenticated echo-query servers are configured.
package natprobe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	bindingRequest  = 0x0001
	bindingResponse = 0x0101
	magicCookie     = 0x2112A442
	headerSize      = 20

	attrMappedAddress    = 0x0001
	attrXORMappedAddress = 0x0020
)

var tracer = otel.Tracer("rendezvous.natprobe")

// DefaultServers lists public STUN servers usable with no configuration.
var DefaultServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

func buildBindingRequest() []byte {
	req := make([]byte, headerSize)
	binary.BigEndian.PutUint16(req[0:2], bindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], magicCookie)
	rand.Read(req[8:20])
	return req
}

func parseBindingResponse(data []byte, txnID [12]byte) (net.IP, int, error) {
	if len(data) < headerSize {
		return nil, 0, &shortResponseError{got: len(data)}
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	if msgType != bindingResponse {
		return nil, 0, &badMessageTypeError{got: msgType}
	}

	cookie := binary.BigEndian.Uint32(data[4:8])
	if cookie != magicCookie {
		return nil, 0, &badMagicCookieError{got: cookie}
	}

	var respTxnID [12]byte
	copy(respTxnID[:], data[8:20])
	if respTxnID != txnID {
		return nil, 0, errTransactionMismatch
	}

	attrLen := binary.BigEndian.Uint16(data[2:4])
	if int(attrLen) > len(data)-headerSize {
		return nil, 0, &attrLengthError{declared: int(attrLen), have: len(data) - headerSize}
	}

	attrs := data[headerSize : headerSize+int(attrLen)]

	var mappedIP net.IP
	var mappedPort int

	for len(attrs) >= 4 {
		attrType := binary.BigEndian.Uint16(attrs[0:2])
		valLen := binary.BigEndian.Uint16(attrs[2:4])

		padLen := valLen
		if padLen%4 != 0 {
			padLen += 4 - padLen%4
		}

		if int(4+valLen) > len(attrs) {
			break
		}

		val := attrs[4 : 4+valLen]

		switch attrType {
		case attrXORMappedAddress:
			if ip, port, err := parseXORMappedAddress(val, txnID); err == nil {
				return ip, port, nil
			}
		case attrMappedAddress:
			if ip, port, err := parseMappedAddress(val); err == nil {
				mappedIP = ip
				mappedPort = port
			}
		}

		attrs = attrs[4+padLen:]
	}

	if mappedIP != nil {
		return mappedIP, mappedPort, nil
	}
	return nil, 0, errNoMappedAddress
}

func parseXORMappedAddress(val []byte, txnID [12]byte) (net.IP, int, error) {
	if len(val) < 4 {
		return nil, 0, errAttrTooShort
	}

	family := val[1]
	xorPort := binary.BigEndian.Uint16(val[2:4])
	port := int(xorPort ^ uint16(magicCookie>>16))

	switch family {
	case 0x01:
		if len(val) < 8 {
			return nil, 0, errAttrTooShort
		}
		var cookieBytes [4]byte
		binary.BigEndian.PutUint32(cookieBytes[:], magicCookie)
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = val[4+i] ^ cookieBytes[i]
		}
		return ip, port, nil

	case 0x02:
		if len(val) < 20 {
			return nil, 0, errAttrTooShort
		}
		var xorKey [16]byte
		binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
		copy(xorKey[4:16], txnID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = val[4+i] ^ xorKey[i]
		}
		return ip, port, nil

	default:
		return nil, 0, &unknownFamilyError{family: family}
	}
}

func parseMappedAddress(val []byte) (net.IP, int, error) {
	if len(val) < 4 {
		return nil, 0, errAttrTooShort
	}

	family := val[1]
	port := int(binary.BigEndian.Uint16(val[2:4]))

	switch family {
	case 0x01:
		if len(val) < 8 {
			return nil, 0, errAttrTooShort
		}
		ip := make(net.IP, 4)
		copy(ip, val[4:8])
		return ip, port, nil

	case 0x02:
		if len(val) < 20 {
			return nil, 0, errAttrTooShort
		}
		ip := make(net.IP, 16)
		copy(ip, val[4:20])
		return ip, port, nil

	default:
		return nil, 0, &unknownFamilyError{family: family}
	}
}

// Query sends a single STUN Binding Request to server over conn and returns
// the server-reflexive address. conn may be shared across multiple calls to
// DetectNATType so that each query originates from the same source port.
func Query(ctx context.Context, conn *net.UDPConn, server string, timeout time.Duration) (net.IP, int, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, 0, &resolveServerError{server: server, err: err}
	}

	req := buildBindingRequest()
	var txnID [12]byte
	copy(txnID[:], req[8:20])

	if _, err := conn.WriteToUDP(req, raddr); err != nil {
		return nil, 0, &sendRequestError{server: server, err: err}
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 512)
	n, sender, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, 0, &readResponseError{server: server, err: err}
	}
	if sender == nil || !sender.IP.Equal(raddr.IP) {
		return nil, 0, &unexpectedSenderError{server: server, sender: sender}
	}

	return parseBindingResponse(buf[:n], txnID)
}

// NATType classifies the NAT behavior observed via a same-socket dual STUN
// query, mirroring rendezvousaddr.NATType's three-way split but derived from
// unauthenticated STUN rather than authenticated echo-query servers.
type NATType string

const (
	Unknown             NATType = "unknown"
	EndpointIndependent NATType = "endpoint_independent"
	EndpointDependent   NATType = "endpoint_dependent"
)

// DetectNATType queries two STUN servers from the same local socket and
// compares the reflected external addresses: identical IP:port implies an
// endpoint-independent mapping; anything else implies endpoint-dependent
// behavior. Only one server responding still returns that server's mapped
// address, with type Unknown.
func DetectNATType(ctx context.Context, bindAddr *net.UDPAddr, server1, server2 string, timeout time.Duration) (NATType, *net.UDPAddr, error) {
	ctx, span := tracer.Start(ctx, "natprobe.detect_nat_type")
	defer span.End()

	conn, err := net.ListenUDP("udp4", bindAddr)
	if err != nil {
		return "", nil, &bindError{err: err}
	}
	defer conn.Close()

	ip1, port1, err1 := Query(ctx, conn, server1, timeout)
	ip2, port2, err2 := Query(ctx, conn, server2, timeout)

	if err1 != nil && err2 != nil {
		return "", nil, &bothServersFailedError{err1: err1, err2: err2}
	}
	if err1 != nil {
		span.SetAttributes(attribute.String("nat_type", string(Unknown)))
		return Unknown, &net.UDPAddr{IP: ip2, Port: port2}, nil
	}
	if err2 != nil {
		span.SetAttributes(attribute.String("nat_type", string(Unknown)))
		return Unknown, &net.UDPAddr{IP: ip1, Port: port1}, nil
	}

	if ip1.Equal(ip2) && port1 == port2 {
		span.SetAttributes(attribute.String("nat_type", string(EndpointIndependent)))
		return EndpointIndependent, &net.UDPAddr{IP: ip1, Port: port1}, nil
	}
	span.SetAttributes(attribute.String("nat_type", string(EndpointDependent)))
	return EndpointDependent, &net.UDPAddr{IP: ip1, Port: port1}, nil
}
