// Package rendezvousaddr resolves the address a peer should advertise to
// the outside world by aggregating echo queries against a pool of
// rendezvous servers. When fewer than two authenticated servers are
// configured it falls back to an unauthenticated STUN probe to still
// classify NatType, but never to invent an address the echo-query pool
// didn't itself observe.
package rendezvousaddr

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/natprobe"
)

// stunFallbackTimeout bounds the unauthenticated STUN probe used to enrich
// NatType when fewer than two authenticated servers succeeded.
const stunFallbackTimeout = 3 * time.Second

var tracer = otel.Tracer("rendezvous.rendezvousaddr")

// NATType is an advisory classification derived from comparing observed
// external ports across multiple queries. It is exposed alongside the
// resolved address but never alters the core connect algorithm.
type NATType int

const (
	Unknown NATType = iota
	EndpointIndependent
	AddressDependent
	PortDependent
)

func (t NATType) String() string {
	switch t {
	case EndpointIndependent:
		return "endpoint-independent"
	case AddressDependent:
		return "address-dependent"
	case PortDependent:
		return "port-dependent"
	default:
		return "unknown"
	}
}

// Result is the outcome of resolving an advertisable address.
type Result struct {
	Addr    net.Addr
	NatType NATType
}

type success struct {
	server echoquery.RemoteServer
	addr   net.Addr
	ip     net.IP
	port   int
	at     time.Time
}

// ResolveUDP issues echo queries in parallel to every server in servers
// (all of which must be reachable over UDP) and aggregates the results.
// At least two servers must succeed.
func ResolveUDP(ctx context.Context, servers []echoquery.RemoteServer, bindAddr *net.UDPAddr) (Result, error) {
	ctx, span := tracer.Start(ctx, "rendezvousaddr.resolve_udp")
	defer span.End()

	return resolve(ctx, span, servers, func(ctx context.Context, s echoquery.RemoteServer) (net.Addr, error) {
		return echoquery.QueryUDP(ctx, s, bindAddr)
	})
}

// ResolveTCP is the TCP analogue of ResolveUDP: it issues one echo query
// per server over a reusably-bound TCP connection from bindAddr.
func ResolveTCP(ctx context.Context, servers []echoquery.RemoteServer, bindAddr *net.TCPAddr) (Result, error) {
	ctx, span := tracer.Start(ctx, "rendezvousaddr.resolve_tcp")
	defer span.End()

	return resolve(ctx, span, servers, func(ctx context.Context, s echoquery.RemoteServer) (net.Addr, error) {
		return echoquery.QueryTCP(ctx, s, bindAddr)
	})
}

type spanLike interface {
	SetAttributes(...attribute.KeyValue)
}

func resolve(ctx context.Context, span spanLike, servers []echoquery.RemoteServer, query func(context.Context, echoquery.RemoteServer) (net.Addr, error)) (Result, error) {
	type outcome struct {
		success *success
		err     error
		server  echoquery.RemoteServer
	}

	results := make(chan outcome, len(servers))
	for _, s := range servers {
		go func(s echoquery.RemoteServer) {
			addr, err := query(ctx, s)
			if err != nil {
				results <- outcome{err: err, server: s}
				return
			}
			ip, port := addrParts(addr)
			results <- outcome{success: &success{server: s, addr: addr, ip: ip, port: port, at: time.Now()}}
		}(s)
	}

	var successes []success
	errs := make(map[string]error)
	for i := 0; i < len(servers); i++ {
		o := <-results
		if o.err != nil {
			errs[o.server.Addr] = o.err
			continue
		}
		successes = append(successes, *o.success)
	}

	span.SetAttributes(attribute.Int("servers.total", len(servers)), attribute.Int("servers.succeeded", len(successes)))

	if len(successes) >= 2 {
		return aggregate(successes), nil
	}

	if len(successes) == 1 {
		if result, ok := enrichWithSTUN(ctx, successes[0]); ok {
			return result, nil
		}
	}

	return Result{}, &AddrError{PerServer: errs}
}

// enrichWithSTUN classifies NatType via an unauthenticated dual-STUN query
// (natprobe.DetectNATType) when only a single echo-query server succeeded.
// The resolved address still comes from that one successful echo query; the
// STUN probe never supplies the address itself. ok is false if the STUN
// probe itself fails (e.g. no network reachability to natprobe.DefaultServers),
// in which case the caller falls back to reporting the original AddrError.
func enrichWithSTUN(ctx context.Context, only success) (Result, bool) {
	natType, _, err := natprobe.DetectNATType(ctx, &net.UDPAddr{Port: 0}, natprobe.DefaultServers[0], natprobe.DefaultServers[1], stunFallbackTimeout)
	if err != nil {
		return Result{}, false
	}
	return Result{Addr: only.addr, NatType: fromSTUNNatType(natType)}, true
}

func fromSTUNNatType(t natprobe.NATType) NATType {
	switch t {
	case natprobe.EndpointIndependent:
		return EndpointIndependent
	case natprobe.EndpointDependent:
		return PortDependent
	default:
		return Unknown
	}
}

func addrParts(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		return nil, 0
	}
}

// aggregate applies the disagreement policy from spec.md §4.C: identical
// addresses across servers mean an endpoint-independent mapping; port
// disagreement across servers means the NAT varies the mapping per
// destination, so return the most recently observed address.
func aggregate(successes []success) Result {
	first := successes[0]
	allSame := true
	for _, s := range successes[1:] {
		if !s.ip.Equal(first.ip) || s.port != first.port {
			allSame = false
			break
		}
	}

	if allSame {
		return Result{Addr: first.addr, NatType: EndpointIndependent}
	}

	newest := successes[0]
	sameIP := true
	for _, s := range successes[1:] {
		if !s.ip.Equal(first.ip) {
			sameIP = false
		}
		if s.at.After(newest.at) {
			newest = s
		}
	}

	natType := PortDependent
	if !sameIP {
		natType = AddressDependent
	}
	return Result{Addr: newest.addr, NatType: natType}
}
