// Package rendezvous implements the core NAT-traversal connection engine:
// candidate generation, the TCP simultaneous-open engine, and the choose
// protocol that collapses the resulting races to exactly one connection.
package rendezvous

import (
	"context"
	"net"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/rendezvousaddr"
	"github.com/povilasb/rendezvous/pkg/reuseport"
	"github.com/povilasb/rendezvous/pkg/signalling"
)

var tracer = otel.Tracer("rendezvous.rendezvous")

// Result is returned by a successful rendezvous attempt: the winning
// connection plus the address this side advertised.
type Result struct {
	Conn           net.Conn
	RendezvousAddr net.Addr
	NatType        rendezvousaddr.NATType
}

// TcpRendezvousConnect binds a reusable TCP socket, resolves this side's
// public address via tcpServers, exchanges it with the peer over ch, then
// races an outbound connect against the listener's accepted connections
// and finalises exactly one via the choose protocol. Both peers must call
// this simultaneously.
func TcpRendezvousConnect(ctx context.Context, ch signalling.Channel, ourSK boxcrypto.SecretKey, ourPK boxcrypto.PublicKey, tcpServers []echoquery.RemoteServer) (Result, error) {
	return TcpRendezvousConnectFrom(ctx, ch, ourSK, ourPK, tcpServers, nil, false)
}

// TcpRendezvousConnectFrom is TcpRendezvousConnect with extra local
// candidate addresses (SPEC_FULL §4.A+), e.g. derived from
// pkg/ifaddrs.LocalAddrs when rzvconfig.Options.ProbeLocalInterfaces is
// set. Each extra address races an extra outbound dial alongside the
// listener and the primary bindAddr dial. When forceUseLocalPort is set
// (rzvconfig.Options.ForceUseLocalPort), every extra address's port is
// overwritten with bindAddr's actual port before dialing, per spec.md
// §9's "use bind_addr verbatim for candidate local endpoints" — for
// setups where only bindAddr's port is forwarded through a NAT/firewall.
// nil extraLocalAddrs behaves exactly like TcpRendezvousConnect.
func TcpRendezvousConnectFrom(ctx context.Context, ch signalling.Channel, ourSK boxcrypto.SecretKey, ourPK boxcrypto.PublicKey, tcpServers []echoquery.RemoteServer, extraLocalAddrs []*net.TCPAddr, forceUseLocalPort bool) (Result, error) {
	ctx, span := tracer.Start(ctx, "rendezvous.tcp_rendezvous_connect")
	defer span.End()

	listener, err := reuseport.ListenTCPReusable(ctx, &net.TCPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return Result{}, err
	}
	bindAddr := listener.Addr().(*net.TCPAddr)

	if forceUseLocalPort {
		for _, extra := range extraLocalAddrs {
			extra.Port = bindAddr.Port
		}
	}

	addrResult, err := rendezvousaddr.ResolveTCP(ctx, tcpServers, bindAddr)
	if err != nil {
		listener.Close()
		return Result{}, err
	}
	span.SetAttributes(attribute.String("rendezvous_addr", addrResult.Addr.String()), attribute.String("nat_type", addrResult.NatType.String()))

	ourMsg := signalling.InitMsg{EncPK: ourPK, RendezvousAddr: addrResult.Addr}
	peerMsg, err := signalling.Exchange(ctx, ch, ourMsg)
	if err != nil {
		listener.Close()
		return Result{}, err
	}

	peerAddr, err := toTCPAddr(peerMsg.RendezvousAddr)
	if err != nil {
		listener.Close()
		return Result{}, err
	}

	candidates := raceTCPCandidates(ctx, listener, bindAddr, peerAddr, DefaultCandidateWindow, extraLocalAddrs...)
	conn, err := chooseConnection(candidates, ourSK, ourPK, peerMsg.EncPK)
	if err != nil {
		return Result{}, err
	}

	return Result{Conn: conn, RendezvousAddr: addrResult.Addr, NatType: addrResult.NatType}, nil
}

func toTCPAddr(addr net.Addr) (*net.TCPAddr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a, nil
	case *net.UDPAddr:
		return &net.TCPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}, nil
	default:
		return nil, &unsupportedPeerAddrError{addr: addr}
	}
}

type unsupportedPeerAddrError struct{ addr net.Addr }

func (e *unsupportedPeerAddrError) Error() string {
	return "rendezvous: peer advertised an unsupported address type: " + e.addr.String()
}
