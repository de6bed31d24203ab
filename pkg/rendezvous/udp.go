package rendezvous

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/rendezvousaddr"
	"github.com/povilasb/rendezvous/pkg/reuseport"
	"github.com/povilasb/rendezvous/pkg/signalling"
)

// punchToken is the authenticated probe datagram retransmitted until the
// peer's NAT has opened a mapping that lets its reply back in. A UDP
// rendezvous otherwise has no listener/accept step to race, so hole
// punching stands in for the TCP simultaneous-open engine.
var punchToken = []byte{0x02}

// UdpRendezvousConnect is the UDP analogue of TcpRendezvousConnect: both
// peers bind a reusable UDP socket to the discovered rendezvous address
// pair and exchange punch datagrams on the same 500ms/3s cadence as the
// echo-query client until one direction's probe is acknowledged, then run
// the choose protocol over that UDP "connection". This does not add a
// relay; it is the UDP peer of the already-specified TCP mechanism.
func UdpRendezvousConnect(ctx context.Context, ch signalling.Channel, ourSK boxcrypto.SecretKey, ourPK boxcrypto.PublicKey, udpServers []echoquery.RemoteServer) (Result, error) {
	ctx, span := tracer.Start(ctx, "rendezvous.udp_rendezvous_connect")
	defer span.End()

	listenConn, err := reuseport.ListenUDPReusable(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return Result{}, err
	}
	bindAddr := listenConn.LocalAddr().(*net.UDPAddr)

	addrResult, err := rendezvousaddr.ResolveUDP(ctx, udpServers, bindAddr)
	if err != nil {
		listenConn.Close()
		return Result{}, err
	}
	span.SetAttributes(attribute.String("rendezvous_addr", addrResult.Addr.String()), attribute.String("nat_type", addrResult.NatType.String()))

	ourMsg := signalling.InitMsg{EncPK: ourPK, RendezvousAddr: addrResult.Addr}
	peerMsg, err := signalling.Exchange(ctx, ch, ourMsg)
	if err != nil {
		listenConn.Close()
		return Result{}, err
	}

	peerAddr, err := toUDPAddr(peerMsg.RendezvousAddr)
	if err != nil {
		listenConn.Close()
		return Result{}, err
	}

	shared := boxcrypto.Shared(ourSK, peerMsg.EncPK)

	confirmed, err := punch(ctx, listenConn, shared, peerAddr, DefaultCandidateWindow)
	listenConn.Close()
	if err != nil {
		return Result{}, err
	}

	conn, err := reuseport.DialUDPReusable(ctx, bindAddr, confirmed)
	if err != nil {
		return Result{}, err
	}

	if err := chooseOverDatagram(conn, ourPK, peerMsg.EncPK, shared); err != nil {
		conn.Close()
		return Result{}, err
	}

	return Result{Conn: conn, RendezvousAddr: addrResult.Addr, NatType: addrResult.NatType}, nil
}

func toUDPAddr(addr net.Addr) (*net.UDPAddr, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a, nil
	case *net.TCPAddr:
		return &net.UDPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}, nil
	default:
		return nil, &unsupportedPeerAddrError{addr: addr}
	}
}

// punch retransmits an authenticated probe to peerAddr every 500ms while
// listening for any datagram that decrypts validly under shared; that
// datagram's source becomes the confirmed peer endpoint, which may differ
// from peerAddr behind a NAT that rewrites the mapping per destination.
func punch(ctx context.Context, conn *net.UDPConn, shared boxcrypto.SharedSecret, peerAddr *net.UDPAddr, window time.Duration) (*net.UDPAddr, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	sealed, err := shared.Encrypt(punchToken)
	if err != nil {
		return nil, &SingleAttemptError{Kind: KindEncrypt, Err: err}
	}

	type incoming struct {
		from *net.UDPAddr
		err  error
	}
	incomingCh := make(chan incoming, 1)
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				incomingCh <- incoming{err: err}
				return
			}
			if _, err := shared.Decrypt(buf[:n]); err != nil {
				continue
			}
			incomingCh <- incoming{from: from}
			return
		}
	}()

	if _, err := conn.WriteToUDP(sealed, peerAddr); err != nil {
		return nil, &SingleAttemptError{Kind: KindWrite, Err: err}
	}

	ticker := time.NewTicker(echoquery.RetransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, &SingleAttemptError{Kind: KindConnect, Err: ctx.Err()}
		case <-ticker.C:
			if _, err := conn.WriteToUDP(sealed, peerAddr); err != nil {
				return nil, &SingleAttemptError{Kind: KindWrite, Err: err}
			}
		case in := <-incomingCh:
			if in.err != nil {
				return nil, &SingleAttemptError{Kind: KindRead, Err: in.err}
			}
			return in.from, nil
		}
	}
}

// chooseOverDatagram runs the §4.G choose protocol over a connected UDP
// socket: each message is exactly one datagram, so no length prefix is
// needed (UDP already preserves message boundaries).
func chooseOverDatagram(conn *net.UDPConn, ourPK, theirPK boxcrypto.PublicKey, shared boxcrypto.SharedSecret) error {
	if ourPK.Greater(theirPK) {
		sealed, err := shared.Encrypt(chooseToken)
		if err != nil {
			return &SingleAttemptError{Kind: KindEncrypt, Err: err}
		}
		if _, err := conn.Write(sealed); err != nil {
			return &SingleAttemptError{Kind: KindWrite, Err: err}
		}
		return nil
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return &SingleAttemptError{Kind: KindRead, Err: err}
	}
	plaintext, err := shared.Decrypt(buf[:n])
	if err != nil {
		return &SingleAttemptError{Kind: KindDecrypt, Err: err}
	}
	if len(plaintext) != len(chooseToken) || plaintext[0] != chooseToken[0] {
		return &SingleAttemptError{Kind: KindDecrypt, Err: errBadChooseToken}
	}
	return nil
}
