package echoquery

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/framing"
	"github.com/povilasb/rendezvous/pkg/reuseport"
	"github.com/povilasb/rendezvous/pkg/wireaddr"
)

var tracer = otel.Tracer("rendezvous.echoquery")

type udpResult struct {
	addr *net.UDPAddr
	err  error
}

// QueryUDP asks server what external address it observes for us, using a
// reusably-bound UDP socket connected (filtered) to the server. The
// request is retransmitted every RetransmitInterval until a valid reply
// arrives or QueryTimeout elapses. Duplicate or malformed datagrams are
// tolerated: the first reply that decrypts and parses correctly wins.
func QueryUDP(ctx context.Context, server RemoteServer, bindAddr *net.UDPAddr) (*net.UDPAddr, error) {
	ctx, span := tracer.Start(ctx, "echoquery.query_udp")
	defer span.End()

	serverAddr, err := net.ResolveUDPAddr("udp", server.Addr)
	if err != nil {
		return nil, &BindError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	conn, err := reuseport.DialUDPReusable(ctx, bindAddr, serverAddr)
	if err != nil {
		return nil, &BindError{Err: err}
	}
	defer conn.Close()

	clientPK, clientSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		return nil, &boxcrypto.EncryptError{Err: err}
	}
	shared := boxcrypto.Shared(clientSK, server.PubKey)

	sealed, err := boxcrypto.SealAnonymous(server.PubKey, encodeRequest(request{ClientPK: clientPK}))
	if err != nil {
		return nil, err
	}

	replies := make(chan udpResult, 1)
	go readUDPReplies(conn, shared, replies)

	// Close the connection when the context ends so the reader goroutine's
	// blocking Read unblocks and exits instead of leaking.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := send(conn, sealed); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(RetransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, &ResponseTimeoutError{}
		case <-ticker.C:
			if err := send(conn, sealed); err != nil {
				return nil, err
			}
		case r := <-replies:
			return r.addr, r.err
		}
	}
}

func send(conn *net.UDPConn, payload []byte) error {
	if _, err := conn.Write(payload); err != nil {
		return &SendRequestError{Err: err}
	}
	return nil
}

// readUDPReplies loops reading datagrams off conn until one decrypts and
// parses as a valid address, or the socket is closed (by the caller, on
// context expiry).
func readUDPReplies(conn *net.UDPConn, shared boxcrypto.SharedSecret, out chan<- udpResult) {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			out <- udpResult{err: &ReadResponseError{Err: err}}
			return
		}
		plaintext, err := shared.Decrypt(buf[:n])
		if err != nil {
			continue
		}
		addr, err := wireaddr.Decode(plaintext)
		if err != nil {
			continue
		}
		out <- udpResult{addr: addr}
		return
	}
}

// QueryTCP asks server what external address it observes for us over a
// reusably-bound TCP connection: write the sealed request, read the reply
// frame, close.
func QueryTCP(ctx context.Context, server RemoteServer, bindAddr *net.TCPAddr) (*net.TCPAddr, error) {
	ctx, span := tracer.Start(ctx, "echoquery.query_tcp")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	serverAddr, err := net.ResolveTCPAddr("tcp", server.Addr)
	if err != nil {
		return nil, &BindError{Err: err}
	}

	conn, err := reuseport.DialTCPReusable(ctx, bindAddr, serverAddr)
	if err != nil {
		return nil, &BindError{Err: err}
	}
	defer conn.Close()

	clientPK, clientSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		return nil, &boxcrypto.EncryptError{Err: err}
	}
	shared := boxcrypto.Shared(clientSK, server.PubKey)

	sealed, err := boxcrypto.SealAnonymous(server.PubKey, encodeRequest(request{ClientPK: clientPK}))
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := framing.WriteFrame(conn, sealed); err != nil {
		return nil, &SendRequestError{Err: err}
	}

	frame, err := framing.ReadFrame(conn)
	if err != nil {
		return nil, &ReadResponseError{Err: err}
	}

	plaintext, err := shared.Decrypt(frame)
	if err != nil {
		return nil, err
	}

	udpAddr, err := wireaddr.Decode(plaintext)
	if err != nil {
		return nil, &DeserializeError{Err: err}
	}
	return &net.TCPAddr{IP: udpAddr.IP, Port: udpAddr.Port, Zone: udpAddr.Zone}, nil
}
