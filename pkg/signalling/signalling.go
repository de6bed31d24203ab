// Package signalling implements the single-frame handshake peers exchange
// over a caller-supplied out-of-band channel before racing TCP/UDP
// candidates. Exactly one InitMsg is sent per peer per attempt, and the
// send is queued before the receive-wait begins.
package signalling

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/wireaddr"
)

var tracer = otel.Tracer("rendezvous.signalling")

// DefaultTimeout bounds the wait for the peer's InitMsg.
const DefaultTimeout = 120 * time.Second

// Channel is the caller-supplied duplex of framed byte buffers. Its error
// types are propagated opaquely by wrapping them in this package's own
// error kinds.
type Channel interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// InitMsg is the single-frame payload exchanged over the signalling
// channel: the peer's encryption public key and the address it wants the
// other side to dial.
type InitMsg struct {
	EncPK          boxcrypto.PublicKey
	RendezvousAddr net.Addr
}

// Exchange sends own on ch, then waits for exactly one frame from the
// peer, applying DefaultTimeout to the receive. The send is always
// dispatched before the wait begins, regardless of whether the peer has
// already sent anything.
func Exchange(ctx context.Context, ch Channel, own InitMsg) (InitMsg, error) {
	return ExchangeWithTimeout(ctx, ch, own, DefaultTimeout)
}

// ExchangeWithTimeout is Exchange with an explicit receive timeout,
// exposed so callers (and tests) that need a shorter deadline than
// DefaultTimeout don't have to duplicate the protocol.
func ExchangeWithTimeout(ctx context.Context, ch Channel, own InitMsg, timeout time.Duration) (InitMsg, error) {
	ctx, span := tracer.Start(ctx, "signalling.exchange")
	defer span.End()

	frame, err := encode(own)
	if err != nil {
		return InitMsg{}, &SerializeError{Err: err}
	}

	if err := ch.Send(ctx, frame); err != nil {
		return InitMsg{}, &ChannelWriteError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	peerFrame, err := ch.Recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return InitMsg{}, &ChannelTimedOutError{}
		}
		return InitMsg{}, &ChannelReadError{Err: err}
	}
	if len(peerFrame) == 0 {
		return InitMsg{}, &ChannelClosedError{}
	}

	peer, err := decode(peerFrame)
	if err != nil {
		return InitMsg{}, &DeserializeError{Err: err}
	}
	return peer, nil
}

// encode serialises msg as: tag "Init" (4 bytes), EncPK (32 bytes), then
// the tagged socket address encoding from pkg/wireaddr. Deterministic for
// a given value.
func encode(msg InitMsg) ([]byte, error) {
	udpAddr, err := toUDPAddr(msg.RendezvousAddr)
	if err != nil {
		return nil, err
	}
	addrBytes, err := wireaddr.Encode(udpAddr)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+boxcrypto.PublicKeySize+len(addrBytes))
	out = append(out, 'I', 'n', 'i', 't')
	out = append(out, msg.EncPK.Bytes()...)
	out = append(out, addrBytes...)
	return out, nil
}

func decode(frame []byte) (InitMsg, error) {
	if len(frame) < 4+boxcrypto.PublicKeySize {
		return InitMsg{}, &shortFrameError{got: len(frame)}
	}
	if string(frame[:4]) != "Init" {
		return InitMsg{}, &badTagError{tag: string(frame[:4])}
	}

	var pk boxcrypto.PublicKey
	copy(pk[:], frame[4:4+boxcrypto.PublicKeySize])

	addr, err := wireaddr.Decode(frame[4+boxcrypto.PublicKeySize:])
	if err != nil {
		return InitMsg{}, err
	}

	return InitMsg{EncPK: pk, RendezvousAddr: addr}, nil
}

func toUDPAddr(addr net.Addr) (*net.UDPAddr, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a, nil
	case *net.TCPAddr:
		return &net.UDPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}, nil
	default:
		return nil, &unsupportedAddrError{addr: addr}
	}
}
