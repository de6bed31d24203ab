package echoquery

import (
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/framing"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/wireaddr"
)

// Server answers echo queries: it replies to whoever sent a validly
// decrypted request with the address that request was observed from, and
// nothing else. It never replies to any address other than the source of
// the request it is answering.
type Server struct {
	sk      boxcrypto.SecretKey
	limiter *ratelimit.IPRateLimiter
	started time.Time

	tcpServed   atomic.Uint64
	udpServed   atomic.Uint64
	tcpRejected atomic.Uint64
	udpRejected atomic.Uint64
}

// Stats is a snapshot of a Server's lifetime request counters, reported
// over pkg/rpc for operators who want to observe a running rzvserver.
type Stats struct {
	Uptime      time.Duration
	TCPServed   uint64
	UDPServed   uint64
	TCPRejected uint64
	UDPRejected uint64
}

// NewServer constructs a Server that decrypts requests sealed to sk. A
// nil limiter disables rate limiting.
func NewServer(sk boxcrypto.SecretKey, limiter *ratelimit.IPRateLimiter) *Server {
	if limiter == nil {
		limiter = ratelimit.NewDefault()
	}
	return &Server{sk: sk, limiter: limiter, started: time.Now()}
}

// Stats returns a snapshot of the server's request counters.
func (s *Server) Stats() Stats {
	return Stats{
		Uptime:      time.Since(s.started),
		TCPServed:   s.tcpServed.Load(),
		UDPServed:   s.udpServed.Load(),
		TCPRejected: s.tcpRejected.Load(),
		UDPRejected: s.udpRejected.Load(),
	}
}

// ServeUDP reads echo requests off conn until ctx is done or the socket
// errors. Each datagram is handled independently; a malformed or
// rate-limited one is dropped without a reply.
func (s *Server) ServeUDP(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &ReadResponseError{Err: err}
		}
		s.handleUDP(ctx, conn, from, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handleUDP(ctx context.Context, conn *net.UDPConn, from *net.UDPAddr, sealed []byte) {
	_, span := tracer.Start(ctx, "echoquery.server.handle_udp")
	span.SetAttributes(attribute.String("source.addr", from.String()))
	defer span.End()

	if !s.limiter.AllowAddr(from) {
		log.Printf("[EchoQuery] rate limited udp source=%s", from)
		s.udpRejected.Add(1)
		return
	}

	reply, err := s.buildReply(sealed, from)
	if err != nil {
		log.Printf("[EchoQuery] udp request from %s rejected: %v", from, err)
		s.udpRejected.Add(1)
		return
	}

	if _, err := conn.WriteToUDP(reply, from); err != nil {
		log.Printf("[EchoQuery] udp reply to %s failed: %v", from, err)
		return
	}
	s.udpServed.Add(1)
}

// ServeTCP accepts connections off ln until ctx is done or the listener
// errors. Each connection serves exactly one request/reply pair.
func (s *Server) ServeTCP(ctx context.Context, ln *net.TCPListener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &BindError{Err: err}
		}
		go s.handleTCP(ctx, conn.(*net.TCPConn))
	}
}

func (s *Server) handleTCP(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()

	_, span := tracer.Start(ctx, "echoquery.server.handle_tcp")
	from, ok := conn.RemoteAddr().(*net.TCPAddr)
	if ok {
		span.SetAttributes(attribute.String("source.addr", from.String()))
	}
	defer span.End()

	if from != nil && !s.limiter.AllowAddr(from) {
		log.Printf("[EchoQuery] rate limited tcp source=%s", from)
		s.tcpRejected.Add(1)
		return
	}

	sealed, err := framing.ReadFrame(conn)
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			log.Printf("[EchoQuery] tcp request from %s unreadable: %v", from, err)
		}
		s.tcpRejected.Add(1)
		return
	}

	observed := &net.UDPAddr{IP: from.IP, Port: from.Port, Zone: from.Zone}
	reply, err := s.buildReply(sealed, observed)
	if err != nil {
		log.Printf("[EchoQuery] tcp request from %s rejected: %v", from, err)
		s.tcpRejected.Add(1)
		return
	}

	if err := framing.WriteFrame(conn, reply); err != nil {
		log.Printf("[EchoQuery] tcp reply to %s failed: %v", from, err)
		return
	}
	s.tcpServed.Add(1)
}

// buildReply opens the sealed request, derives the shared secret with the
// embedded client key, and seals an encoding of observed back to that
// same secret. observed is never taken from anything the request itself
// claims.
func (s *Server) buildReply(sealed []byte, observed *net.UDPAddr) ([]byte, error) {
	plaintext, err := boxcrypto.OpenAnonymous(s.sk, sealed)
	if err != nil {
		return nil, err
	}

	req, err := decodeRequest(plaintext)
	if err != nil {
		return nil, err
	}

	shared := boxcrypto.Shared(s.sk, req.ClientPK)

	wire, err := wireaddr.Encode(observed)
	if err != nil {
		return nil, &DeserializeError{Err: err}
	}

	return shared.Encrypt(wire)
}
