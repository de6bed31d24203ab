package rendezvous

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/povilasb/rendezvous/pkg/reuseport"
)

func TestRaceTCPCandidatesListenerWinsWhenOutboundFails(t *testing.T) {
	ctx := context.Background()

	listener, err := reuseport.ListenTCPReusable(ctx, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	bindAddr := listener.Addr().(*net.TCPAddr)

	// Nothing listens on this port: the outbound leg is refused quickly.
	unroutable := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}

	candidates := raceTCPCandidates(ctx, listener, bindAddr, unroutable, 3*time.Second)

	// Dial the listener directly, simulating the peer's inbound leg
	// landing while our own outbound leg fails.
	dialer := net.Dialer{}
	inbound, err := dialer.DialContext(ctx, "tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial into listener: %v", err)
	}
	defer inbound.Close()

	var sawSuccess, sawFailure bool
	for c := range candidates {
		if c.err != nil {
			sawFailure = true
			continue
		}
		sawSuccess = true
		c.conn.Close()
	}

	if !sawSuccess {
		t.Error("expected the accepted inbound connection to appear as a candidate")
	}
	if !sawFailure {
		t.Error("expected the refused outbound connect to appear as a candidate error")
	}
}

func TestRaceTCPCandidatesWindowClosesListener(t *testing.T) {
	ctx := context.Background()

	listener, err := reuseport.ListenTCPReusable(ctx, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	bindAddr := listener.Addr().(*net.TCPAddr)
	unroutable := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}

	start := time.Now()
	candidates := raceTCPCandidates(ctx, listener, bindAddr, unroutable, 200*time.Millisecond)

	for c := range candidates {
		if c.conn != nil {
			c.conn.Close()
		}
	}

	if time.Since(start) > 2*time.Second {
		t.Error("expected the candidate stream to close promptly once the window elapsed")
	}

	// The listener must now be closed: a fresh bind on the same address
	// should succeed immediately (idempotence after a clean close).
	if _, err := net.Listen("tcp", bindAddr.String()); err != nil {
		t.Errorf("expected to rebind closed listener's address, got: %v", err)
	}
}

func TestRaceTCPCandidatesExtraLocalAddrsEachDial(t *testing.T) {
	ctx := context.Background()

	listener, err := reuseport.ListenTCPReusable(ctx, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	bindAddr := listener.Addr().(*net.TCPAddr)

	// Nothing listens on this port, so every dial (bindAddr plus both
	// extras) is refused; this just confirms all of them actually fire.
	unroutable := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	extra1 := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	extra2 := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	candidates := raceTCPCandidates(ctx, listener, bindAddr, unroutable, 3*time.Second, extra1, extra2)

	failures := 0
	for c := range candidates {
		if c.err != nil {
			failures++
			continue
		}
		c.conn.Close()
	}

	if failures != 3 {
		t.Errorf("expected 3 failed dials (bindAddr + 2 extras), got %d", failures)
	}
}
