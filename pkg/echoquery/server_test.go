package echoquery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/reuseport"
)

func TestUDPEchoRoundTrip(t *testing.T) {
	serverPK, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	serverConn, err := reuseport.ListenUDPReusable(context.Background(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDPReusable: %v", err)
	}
	defer serverConn.Close()

	srv := NewServer(serverSK, ratelimit.NewDefault())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeUDP(ctx, serverConn)

	server := RemoteServer{Addr: serverConn.LocalAddr().String(), PubKey: serverPK}
	addr, err := QueryUDP(context.Background(), server, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("QueryUDP: %v", err)
	}
	if !addr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("expected loopback IP, got %s", addr.IP)
	}
	if addr.Port == 0 {
		t.Error("expected a non-zero observed port")
	}
}

func TestTCPEchoRoundTrip(t *testing.T) {
	serverPK, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	ln, err := reuseport.ListenTCPReusable(context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	defer ln.Close()

	srv := NewServer(serverSK, ratelimit.NewDefault())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeTCP(ctx, ln)

	server := RemoteServer{Addr: ln.Addr().String(), PubKey: serverPK}
	addr, err := QueryTCP(context.Background(), server, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("QueryTCP: %v", err)
	}
	if !addr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("expected loopback IP, got %s", addr.IP)
	}

	stats := srv.Stats()
	if stats.TCPServed != 1 {
		t.Errorf("expected TCPServed=1, got %d", stats.TCPServed)
	}
	if stats.TCPRejected != 0 {
		t.Errorf("expected TCPRejected=0, got %d", stats.TCPRejected)
	}
}

func TestServerStatsTracksRejections(t *testing.T) {
	_, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	ln, err := reuseport.ListenTCPReusable(context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	defer ln.Close()

	// A zero-burst limiter rejects every source immediately.
	limiter := ratelimit.New(1, 0, 16)
	srv := NewServer(serverSK, limiter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeTCP(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.Stats().TCPRejected > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected TCPRejected to increment for a rate-limited connection")
}

func TestUDPEchoToleratesDroppedFirstRequest(t *testing.T) {
	serverPK, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	serverConn, err := reuseport.ListenUDPReusable(context.Background(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDPReusable: %v", err)
	}
	defer serverConn.Close()

	// Rate limiter with burst 1: the first datagram from the client is
	// consumed by a decoy so the real client's first retransmission is
	// dropped, and only a later retransmit gets a reply.
	limiter := ratelimit.New(3, 1, 100)
	srv := NewServer(serverSK, limiter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeUDP(ctx, serverConn)

	limiter.Allow("127.0.0.1")

	server := RemoteServer{Addr: serverConn.LocalAddr().String(), PubKey: serverPK}
	start := time.Now()
	addr, err := QueryUDP(context.Background(), server, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("QueryUDP: %v", err)
	}
	if time.Since(start) < RetransmitInterval {
		t.Error("expected at least one retransmit before success")
	}
	if addr == nil {
		t.Fatal("expected a non-nil observed address")
	}
}
