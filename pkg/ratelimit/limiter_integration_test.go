package ratelimit_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/reuseport"
)

// These exercise the limiter through its actual call site, echoquery.Server,
// rather than in isolation: a zero-burst limiter must make both the TCP and
// UDP listeners reject a source and count the rejection, without otherwise
// touching the wire protocol.

func TestTCPListenerRejectsOverLimitSource(t *testing.T) {
	_, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	ln, err := reuseport.ListenTCPReusable(context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCPReusable: %v", err)
	}
	defer ln.Close()

	limiter := ratelimit.New(1, 0, 16)
	srv := echoquery.NewServer(serverSK, limiter)
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
	t.Error("expected the limiter to drive TCPRejected above zero")
}

func TestUDPListenerRejectsOverLimitSource(t *testing.T) {
	_, serverSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	conn, err := reuseport.ListenUDPReusable(context.Background(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDPReusable: %v", err)
	}
	defer conn.Close()

	limiter := ratelimit.New(1, 0, 16)
	srv := echoquery.NewServer(serverSK, limiter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ServeUDP(ctx, conn)

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("anything, it never gets past the limiter")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.Stats().UDPRejected > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected the limiter to drive UDPRejected above zero")
}
