package rendezvousaddr

import (
	"context"
	"net"
	"testing"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/natprobe"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/reuseport"
)

func startEchoServer(t *testing.T) echoquery.RemoteServer {
	t.Helper()

	pk, sk, err := boxcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	conn, err := reuseport.ListenUDPReusable(context.Background(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDPReusable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	srv := echoquery.NewServer(sk, ratelimit.NewDefault())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ServeUDP(ctx, conn)

	return echoquery.RemoteServer{Addr: conn.LocalAddr().String(), PubKey: pk}
}

func TestResolveUDPAgreeingServers(t *testing.T) {
	servers := []echoquery.RemoteServer{startEchoServer(t), startEchoServer(t)}

	result, err := ResolveUDP(context.Background(), servers, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ResolveUDP: %v", err)
	}
	if result.NatType != EndpointIndependent {
		t.Errorf("expected EndpointIndependent for agreeing servers, got %s", result.NatType)
	}
	udpAddr, ok := result.Addr.(*net.UDPAddr)
	if !ok {
		t.Fatalf("expected *net.UDPAddr, got %T", result.Addr)
	}
	if !udpAddr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("expected loopback IP, got %s", udpAddr.IP)
	}
}

func TestResolveUDPZeroServersFails(t *testing.T) {
	_, err := ResolveUDP(context.Background(), nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err == nil {
		t.Fatal("expected an error with zero servers")
	}
	var addrErr *AddrError
	if !asAddrError(err, &addrErr) {
		t.Fatalf("expected *AddrError, got %T: %v", err, err)
	}
}

func TestResolveUDPSingleServerFails(t *testing.T) {
	servers := []echoquery.RemoteServer{startEchoServer(t)}

	_, err := ResolveUDP(context.Background(), servers, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err == nil {
		t.Fatal("expected an error with only one successful server")
	}
}

func asAddrError(err error, target **AddrError) bool {
	ae, ok := err.(*AddrError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func TestFromSTUNNatTypeMapping(t *testing.T) {
	cases := []struct {
		in   natprobe.NATType
		want NATType
	}{
		{natprobe.EndpointIndependent, EndpointIndependent},
		{natprobe.EndpointDependent, PortDependent},
		{natprobe.Unknown, Unknown},
	}
	for _, c := range cases {
		if got := fromSTUNNatType(c.in); got != c.want {
			t.Errorf("fromSTUNNatType(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
