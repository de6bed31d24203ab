// rzvbench runs a loopback two-peer rendezvous entirely in-process: it
// starts its own echo-query servers, wires an in-memory signalling channel
// between two simulated peers, and reports how the connect attempt
// resolved. Useful for exercising the whole stack without any external
// infrastructure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/rendezvous"
	"github.com/povilasb/rendezvous/pkg/reuseport"
	"github.com/povilasb/rendezvous/pkg/signalling"
	"github.com/povilasb/rendezvous/pkg/telemetry"
)

func main() {
	numServers := flag.Int("servers", 3, "number of in-process echo-query servers")
	useUDP := flag.Bool("udp", false, "benchmark the UDP rendezvous instead of TCP")
	timeout := flag.Duration("timeout", 15*time.Second, "overall attempt timeout")
	flag.Parse()

	shutdown, err := telemetry.Init(context.Background(), "rzvbench", "dev")
	if err != nil {
		log.Printf("WARNING: telemetry init failed: %v", err)
	} else {
		defer shutdown(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var servers []echoquery.RemoteServer
	if *useUDP {
		servers = startUDPEchoServers(ctx, *numServers)
	} else {
		servers = startTCPEchoServers(ctx, *numServers)
	}
	log.Printf("[Bench] started %d in-process echo-query servers", len(servers))

	chA, chB := newPipeChannel()

	pkA, skA, err := boxcrypto.GenerateKeypair()
	if err != nil {
		log.Fatalf("[Bench] generate keypair A: %v", err)
	}
	pkB, skB, err := boxcrypto.GenerateKeypair()
	if err != nil {
		log.Fatalf("[Bench] generate keypair B: %v", err)
	}

	type outcome struct {
		who string
		res rendezvous.Result
		err error
		dur time.Duration
	}
	resCh := make(chan outcome, 2)

	run := func(who string, ch signalling.Channel, sk boxcrypto.SecretKey, pk boxcrypto.PublicKey) {
		start := time.Now()
		var res rendezvous.Result
		var err error
		if *useUDP {
			res, err = rendezvous.UdpRendezvousConnect(ctx, ch, sk, pk, servers)
		} else {
			res, err = rendezvous.TcpRendezvousConnect(ctx, ch, sk, pk, servers)
		}
		resCh <- outcome{who: who, res: res, err: err, dur: time.Since(start)}
	}

	go run("A", chA, skA, pkA)
	go run("B", chB, skB, pkB)

	for i := 0; i < 2; i++ {
		o := <-resCh
		if o.err != nil {
			fmt.Printf("peer %s: FAILED after %s: %v\n", o.who, o.dur, o.err)
			continue
		}
		defer o.res.Conn.Close()
		fmt.Printf("peer %s: connected to %s in %s (nat=%s, rendezvous_addr=%s)\n",
			o.who, o.res.Conn.RemoteAddr(), o.dur, o.res.NatType, o.res.RendezvousAddr)
	}
}

func startTCPEchoServers(ctx context.Context, n int) []echoquery.RemoteServer {
	var servers []echoquery.RemoteServer
	for i := 0; i < n; i++ {
		pk, sk, err := boxcrypto.GenerateKeypair()
		if err != nil {
			log.Fatalf("[Bench] generate server keypair: %v", err)
		}
		ln, err := reuseport.ListenTCPReusable(ctx, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
		if err != nil {
			log.Fatalf("[Bench] listen tcp: %v", err)
		}
		srv := echoquery.NewServer(sk, ratelimit.NewDefault())
		go srv.ServeTCP(ctx, ln)
		servers = append(servers, echoquery.RemoteServer{Addr: ln.Addr().String(), PubKey: pk})
	}
	return servers
}

func startUDPEchoServers(ctx context.Context, n int) []echoquery.RemoteServer {
	var servers []echoquery.RemoteServer
	for i := 0; i < n; i++ {
		pk, sk, err := boxcrypto.GenerateKeypair()
		if err != nil {
			log.Fatalf("[Bench] generate server keypair: %v", err)
		}
		conn, err := reuseport.ListenUDPReusable(ctx, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
		if err != nil {
			log.Fatalf("[Bench] listen udp: %v", err)
		}
		srv := echoquery.NewServer(sk, ratelimit.NewDefault())
		go srv.ServeUDP(ctx, conn)
		servers = append(servers, echoquery.RemoteServer{Addr: conn.LocalAddr().String(), PubKey: pk})
	}
	return servers
}
