// rzv is the CLI entry point for the rendezvous NAT-traversal library: it
// can run a connect attempt against a peer, serve the echo-query protocol
// standalone, or probe a server pool for NAT classification.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/ifaddrs"
	"github.com/povilasb/rendezvous/pkg/rendezvous"
	"github.com/povilasb/rendezvous/pkg/rendezvousaddr"
	"github.com/povilasb/rendezvous/pkg/rpc"
	"github.com/povilasb/rendezvous/pkg/rzvconfig"
	"github.com/povilasb/rendezvous/pkg/telemetry"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Println("rzv " + version)
	case "connect":
		connectCmd(os.Args[2:])
	case "serve-echo":
		serveEchoCmd(os.Args[2:])
	case "probe":
		probeCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rzv <connect|serve-echo|probe|status|version> [flags]")
}

func connectCmd(args []string) {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	tcpServers := fs.String("tcp-servers", "", "comma-separated or rzv:// TCP echo-query server pool")
	udpServers := fs.String("udp-servers", "", "comma-separated or rzv:// UDP echo-query server pool")
	signalAddr := fs.String("signal-addr", "", "address to dial for the signalling handshake")
	listen := fs.Bool("listen", false, "listen for the signalling handshake instead of dialing")
	useUDP := fs.Bool("udp", false, "run the UDP rendezvous instead of TCP")
	timeout := fs.Duration("timeout", 30*time.Second, "overall attempt timeout")
	probeLocalInterfaces := fs.Bool("probe-local-interfaces", false, "also race outbound dials from every local interface address")
	forceUseLocalPort := fs.Bool("force-use-local-port", false, "make interface-derived candidates dial from bind_addr's port instead of their own ephemeral one")
	fs.Parse(args)

	ourPK, ourSK, err := boxcrypto.GenerateKeypair()
	if err != nil {
		log.Fatalf("[Rendezvous] generate keypair: %v", err)
	}

	shutdown, err := telemetry.Init(context.Background(), "rzv", version,
		attribute.String("rendezvous.pubkey", rzvconfig.EncodePublicKey(ourPK)))
	if err != nil {
		log.Printf("WARNING: telemetry init failed: %v", err)
	} else {
		defer shutdown(context.Background())
	}

	tcpPool, err := rzvconfig.ParseServerPool(*tcpServers)
	if err != nil {
		log.Fatalf("[Rendezvous] bad -tcp-servers: %v", err)
	}
	udpPool, err := rzvconfig.ParseServerPool(*udpServers)
	if err != nil {
		log.Fatalf("[Rendezvous] bad -udp-servers: %v", err)
	}

	opts := rzvconfig.Options{
		TCPServers:           tcpPool,
		UDPServers:           udpPool,
		ProbeLocalInterfaces: *probeLocalInterfaces,
		ForceUseLocalPort:    *forceUseLocalPort,
	}

	var ch *tcpChannel
	if *listen {
		ch, err = listenSignallingChannel(*signalAddr)
	} else {
		ch, err = dialSignallingChannel(*signalAddr)
	}
	if err != nil {
		log.Fatalf("[Rendezvous] signalling channel: %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var result rendezvous.Result
	if *useUDP {
		result, err = rendezvous.UdpRendezvousConnect(ctx, ch, ourSK, ourPK, opts.UDPServers)
	} else {
		var extraLocal []*net.TCPAddr
		if opts.ProbeLocalInterfaces {
			addrs, ifErr := ifaddrs.LocalAddrs(0, "")
			if ifErr != nil {
				log.Printf("[Rendezvous] probe local interfaces: %v", ifErr)
			}
			for _, a := range addrs {
				extraLocal = append(extraLocal, a.(*net.TCPAddr))
			}
		}
		result, err = rendezvous.TcpRendezvousConnectFrom(ctx, ch, ourSK, ourPK, opts.TCPServers, extraLocal, opts.ForceUseLocalPort)
	}
	if err != nil {
		log.Fatalf("[Rendezvous] connect failed: %v", err)
	}
	defer result.Conn.Close()

	log.Printf("[Rendezvous] connected to %s (nat=%s, rendezvous_addr=%s)",
		result.Conn.RemoteAddr(), result.NatType, result.RendezvousAddr)
	fmt.Println(result.Conn.RemoteAddr().String())
}

func serveEchoCmd(args []string) {
	fs := flag.NewFlagSet("serve-echo", flag.ExitOnError)
	tcpAddr := fs.String("tcp-addr", "", "TCP listen address (empty to disable)")
	udpAddr := fs.String("udp-addr", "", "UDP listen address (empty to disable)")
	fs.Parse(args)

	pk, sk, err := boxcrypto.GenerateKeypair()
	if err != nil {
		log.Fatalf("[EchoQuery] generate keypair: %v", err)
	}
	log.Printf("[EchoQuery] server public key: %s", rzvconfig.EncodePublicKey(pk))

	shutdown, err := telemetry.Init(context.Background(), "rzv-serve-echo", version,
		attribute.String("rendezvous.pubkey", rzvconfig.EncodePublicKey(pk)))
	if err != nil {
		log.Printf("WARNING: telemetry init failed: %v", err)
	} else {
		defer shutdown(context.Background())
	}

	srv := echoquery.NewServer(sk, nil)
	ctx := context.Background()

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("[EchoQuery] listen tcp: %v", err)
		}
		go func() {
			if err := srv.ServeTCP(ctx, ln.(*net.TCPListener)); err != nil {
				log.Printf("[EchoQuery] serve tcp: %v", err)
			}
		}()
		log.Printf("[EchoQuery] serving TCP on %s", ln.Addr())
	}
	if *udpAddr != "" {
		udp, err := net.ResolveUDPAddr("udp", *udpAddr)
		if err != nil {
			log.Fatalf("[EchoQuery] resolve udp addr: %v", err)
		}
		conn, err := net.ListenUDP("udp", udp)
		if err != nil {
			log.Fatalf("[EchoQuery] listen udp: %v", err)
		}
		go func() {
			if err := srv.ServeUDP(ctx, conn); err != nil {
				log.Printf("[EchoQuery] serve udp: %v", err)
			}
		}()
		log.Printf("[EchoQuery] serving UDP on %s", conn.LocalAddr())
	}

	select {}
}

func probeCmd(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	tcpServers := fs.String("tcp-servers", "", "comma-separated or rzv:// TCP echo-query server pool")
	udpServers := fs.String("udp-servers", "", "comma-separated or rzv:// UDP echo-query server pool")
	fs.Parse(args)

	tcpPool, err := rzvconfig.ParseServerPool(*tcpServers)
	if err != nil {
		log.Fatalf("[Rendezvous] bad -tcp-servers: %v", err)
	}
	udpPool, err := rzvconfig.ParseServerPool(*udpServers)
	if err != nil {
		log.Fatalf("[Rendezvous] bad -udp-servers: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(udpPool) > 0 {
		result, err := rendezvousaddr.ResolveUDP(ctx, udpPool, &net.UDPAddr{})
		if err != nil {
			log.Printf("[Rendezvous] UDP probe failed: %v", err)
		} else {
			fmt.Printf("udp addr=%s nat=%s\n", result.Addr, result.NatType)
		}
	}
	if len(tcpPool) > 0 {
		result, err := rendezvousaddr.ResolveTCP(ctx, tcpPool, &net.TCPAddr{})
		if err != nil {
			log.Printf("[Rendezvous] TCP probe failed: %v", err)
		} else {
			fmt.Printf("tcp addr=%s nat=%s\n", result.Addr, result.NatType)
		}
	}
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socketPath := fs.String("rpc-socket", rpc.GetSocketPath(), "Unix socket of a running rzvserver")
	fs.Parse(args)

	client, err := rpc.NewClient(*socketPath)
	if err != nil {
		log.Fatalf("[RPC] connect to %s: %v", rpc.FormatSocketPath(*socketPath), err)
	}
	defer client.Close()

	status, err := client.ServerStatus()
	if err != nil {
		log.Fatalf("[RPC] server.status: %v", err)
	}

	fmt.Printf("pubkey: %s\n", status.PublicKey)
	fmt.Printf("version: %s\n", status.Version)
	fmt.Printf("uptime: %s\n", status.Uptime)
	fmt.Printf("tcp served=%d rejected=%d\n", status.TCPServed, status.TCPRejected)
	fmt.Printf("udp served=%d rejected=%d\n", status.UDPServed, status.UDPRejected)
}

