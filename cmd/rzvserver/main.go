// rzvserver is a standalone rendezvous server: the counterpart half of the
// echo-query protocol (spec component H), run as its own daemon so a pool
// of them can be configured into clients' tcp_servers/udp_servers lists.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
	"github.com/povilasb/rendezvous/pkg/ratelimit"
	"github.com/povilasb/rendezvous/pkg/rpc"
	"github.com/povilasb/rendezvous/pkg/rzvconfig"
	"github.com/povilasb/rendezvous/pkg/telemetry"
)

var version = "dev"

func main() {
	tcpAddr := flag.String("tcp-addr", ":9001", "TCP listen address (empty to disable)")
	udpAddr := flag.String("udp-addr", ":9001", "UDP listen address (empty to disable)")
	secretKeyB64 := flag.String("secret-key", "", "base64url secret key (random if empty)")
	rateLimitRPS := flag.Float64("rate-limit-rps", 5, "per-source-IP rate limit, requests per second")
	rateLimitBurst := flag.Int("rate-limit-burst", 10, "per-source-IP rate limit burst size")
	rpcSocket := flag.String("rpc-socket", rpc.GetSocketPath(), "Unix socket for status introspection (empty to disable)")
	flag.Parse()

	sk, err := loadOrGenerateKey(*secretKeyB64)
	if err != nil {
		log.Fatalf("[EchoQuery] %v", err)
	}
	pk, err := boxcrypto.DerivePublicKey(sk)
	if err != nil {
		log.Fatalf("[EchoQuery] %v", err)
	}
	pkEncoded := rzvconfig.EncodePublicKey(pk)
	log.Printf("[EchoQuery] server public key: %s", pkEncoded)

	otelShutdown := func(context.Context) {}
	if fn, err := telemetry.Init(context.Background(), "rzvserver", version, attribute.String("rendezvous.pubkey", pkEncoded)); err != nil {
		log.Printf("WARNING: telemetry init failed: %v — telemetry disabled", err)
	} else {
		otelShutdown = fn
	}

	limiter := ratelimit.New(*rateLimitRPS, float64(*rateLimitBurst), 4096)
	srv := echoquery.NewServer(sk, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rpcSrv *rpc.Server
	if *rpcSocket != "" {
		rpcSrv, err = rpc.NewServer(rpc.ServerConfig{
			SocketPath: *rpcSocket,
			Version:    version,
			GetStatus: func() *rpc.StatusData {
				stats := srv.Stats()
				return &rpc.StatusData{
					PublicKey:   pkEncoded,
					Uptime:      stats.Uptime,
					TCPServed:   stats.TCPServed,
					UDPServed:   stats.UDPServed,
					TCPRejected: stats.TCPRejected,
					UDPRejected: stats.UDPRejected,
				}
			},
		})
		if err != nil {
			log.Fatalf("[RPC] create server: %v", err)
		}
		if err := rpcSrv.Start(); err != nil {
			log.Fatalf("[RPC] start server: %v", err)
		}
	}

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("[EchoQuery] listen tcp: %v", err)
		}
		go func() {
			if err := srv.ServeTCP(ctx, ln.(*net.TCPListener)); err != nil && !errors.Is(err, net.ErrClosed) {
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
			if err := srv.ServeUDP(ctx, conn); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("[EchoQuery] serve udp: %v", err)
			}
		}()
		log.Printf("[EchoQuery] serving UDP on %s", conn.LocalAddr())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Println("shutdown: stopping listeners...")
	cancel()
	if rpcSrv != nil {
		if err := rpcSrv.Stop(); err != nil {
			log.Printf("[RPC] stop: %v", err)
		}
	}

	log.Println("shutdown: draining telemetry...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	otelShutdown(shutdownCtx)

	log.Println("shutdown: complete")
}

func loadOrGenerateKey(encoded string) (boxcrypto.SecretKey, error) {
	if encoded == "" {
		_, sk, err := boxcrypto.GenerateKeypair()
		return sk, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return boxcrypto.SecretKey{}, fmt.Errorf("decode -secret-key: %w", err)
	}
	if len(raw) != boxcrypto.SecretKeySize {
		return boxcrypto.SecretKey{}, fmt.Errorf("-secret-key must decode to %d bytes, got %d", boxcrypto.SecretKeySize, len(raw))
	}
	var sk boxcrypto.SecretKey
	copy(sk[:], raw)
	return sk, nil
}
