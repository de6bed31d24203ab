package rendezvous

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/povilasb/rendezvous/pkg/reuseport"
)

// candidate is either a successfully opened stream or a failed attempt.
// Errors from individual attempts are carried interleaved with successes
// but never abort the sequence.
type candidate struct {
	conn net.Conn
	err  *SingleAttemptError
}

// DefaultCandidateWindow bounds how long the simultaneous-open engine
// keeps accepting inbound connections and waiting on the outbound dial.
const DefaultCandidateWindow = 10 * time.Second

// raceTCPCandidates merges the outbound connect's result (a single-element
// sequence or an error) with everything the listener accepts into one
// unordered stream, truncated at window. When window elapses the listener
// is closed; streams already emitted are passed on unaffected.
//
// extraLocalAddrs (SPEC_FULL §4.A+, off by default) adds one extra outbound
// dial per address, each bound to that specific local endpoint instead of
// bindAddr — interface-derived candidates for hosts with more than one
// route to the peer.
func raceTCPCandidates(ctx context.Context, listener *net.TCPListener, bindAddr, remoteAddr *net.TCPAddr, window time.Duration, extraLocalAddrs ...*net.TCPAddr) <-chan candidate {
	out := make(chan candidate)
	ctx, cancel := context.WithTimeout(ctx, window)

	var wg sync.WaitGroup
	wg.Add(2 + len(extraLocalAddrs))

	dial := func(local *net.TCPAddr) {
		defer wg.Done()
		conn, err := reuseport.DialTCPReusable(ctx, local, remoteAddr)
		if err != nil {
			out <- candidate{err: &SingleAttemptError{Kind: KindConnect, Err: err}}
			return
		}
		out <- candidate{conn: conn}
	}

	go dial(bindAddr)
	for _, extra := range extraLocalAddrs {
		go dial(extra)
	}

	go func() {
		defer wg.Done()
		defer listener.Close()
		go func() {
			<-ctx.Done()
			listener.Close()
		}()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				out <- candidate{err: &SingleAttemptError{Kind: KindAccept, Err: err}}
				return
			}
			out <- candidate{conn: conn}
		}
	}()

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()

	return out
}
