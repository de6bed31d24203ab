// Package reuseport binds TCP and UDP sockets with address- and
// port-reuse semantics enabled, so the same local endpoint can back a
// passive listener and one or more concurrent outbound connects at once —
// the basis of TCP simultaneous open. Grounded in the control-function
// pattern wgmesh uses to bind to a specific interface
// (net.ListenConfig.Control / net.Dialer.Control), generalised here to set
// SO_REUSEADDR and, where the OS offers it, SO_REUSEPORT.
package reuseport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// BindError is returned when local socket creation fails.
type BindError struct {
	Op   string
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("reuseport: %s %s: %v", e.Op, e.Addr, e.Err)
}
func (e *BindError) Unwrap() error { return e.Err }

func control(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		// SO_REUSEPORT is not available on every platform (notably
		// Windows); a bind without it still succeeds, but two sockets on
		// the identical (addr, port) may then fail to coexist. Per spec,
		// that failure is surfaced later as a per-candidate error, not a
		// fatal one, so it is intentionally ignored here.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// ListenTCPReusable binds a TCP listener to local with address/port reuse.
func ListenTCPReusable(ctx context.Context, local *net.TCPAddr) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(ctx, "tcp", local.String())
	if err != nil {
		return nil, &BindError{Op: "listen", Addr: local.String(), Err: err}
	}
	return ln.(*net.TCPListener), nil
}

// DialTCPReusable connects to remote from a reusably-bound socket at local,
// so the same local endpoint can be shared with a listener bound by
// ListenTCPReusable.
func DialTCPReusable(ctx context.Context, local, remote *net.TCPAddr) (*net.TCPConn, error) {
	d := net.Dialer{Control: control, LocalAddr: local}
	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, &BindError{Op: "dial", Addr: remote.String(), Err: err}
	}
	return conn.(*net.TCPConn), nil
}

// ListenUDPReusable binds a UDP socket to local with address/port reuse.
func ListenUDPReusable(ctx context.Context, local *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: control}
	conn, err := lc.ListenPacket(ctx, "udp", local.String())
	if err != nil {
		return nil, &BindError{Op: "listen", Addr: local.String(), Err: err}
	}
	return conn.(*net.UDPConn), nil
}

// DialUDPReusable binds a reusable UDP socket at local and filters it to
// remote, the UDP analogue of a connected TCP socket: only datagrams from
// remote are delivered, and writes default to remote.
func DialUDPReusable(ctx context.Context, local, remote *net.UDPAddr) (*net.UDPConn, error) {
	d := net.Dialer{Control: control, LocalAddr: local}
	conn, err := d.DialContext(ctx, "udp", remote.String())
	if err != nil {
		return nil, &BindError{Op: "dial", Addr: remote.String(), Err: err}
	}
	return conn.(*net.UDPConn), nil
}
