package main

import (
	"context"
	"net"

	"github.com/povilasb/rendezvous/pkg/framing"
)

// tcpChannel adapts a plain net.Conn to signalling.Channel using the same
// length-prefixed framing pkg/rendezvous uses on established streams. It is
// the CLI's own signalling transport; pkg/signalling treats the transport
// as an external collaborator and never imports this package.
type tcpChannel struct {
	conn net.Conn
}

func (c *tcpChannel) Send(ctx context.Context, frame []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	return framing.WriteFrame(c.conn, frame)
}

func (c *tcpChannel) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	}
	return framing.ReadFrame(c.conn)
}

func (c *tcpChannel) Close() error {
	return c.conn.Close()
}

// dialSignallingChannel connects to a peer or meeting-point address already
// listening for the signalling handshake.
func dialSignallingChannel(addr string) (*tcpChannel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpChannel{conn: conn}, nil
}

// listenSignallingChannel accepts exactly one connection on addr and
// returns a channel wrapping it; used by the listening side of a manual
// two-peer connect.
func listenSignallingChannel(addr string) (*tcpChannel, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpChannel{conn: conn}, nil
}
