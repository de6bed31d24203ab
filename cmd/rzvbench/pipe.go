package main

import "context"

// pipeChannel is an in-memory signalling.Channel backed by unbuffered Go
// channels, standing in for a real signalling transport so this benchmark
// never touches the network for anything but the rendezvous attempt itself.
type pipeChannel struct {
	out    chan []byte
	in     <-chan []byte
	closed chan struct{}
}

func newPipeChannel() (*pipeChannel, *pipeChannel) {
	a := make(chan []byte)
	b := make(chan []byte)
	return &pipeChannel{out: a, in: b, closed: make(chan struct{})},
		&pipeChannel{out: b, in: a, closed: make(chan struct{})}
}

func (p *pipeChannel) Send(ctx context.Context, frame []byte) error {
	select {
	case p.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, nil
	}
}

func (p *pipeChannel) Close() error {
	close(p.closed)
	return nil
}
