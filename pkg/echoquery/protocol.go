// Package echoquery implements the echo-query protocol against a
// rendezvous server: "what external address do you see for me?" It
// provides both the querying client (TCP and UDP) and the server
// counterpart, authenticated and encrypted with boxcrypto.
package echoquery

import (
	"fmt"
	"time"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
)

// Default timing constants, settable at build time per spec (not per call).
const (
	QueryTimeout       = 3 * time.Second
	RetransmitInterval = 500 * time.Millisecond
)

// RemoteServer is an immutable descriptor of a known rendezvous server,
// constructed at configuration time and referenced read-only by queries.
type RemoteServer struct {
	Addr   string // host:port
	PubKey boxcrypto.PublicKey
}

// request is the one-shot EchoRequest message, always sealed to the
// server's public key before transmission.
type request struct {
	ClientPK boxcrypto.PublicKey
}

func encodeRequest(r request) []byte {
	return r.ClientPK.Bytes()
}

func decodeRequest(buf []byte) (request, error) {
	if len(buf) != boxcrypto.PublicKeySize {
		return request{}, &DeserializeError{Err: fmt.Errorf("expected %d bytes, got %d", boxcrypto.PublicKeySize, len(buf))}
	}
	var r request
	copy(r.ClientPK[:], buf)
	return r, nil
}
