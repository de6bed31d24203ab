package rendezvous

import (
	"net"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/framing"
)

// chooseToken is the fixed unit value authenticated-encrypted on the
// established stream to finalise exactly one candidate. Its plaintext
// carries no information beyond "this ciphertext decrypted", so a fixed
// one-byte payload is enough.
var chooseToken = []byte{0x01}

// chooseConnection consumes candidates in completion order and finalises
// exactly one. If ourPK > theirPK, this side sends the choose token on
// every emitted stream and keeps the first one the write succeeds on. The
// other side reads one frame per stream and keeps the first one that
// decrypts as chooseToken, discarding the rest. Unchosen streams are
// closed.
func chooseConnection(candidates <-chan candidate, ourSK boxcrypto.SecretKey, ourPK, theirPK boxcrypto.PublicKey) (net.Conn, error) {
	shared := boxcrypto.Shared(ourSK, theirPK)
	weSend := ourPK.Greater(theirPK)

	var attempts []*SingleAttemptError
	var winner net.Conn

	for c := range candidates {
		if c.err != nil {
			attempts = append(attempts, c.err)
			continue
		}

		if winner != nil {
			c.conn.Close()
			continue
		}

		var attemptErr *SingleAttemptError
		if weSend {
			attemptErr = sendChoose(c.conn, shared)
		} else {
			attemptErr = recvChoose(c.conn, shared)
		}

		if attemptErr != nil {
			attempts = append(attempts, attemptErr)
			c.conn.Close()
			continue
		}

		winner = c.conn
	}

	if winner == nil {
		return nil, &AllAttemptsFailedError{Attempts: attempts}
	}
	return winner, nil
}

func sendChoose(conn net.Conn, shared boxcrypto.SharedSecret) *SingleAttemptError {
	sealed, err := shared.Encrypt(chooseToken)
	if err != nil {
		return &SingleAttemptError{Kind: KindEncrypt, Err: err}
	}
	if err := framing.WriteFrame(conn, sealed); err != nil {
		return &SingleAttemptError{Kind: KindWrite, Err: err}
	}
	return nil
}

func recvChoose(conn net.Conn, shared boxcrypto.SharedSecret) *SingleAttemptError {
	frame, err := framing.ReadFrame(conn)
	if err != nil {
		return &SingleAttemptError{Kind: KindRead, Err: err}
	}
	plaintext, err := shared.Decrypt(frame)
	if err != nil {
		return &SingleAttemptError{Kind: KindDecrypt, Err: err}
	}
	if len(plaintext) != len(chooseToken) || plaintext[0] != chooseToken[0] {
		return &SingleAttemptError{Kind: KindDecrypt, Err: errBadChooseToken}
	}
	return nil
}

var errBadChooseToken = chooseTokenMismatch{}

type chooseTokenMismatch struct{}

func (chooseTokenMismatch) Error() string { return "unexpected choose token payload" }
