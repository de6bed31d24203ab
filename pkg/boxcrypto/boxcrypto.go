// Package boxcrypto provides the asymmetric and shared-secret primitives
// used throughout the rendezvous protocol: ephemeral keypair generation,
// sealed-box anonymous encryption to a known public key, and authenticated
// symmetric encryption under a secret shared between two peers.
//
// Keys are curve25519 (golang.org/x/crypto/nacl/box); the raw ECDH output is
// refined through HKDF-SHA256 before use, the same domain-separation idiom
// wgmesh uses to turn one shared secret into several independent keys.
package boxcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize is the size in bytes of a PublicKey.
	PublicKeySize = 32
	// SecretKeySize is the size in bytes of a SecretKey.
	SecretKeySize = 32
	// SharedSecretSize is the size in bytes of a SharedSecret.
	SharedSecretSize = 32

	nonceSize = 24

	hkdfInfoSharedSecret = "rendezvous-shared-secret-v1"
)

// PublicKey is a curve25519 public encryption key.
type PublicKey [PublicKeySize]byte

// SecretKey is a curve25519 secret encryption key.
type SecretKey [SecretKeySize]byte

// SharedSecret is a symmetric key derived from one party's SecretKey and the
// other's PublicKey. Identical on both sides by construction.
type SharedSecret [SharedSecretSize]byte

// Bytes returns the canonical big-endian byte serialisation of the key, used
// both on the wire and for the choose-protocol tiebreak compare.
func (p PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, p[:])
	return b
}

// Greater reports whether p sorts after other under a big-endian byte
// compare of the canonical key serialisation. Exactly one of p.Greater(other)
// and other.Greater(p) holds for any two distinct keys.
func (p PublicKey) Greater(other PublicKey) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] > other[i]
		}
	}
	return false
}

// GenerateKeypair creates a new ephemeral curve25519 keypair.
func GenerateKeypair() (PublicKey, SecretKey, error) {
	pk, sk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, SecretKey{}, fmt.Errorf("generate keypair: %w", err)
	}
	return PublicKey(*pk), SecretKey(*sk), nil
}

// DerivePublicKey computes the public key corresponding to sk, for callers
// that persist only a secret key (e.g. a rendezvous server's configured
// identity) and need to reconstruct or display the matching public key.
func DerivePublicKey(sk SecretKey) (PublicKey, error) {
	raw, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("derive public key: %w", err)
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// Shared derives the symmetric secret shared between sk and pk. The result
// is identical whichever side computes it, i.e.
// Shared(skA, pkB) == Shared(skB, pkA) for a keypair pair (skA, pkA), (skB, pkB).
func Shared(sk SecretKey, pk PublicKey) SharedSecret {
	skArr := [SecretKeySize]byte(sk)
	pkArr := [PublicKeySize]byte(pk)
	var raw [32]byte
	box.Precompute(&raw, &pkArr, &skArr)
	return refine(raw)
}

// refine passes the raw ECDH output through HKDF-SHA256 with a fixed info
// string so the symmetric key actually used for encryption is never the bare
// Diffie-Hellman output.
func refine(raw [32]byte) SharedSecret {
	reader := hkdf.New(sha256.New, raw[:], nil, []byte(hkdfInfoSharedSecret))
	var out SharedSecret
	_, _ = io.ReadFull(reader, out[:])
	return out
}

// EncryptError is returned when encryption of an outgoing message fails.
type EncryptError struct {
	Err error
}

func (e *EncryptError) Error() string { return fmt.Sprintf("encrypt: %v", e.Err) }
func (e *EncryptError) Unwrap() error { return e.Err }

// DecryptError is returned when decryption of an incoming message fails,
// e.g. because it was tampered with or encrypted under the wrong key. It is
// never reused to describe an encryption-side failure.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string { return fmt.Sprintf("decrypt: %v", e.Err) }
func (e *DecryptError) Unwrap() error { return e.Err }

// SealAnonymous performs sealed-box anonymous encryption of plaintext to the
// recipient's public key: the sender generates a throwaway keypair, encrypts
// under it, and prepends its ephemeral public key so the recipient can still
// derive the shared secret. The sender's long-term identity, if any, is not
// revealed by this operation.
func SealAnonymous(recipient PublicKey, plaintext []byte) ([]byte, error) {
	ephPub, ephSec, err := GenerateKeypair()
	if err != nil {
		return nil, &EncryptError{Err: err}
	}
	shared := Shared(ephSec, recipient)
	sealed, err := shared.Encrypt(plaintext)
	if err != nil {
		return nil, &EncryptError{Err: err}
	}
	out := make([]byte, 0, PublicKeySize+len(sealed))
	out = append(out, ephPub[:]...)
	out = append(out, sealed...)
	return out, nil
}

// OpenAnonymous reverses SealAnonymous: it reads the sender's ephemeral
// public key from the prefix, derives the shared secret with own SecretKey,
// and decrypts the remainder.
func OpenAnonymous(own SecretKey, sealed []byte) ([]byte, error) {
	if len(sealed) < PublicKeySize {
		return nil, &DecryptError{Err: fmt.Errorf("sealed message too short: %d bytes", len(sealed))}
	}
	var ephPub PublicKey
	copy(ephPub[:], sealed[:PublicKeySize])
	shared := Shared(own, ephPub)
	plaintext, err := shared.Decrypt(sealed[PublicKeySize:])
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Encrypt performs authenticated symmetric encryption of plaintext under the
// shared secret, returning nonce||ciphertext.
func (s SharedSecret) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, &EncryptError{Err: fmt.Errorf("generate nonce: %w", err)}
	}
	key := [32]byte(s)
	out := box.SealAfterPrecomputation(nonce[:], plaintext, &nonce, &key)
	return out, nil
}

// Decrypt reverses Encrypt. It fails if the ciphertext was tampered with or
// encrypted under a different shared secret.
func (s SharedSecret) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, &DecryptError{Err: fmt.Errorf("ciphertext too short: %d bytes", len(sealed))}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	key := [32]byte(s)
	plaintext, ok := box.OpenAfterPrecomputation(nil, sealed[nonceSize:], &nonce, &key)
	if !ok {
		return nil, &DecryptError{Err: fmt.Errorf("authentication failed")}
	}
	return plaintext, nil
}
