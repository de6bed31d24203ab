// Package rzvconfig parses rendezvous server pool configuration: comma
// separated "host:port/base64pubkey" entries (optionally wrapped in an
// rzv:// URI), plus the CLI-flag-backed Options a connect attempt runs with.
package rzvconfig

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/povilasb/rendezvous/pkg/boxcrypto"
	"github.com/povilasb/rendezvous/pkg/echoquery"
)

const (
	URIPrefix  = "rzv://"
	URIVersion = "v1"
)

// Options holds the knobs a single connect attempt runs with, populated
// from CLI flags in cmd/rzv.
type Options struct {
	TCPServers []echoquery.RemoteServer
	UDPServers []echoquery.RemoteServer

	// ProbeLocalInterfaces adds interface-derived local addresses as extra
	// candidates (pkg/ifaddrs), off by default.
	ProbeLocalInterfaces bool

	// ForceUseLocalPort makes those extra interface-derived candidates
	// dial from the same local port the primary bind_addr ended up on,
	// instead of each getting its own kernel-assigned ephemeral port —
	// for setups where only one specific local port is forwarded through
	// a firewall/NAT. Has no effect unless ProbeLocalInterfaces is set.
	ForceUseLocalPort bool
}

// ParseServerPool parses a comma-separated list of "host:port/pubkey"
// entries, each pubkey base64url-encoded, optionally prefixed with
// rzv://v1/ as a single combined URI covering the whole list.
func ParseServerPool(value string) ([]echoquery.RemoteServer, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if strings.HasPrefix(value, URIPrefix) {
		rest := strings.TrimPrefix(value, URIPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] != URIVersion {
			return nil, &badURIError{uri: value}
		}
		value = parts[1]
	}

	entries := strings.Split(value, ",")
	servers := make([]echoquery.RemoteServer, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		srv, err := parseServerEntry(entry)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

func parseServerEntry(entry string) (echoquery.RemoteServer, error) {
	idx := strings.LastIndex(entry, "/")
	if idx < 0 {
		return echoquery.RemoteServer{}, &badEntryError{entry: entry}
	}
	addr := entry[:idx]
	encodedKey := entry[idx+1:]

	pk, err := DecodePublicKey(encodedKey)
	if err != nil {
		return echoquery.RemoteServer{}, &badEntryError{entry: entry, err: err}
	}
	return echoquery.RemoteServer{Addr: addr, PubKey: pk}, nil
}

// DecodePublicKey decodes a base64url, unpadded-or-padded public key.
func DecodePublicKey(encoded string) (boxcrypto.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return boxcrypto.PublicKey{}, &badKeyEncodingError{err: err}
		}
	}
	if len(raw) != boxcrypto.PublicKeySize {
		return boxcrypto.PublicKey{}, &badKeyLengthError{got: len(raw)}
	}
	var pk boxcrypto.PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// EncodePublicKey is the inverse of DecodePublicKey, used when formatting a
// pool entry for display (e.g. a freshly started rendezvous server prints
// its own entry on startup).
func EncodePublicKey(pk boxcrypto.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pk.Bytes())
}

// FormatServerEntry renders a single "host:port/pubkey" entry.
func FormatServerEntry(addr string, pk boxcrypto.PublicKey) string {
	return addr + "/" + EncodePublicKey(pk)
}

// FormatServerPoolURI renders a full rzv://v1/... URI from a list of
// entries already produced by FormatServerEntry.
func FormatServerPoolURI(entries []string) string {
	return URIPrefix + URIVersion + "/" + strings.Join(entries, ",")
}

// ParsePort parses a decimal port number, used by CLI flag handlers that
// accept ports as strings (e.g. read from a config file).
func ParsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, &badPortError{value: value, err: err}
	}
	if port < 0 || port > 65535 {
		return 0, &badPortError{value: value}
	}
	return port, nil
}
