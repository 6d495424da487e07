// Package listen implements the listener multiplexor: one
// accept loop over every configured endpoint, protocol detection, and
// dispatch to a per-protocol handler task.
package listen

import (
	"github.com/dreamware/searchd/internal/config"
)

// peekLen is how many leading bytes DetectProtocol needs to have seen.
const peekLen = 4

// DetectProtocol classifies a connection's protocol from its first few
// bytes, for endpoints configured without an explicit ":protocol" tag.
//
// The legacy binary protocol opens with a 4-byte big-endian handshake
// version; the mysql-wire protocol opens with a 3-byte little-endian
// packet length followed by a sequence-id byte whose value is always 0 on
// a client's first packet; anything starting with an HTTP request method
// is the admin protocol. Replication connections always declare their
// protocol explicitly, so DetectProtocol never returns
// ProtocolReplication.
func DetectProtocol(peek []byte) config.Protocol {
	if len(peek) < peekLen {
		return config.ProtocolLegacyBinary
	}
	if looksLikeHTTP(peek) {
		return config.ProtocolHTTP
	}
	if looksLikeMySQLWire(peek) {
		return config.ProtocolMySQLWire
	}
	return config.ProtocolLegacyBinary
}

var httpMethodPrefixes = [][]byte{
	[]byte("GET "), []byte("POST"), []byte("PUT "), []byte("HEAD"),
	[]byte("DELE"), []byte("OPTI"), []byte("PATC"),
}

func looksLikeHTTP(peek []byte) bool {
	for _, p := range httpMethodPrefixes {
		if len(peek) >= len(p) && string(peek[:len(p)]) == string(p) {
			return true
		}
	}
	return false
}

// looksLikeMySQLWire checks the three-byte little-endian length prefix
// against a plausible handshake-packet size and requires the fourth byte
// (sequence id) to be zero, which the legacy binary protocol's big-endian
// version field essentially never produces by chance for the version
// numbers this daemon supports.
func looksLikeMySQLWire(peek []byte) bool {
	length := int(peek[0]) | int(peek[1])<<8 | int(peek[2])<<16
	seq := peek[3]
	return seq == 0 && length > 0 && length < 1<<20
}
