// Package idgen provides cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// WithPrefix generates a random ID with a prefix (e.g. "risk_", "sess_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	return hex.EncodeToString(randomBytes(numBytes))
}

// ThreatID returns "threat-<unix ms>-<9 base36 chars>".
func ThreatID(now time.Time) string {
	b := randomBytes(9)
	suffix := make([]byte, len(b))
	for i, v := range b {
		suffix[i] = base36[int(v)%len(base36)]
	}
	return "threat-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

// TxHash returns a random 0x-prefixed 32-byte hash.
func TxHash() string {
	return "0x" + Hex(32)
}

// Address returns a random 0x-prefixed 20-byte address.
func Address() string {
	return "0x" + Hex(20)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}
