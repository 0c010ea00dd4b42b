package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// StableID derives a node id from its source profile and tag.
// The same pair always yields the same id, across processes and reloads.
func StableID(profileID, tag string) string {
	sum := sha256.Sum256([]byte(profileID + "\x00" + tag))
	return hex.EncodeToString(sum[:16])
}

// ShortHash returns the first n hex characters of sha256(parts joined by ":").
func ShortHash(n int, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
