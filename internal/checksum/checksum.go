// Package checksum computes content digests used for change detection,
// optimistic concurrency on tab buffers and render cache keys.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for string input.
func String(s string) string {
	return Sum([]byte(s))
}

// ETag quotes a digest for use in an HTTP ETag header.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// FromETag strips the quotes and an optional weak prefix from an ETag or
// If-Match value.
func FromETag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}
