// Package notehash computes content digests used for deduplication and
// change detection. Digests are a pure function of plaintext bytes,
// independent of path or title, so identical content anywhere in the
// workspace hashes to the same value.
package notehash

import (
	"crypto/sha256"
	"encoding/hex"
)

// EmptyHash is the digest of zero-length content. It is a reserved
// sentinel: the engine never uses it for identity matching, because every
// empty file shares this digest and unrelated blank notes would otherwise
// collapse into one. Kept as a literal constant so tests can assert the
// exact value instead of re-deriving it at each call site.
const EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Sum returns the hex-encoded SHA-256 digest of content.
func Sum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// IsEmpty reports whether digest is the reserved empty-content sentinel.
func IsEmpty(digest string) bool {
	return digest == EmptyHash
}
