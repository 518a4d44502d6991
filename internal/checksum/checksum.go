// Package checksum detects content changes by SHA-256 digest.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Tracker remembers the digest of the last content it accepted.
type Tracker struct {
	mu   sync.Mutex
	last string
}

// Seed records data as already seen without reporting a change.
func (t *Tracker) Seed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = Sum(data)
}

// Changed reports whether data differs from the last accepted content.
// It does not accept data; call Accept once the new content is applied.
func (t *Tracker) Changed(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Sum(data) != t.last
}

// Accept records data as the current content.
func (t *Tracker) Accept(data []byte) {
	t.Seed(data)
}
