// Package identity derives the deterministic identifiers the whole pipeline
// hangs idempotency on. Every function here is pure: identical input always
// produces identical output, so re-ingesting the same export converges on the
// same stored state instead of duplicating it.
package identity

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// TextPrefixLen bounds how much of a message body participates in its id.
// Two messages with the same timestamp, author, and first TextPrefixLen
// characters collapse to one record — an accepted precision trade-off, not
// a defect. Changing this changes collision behavior, not correctness.
const TextPrefixLen = 50

// GroupID returns a deterministic id for a group display name.
// SHA-1 is deliberate: the narrow digest is fine for a human-facing grouping
// key, and it matches ids already in production.
func GroupID(groupName string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(groupName)))
	return hex.EncodeToString(sum[:])
}

// MessageID returns a deterministic id for a logical message.
// The input string layout (ISO timestamp, author, truncated text joined by
// dashes) must never change: stored ids depend on it.
func MessageID(ts time.Time, author, text string) string {
	preview := truncate(text, TextPrefixLen)
	unique := fmt.Sprintf("%s-%s-%s", ts.UTC().Format(time.RFC3339), author, preview)
	sum := sha256.Sum256([]byte(unique))
	return hex.EncodeToString(sum[:])
}

// ContentHash streams r through SHA-256 and returns the hex digest. Used as
// the content address for media bytes.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// truncate cuts s to at most n runes. Rune-based so multi-byte text doesn't
// get split mid-character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
