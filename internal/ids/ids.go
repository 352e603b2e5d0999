// Package ids provides identifier and timestamp generation shared across
// warder's components.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewTaskID returns a new task/conflict identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// ValidUUID reports whether s parses as a UUID.
func ValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewWorkerToken returns a short, printable, random worker identifier
// candidate. Callers still validate uniqueness against the live worker
// table before use; this only generates a plausible token when the
// caller didn't supply one explicitly.
func NewWorkerToken() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return "w-" + string(out)
}

// NewMessageID returns a random identifier for one coordination message,
// distinct from task/worker IDs so log correlation never collides across
// ID spaces.
func NewMessageID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Clock abstracts time access so the Task Coordinator's scheduler can be
// driven deterministically under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// MonotonicCounter hands out strictly increasing sequence numbers, used
// to break enqueue-order ties without relying on wall-clock resolution.
type MonotonicCounter struct {
	next uint64
}

// Next returns the next sequence number, starting at 0.
func (c *MonotonicCounter) Next() uint64 {
	n := c.next
	c.next++
	return n
}
