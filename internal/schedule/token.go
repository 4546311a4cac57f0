package schedule

import (
	"fmt"

	"github.com/google/uuid"
)

// TokenGenerator produces run tokens. Tokens correlate a linearization
// run across logs, store records and traces; they carry no semantics.
type TokenGenerator interface {
	NewToken() string
}

// UUIDv7Generator issues time-ordered UUIDs, so tokens sort by creation
// time in store listings.
type UUIDv7Generator struct{}

// NewToken returns a fresh UUIDv7 string.
func (UUIDv7Generator) NewToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator issues a deterministic token sequence for tests.
type FixedGenerator struct {
	Prefix string
	n      int
}

// NewToken returns the next token in the fixed sequence.
func (g *FixedGenerator) NewToken() string {
	g.n++
	return fmt.Sprintf("%s-%04d", g.Prefix, g.n)
}
