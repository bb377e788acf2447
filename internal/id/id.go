// Package id provides ID generators.
package id

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// UUID creates UUIDv7 strings, which sort by creation time.
type UUID struct{}

// NewUUID returns a UUIDv7 generator.
func NewUUID() UUID {
	return UUID{}
}

// NewID returns a UUIDv7 string.
func (UUID) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// Sequence yields predictable IDs of the form "<prefix>-<n>". Used by tests and
// tooling that need stable output.
type Sequence struct {
	prefix string
	next   atomic.Int64
}

// NewSequence returns a Sequence starting at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next ID in the sequence.
func (s *Sequence) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", s.prefix, s.next.Add(1)), nil
}
