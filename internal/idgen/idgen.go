// Package idgen generates identifiers for scan records and sessions.
//
// Record ids are UUIDv7 so they sort by capture time. Session ids are short
// nanoid tokens meant for logs and operator display.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Generator produces unique string identifiers.
// Implemented by UUIDv7 (production), Fixed and Sequence (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 record ids.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a hyphenated UUIDv7 string.
// Panics if the system random source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SessionPrefix is prepended to every session id.
var SessionPrefix = "ss-"

// Alphabet is the character set for the random part of a session id.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SessionLength is the number of random characters in a session id.
var SessionLength = 10

// NewSessionID returns a fresh session id such as "ss-4fJx0QpLk2".
func NewSessionID() (string, error) {
	id, err := nanoid.Generate(Alphabet, SessionLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return SessionPrefix + id, nil
}

// Session adapts NewSessionID to the Generator interface.
type Session struct{}

// Generate returns a session id. Panics if the random source fails.
func (Session) Generate() string {
	id, err := NewSessionID()
	if err != nil {
		panic(err)
	}
	return id
}

// Fixed returns predetermined ids in order.
//
// Panics once all ids are consumed, which surfaces a test that created more
// records than it declared.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// Generate returns the next predetermined id.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("idgen.Fixed: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence returns prefix-1, prefix-2, ... without limit.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a sequential generator. An empty prefix means "id".
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "id"
	}
	return &Sequence{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *Sequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
