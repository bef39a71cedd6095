package idgen

import (
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Format(t *testing.T) {
	id := UUIDv7{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7Sortable(t *testing.T) {
	var g UUIDv7
	prev := g.Generate()
	for i := 0; i < 100; i++ {
		next := g.Generate()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestUUIDv7Concurrent(t *testing.T) {
	var g UUIDv7
	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}

func TestSessionID(t *testing.T) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(SessionPrefix) + `[a-zA-Z0-9]{10}$`)
	for i := 0; i < 50; i++ {
		id, err := NewSessionID()
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
	}
	assert.Regexp(t, pattern, Session{}.Generate())
}

func TestFixed(t *testing.T) {
	g := NewFixed("rec-a", "rec-b")

	assert.Equal(t, "rec-a", g.Generate())
	assert.Equal(t, "rec-b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestSequence(t *testing.T) {
	g := NewSequence("rec")
	assert.Equal(t, "rec-1", g.Generate())
	assert.Equal(t, "rec-2", g.Generate())

	assert.Equal(t, "id-1", NewSequence("").Generate())
}

func TestGeneratorsImplementInterface(t *testing.T) {
	var _ Generator = UUIDv7{}
	var _ Generator = Session{}
	var _ Generator = (*Fixed)(nil)
	var _ Generator = (*Sequence)(nil)
}
