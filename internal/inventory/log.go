// Package inventory implements the append-only scan log.
//
// The log keeps its records in memory and persists the whole snapshot under
// one key on every change. Writes are persist-then-confirm: the store must
// accept the new snapshot before the in-memory log changes, so after every
// completed Append or Clear memory and store agree.
//
// Append is a read-modify-write through kv.Store.Update: the new record is
// added to whatever snapshot the store holds at that moment, not to the
// in-memory copy. Records written by another process sharing the store, or a
// clear run against it, are therefore kept (or stay cleared), and a log that
// failed to read the store at Load never overwrites records it did not see.
//
// The snapshot is a JSON array ordered newest-first. Memory keeps the reverse
// order.
package inventory

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/stockscan/internal/fault"
	"github.com/roach88/stockscan/internal/kv"
)

// Key is the store key holding the inventory snapshot.
const Key = "inventory"

// Log is the inventory of scanned records.
//
// Thread-safety: all methods are safe for concurrent use. In the running
// station the router's Run loop is the only caller of Append and Clear.
type Log struct {
	store kv.Store

	mu      sync.RWMutex
	records []ScanRecord // oldest-first
	ids     map[string]struct{}
	loadErr error

	// persisted is the snapshot text records was built from, or "" when
	// memory is not known to match the store.
	persisted string
}

// New creates an empty log over store. Call Load to read the persisted snapshot.
func New(store kv.Store) *Log {
	return &Log{
		store: store,
		ids:   make(map[string]struct{}),
	}
}

// Load replaces the in-memory log with the persisted snapshot.
//
// A missing snapshot yields an empty log. An unreadable or malformed snapshot
// also yields an empty log; the failure is logged as PERSISTENCE_READ and
// kept for LoadError, never returned. After a read failure the stored records
// are still there: the next Append reads them again and keeps them.
func (l *Log) Load(ctx context.Context) int {
	raw, ok, err := l.store.Get(ctx, Key)
	if err != nil {
		l.resetAfterLoadFailure(fault.Wrap(fault.CodePersistenceRead, "load", err))
		return 0
	}

	var records []ScanRecord
	if ok {
		records, err = decodeSnapshot(raw)
		if err != nil {
			l.resetAfterLoadFailure(fault.Wrap(fault.CodePersistenceRead, "load", err))
			return 0
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.commit(records, raw)
	l.loadErr = nil

	slog.Debug("inventory loaded", "records", len(records))
	return len(records)
}

func (l *Log) resetAfterLoadFailure(err error) {
	slog.Warn("inventory snapshot unreadable, starting empty", "code", fault.CodePersistenceRead, "error", err)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commit(nil, "")
	l.loadErr = err
}

// commit replaces memory with records, which were decoded from or encoded as
// snapshot. Callers hold l.mu.
func (l *Log) commit(records []ScanRecord, snapshot string) {
	l.records = records
	l.ids = make(map[string]struct{}, len(records))
	for _, r := range records {
		l.ids[r.ID] = struct{}{}
	}
	l.persisted = snapshot
}

// stored returns the records of the snapshot the store currently holds, and
// whether they are the in-memory records. A malformed snapshot counts as
// empty, the same way Load treats it.
func (l *Log) stored(current string, ok bool) ([]ScanRecord, bool) {
	if !ok {
		return nil, len(l.records) == 0
	}
	if current == l.persisted {
		return l.records[:len(l.records):len(l.records)], true
	}
	records, err := decodeSnapshot(current)
	if err != nil {
		slog.Warn("stored inventory snapshot malformed, replacing it", "code", fault.CodePersistenceRead, "error", err)
		return nil, false
	}
	return records, false
}

// LoadError returns the PERSISTENCE_READ fault of the last Load, if any.
func (l *Log) LoadError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr
}

// Append persists the stored snapshot with rec at the front, then commits
// that snapshot to memory. On a persistence failure, including a failure to
// read the current snapshot, the log and the store are unchanged and the
// error is returned.
func (l *Log) Append(ctx context.Context, rec ScanRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.ids[rec.ID]; dup {
		return ErrDuplicateID
	}

	var (
		merged   []ScanRecord
		snapshot string
		inMemory bool
	)
	err := l.store.Update(ctx, Key, func(current string, ok bool) (string, error) {
		records, same := l.stored(current, ok)
		if !same && slices.ContainsFunc(records, func(r ScanRecord) bool { return r.ID == rec.ID }) {
			return "", ErrDuplicateID
		}
		s, err := encodeSnapshot(records, &rec)
		if err != nil {
			return "", err
		}
		merged, snapshot, inMemory = append(records, rec), s, same
		return s, nil
	})
	if err != nil {
		return err
	}

	if !inMemory {
		l.commit(merged, snapshot)
		return nil
	}
	l.records = merged
	l.ids[rec.ID] = struct{}{}
	l.persisted = snapshot
	return nil
}

// Clear removes the persisted snapshot, then empties memory.
// On a persistence failure the log is unchanged.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Remove(ctx, Key); err != nil {
		return err
	}
	l.commit(nil, "")
	return nil
}

// Records returns a newest-first copy of the log.
func (l *Log) Records() []ScanRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ScanRecord, len(l.records))
	for i, r := range l.records {
		out[len(l.records)-1-i] = r
	}
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Find returns the record with the given id.
func (l *Log) Find(id string) (ScanRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.ids[id]; !ok {
		return ScanRecord{}, false
	}
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].ID == id {
			return l.records[i], true
		}
	}
	return ScanRecord{}, false
}
