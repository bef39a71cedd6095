package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockscan.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestOpenCreatesDatabase(t *testing.T) {
	_, path := openTemp(t)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenAppliesPragmas(t *testing.T) {
	s, _ := openTemp(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockscan.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestGetSetRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	_, ok, err := s.Get(ctx, "inventory")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "inventory", `[]`))
	require.NoError(t, s.Set(ctx, "inventory", `[{"id":"r1"}]`))

	v, ok, err := s.Get(ctx, "inventory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"r1"}]`, v)

	require.NoError(t, s.Remove(ctx, "inventory"))
	require.NoError(t, s.Remove(ctx, "inventory"))

	_, ok, err = s.Get(ctx, "inventory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stockscan.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "inventory", `["x"]`))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get(ctx, "inventory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["x"]`, v)
}

func TestSetRecordsUpdateTime(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Set(ctx, "inventory", "[]"))

	var ms int64
	require.NoError(t, s.db.QueryRow(`SELECT updated_at_ms FROM kv WHERE key = 'inventory'`).Scan(&ms))
	assert.Equal(t, fixed.UnixMilli(), ms)
}

func TestSetFailureIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec("INSERT INTO kv").
		WithArgs("inventory", "[]", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	err := s.Set(context.Background(), "inventory", "[]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `set "inventory"`)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestGetFailureIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectQuery("SELECT value FROM kv WHERE key = \\?").
		WithArgs("inventory").
		WillReturnError(errors.New("database is locked"))

	_, ok, err := s.Get(context.Background(), "inventory")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRemoveFailureIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec("DELETE FROM kv").
		WithArgs("inventory").
		WillReturnError(errors.New("readonly database"))

	err := s.Remove(context.Background(), "inventory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `remove "inventory"`)
}

func TestUpdateAcrossConnections(t *testing.T) {
	ctx := context.Background()
	_, path := openTemp(t)

	other, err := Open(path)
	require.NoError(t, err)
	defer other.Close()
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	incr := func(cur string, ok bool) (string, error) {
		n := 0
		if ok {
			n, _ = strconv.Atoi(cur)
		}
		return strconv.Itoa(n + 1), nil
	}

	var wg sync.WaitGroup
	for _, st := range []*Store{s, other} {
		wg.Go(func() {
			for range 20 {
				assert.NoError(t, st.Update(ctx, "n", incr))
			}
		})
	}
	wg.Wait()

	v, ok, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40", v)
}

func TestUpdateCallbackErrorRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	boom := errors.New("bad snapshot")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value FROM kv WHERE key = \\?").
		WithArgs("inventory").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("[]"))
	mock.ExpectRollback()

	err := s.Update(context.Background(), "inventory", func(cur string, ok bool) (string, error) {
		assert.True(t, ok)
		assert.Equal(t, "[]", cur)
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateCommitsUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value FROM kv WHERE key = \\?").
		WithArgs("inventory").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO kv").
		WithArgs("inventory", `["a"]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "inventory", func(cur string, ok bool) (string, error) {
		assert.False(t, ok)
		return `["a"]`, nil
	})
	require.NoError(t, err)
}
