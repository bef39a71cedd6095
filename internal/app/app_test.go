package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/feedback"
	"github.com/roach88/stockscan/internal/idgen"
	"github.com/roach88/stockscan/internal/inventory"
	"github.com/roach88/stockscan/internal/router"
	"github.com/roach88/stockscan/internal/session"
	"github.com/roach88/stockscan/internal/testutil"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.DiscardHandler))
	os.Exit(m.Run())
}

var settings = capture.Settings{LicenseKey: "test-key", Symbology: "code128"}

func newApp(t *testing.T, store *testutil.FlakyStore, opts ...Option) (*App, *testutil.ScriptedEngine) {
	t.Helper()
	engine := testutil.NewScriptedEngine()
	opts = append([]Option{
		WithRouterOptions(
			router.WithIDGenerator(idgen.NewSequence("rec")),
			router.WithClock(testutil.NewDeterministicClock()),
		),
		WithSessionOptions(session.WithSessionIDs(idgen.NewSequence("sess"))),
	}, opts...)

	a, err := New(engine, store, settings, opts...)
	require.NoError(t, err)
	return a, engine
}

func start(t *testing.T, a *App) {
	t.Helper()
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
}

func syncApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Sync(ctx))
}

func TestScanFlow(t *testing.T) {
	store := testutil.NewFlakyStore()
	a, engine := newApp(t, store)
	start(t, a)
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))
	assert.Equal(t, session.Scanning, a.State())

	require.True(t, engine.Emit("SKU-1", "code128"))
	require.True(t, engine.Emit("SKU-2", "code128"))
	syncApp(t, a)

	records := a.Inventory()
	require.Len(t, records, 2)
	assert.Equal(t, "SKU-2", records[0].Payload)
	assert.Equal(t, "rec-2", records[0].ID)
	found, ok := a.Find("rec-1")
	require.True(t, ok)
	assert.Equal(t, "SKU-1", found.Payload)

	require.NoError(t, a.Pause(ctx))
	assert.False(t, engine.Emit("SKU-3", "code128"), "paused engine delivers nothing")
	require.NoError(t, a.Resume(ctx))

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, session.Ready, a.State())
	assert.False(t, engine.Attached())

	snap := a.Snapshot()
	assert.Equal(t, 2, snap.Inventory)
	assert.Equal(t, int64(2), snap.Router.Recorded)
	assert.Equal(t, session.Ready, snap.Session.State)
}

func TestClearInventory(t *testing.T) {
	store := testutil.NewFlakyStore()
	a, engine := newApp(t, store)
	start(t, a)
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))
	engine.Emit("SKU-1", "code128")

	require.NoError(t, a.ClearInventory(ctx))
	assert.Empty(t, a.Inventory())
	_, persisted := store.Raw(inventory.Key)
	assert.False(t, persisted)
	assert.Equal(t, session.Scanning, a.State(), "clearing does not touch the session")
}

func TestClearBeforeStart(t *testing.T) {
	a, _ := newApp(t, testutil.NewFlakyStore())
	assert.ErrorIs(t, a.ClearInventory(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, a.Sync(context.Background()), ErrNotStarted)
}

func TestStartLoadsPersistedInventory(t *testing.T) {
	store := testutil.NewFlakyStore()
	seed := inventory.New(store)
	require.NoError(t, seed.Append(context.Background(), inventory.ScanRecord{
		ID:           "old-1",
		Payload:      "SKU-OLD",
		SymbologyTag: "code128",
		CapturedAt:   testutil.DefaultEpoch,
	}))

	a, _ := newApp(t, store)
	start(t, a)

	records := a.Inventory()
	require.Len(t, records, 1)
	assert.Equal(t, "old-1", records[0].ID)
	assert.Empty(t, a.Snapshot().LoadError)
}

func TestStartSurvivesUnreadableStore(t *testing.T) {
	store := testutil.NewFlakyStore()
	store.FailGet(errors.New("corrupt page"))

	a, _ := newApp(t, store)
	start(t, a)

	assert.Empty(t, a.Inventory())
	assert.Contains(t, a.Snapshot().LoadError, "PERSISTENCE_READ")
}

func TestScanAfterUnreadableStartKeepsStoredRecords(t *testing.T) {
	store := testutil.NewFlakyStore()
	seed := inventory.New(store)
	require.NoError(t, seed.Append(context.Background(), inventory.ScanRecord{
		ID:           "old-1",
		Payload:      "SKU-OLD",
		SymbologyTag: "code128",
		CapturedAt:   testutil.DefaultEpoch,
	}))
	store.FailGet(errors.New("connection reset"))

	a, engine := newApp(t, store)
	start(t, a)
	require.Empty(t, a.Inventory())
	store.FailGet(nil)

	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))
	engine.Emit("SKU-NEW", "code128")
	syncApp(t, a)

	reloaded := inventory.New(store)
	assert.Equal(t, 2, reloaded.Load(ctx))
	assert.Len(t, a.Inventory(), 2)
}

func TestStartTwice(t *testing.T) {
	a, _ := newApp(t, testutil.NewFlakyStore())
	start(t, a)
	assert.Error(t, a.Start(context.Background()))
}

func TestFeedbackNotifiers(t *testing.T) {
	got := make(chan feedback.Event, 4)
	notifier := feedback.NotifierFunc(func(_ context.Context, ev feedback.Event) error {
		got <- ev
		return nil
	})

	a, engine := newApp(t, testutil.NewFlakyStore(), WithNotifiers(notifier))
	start(t, a)
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))

	engine.Emit("SKU-1", "code128")
	select {
	case ev := <-got:
		assert.Equal(t, "SKU-1", ev.Record.Payload)
		assert.Equal(t, 1, ev.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("no feedback event")
	}
}

func TestShutdownClosesSession(t *testing.T) {
	a, engine := newApp(t, testutil.NewFlakyStore())
	require.NoError(t, a.Start(context.Background()))
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))
	engine.Emit("SKU-1", "code128")

	require.NoError(t, a.Shutdown(ctx))
	assert.False(t, engine.Attached())
	assert.Equal(t, 1, len(a.Inventory()), "queued detections are drained before shutdown")
	assert.ErrorIs(t, a.ClearInventory(ctx), ErrNotStarted)
}

func TestShutdownDeliversQueuedFeedback(t *testing.T) {
	var delivered atomic.Int32
	slow := feedback.NotifierFunc(func(context.Context, feedback.Event) error {
		time.Sleep(5 * time.Millisecond)
		delivered.Add(1)
		return nil
	})

	a, engine := newApp(t, testutil.NewFlakyStore(), WithNotifiers(slow))
	start(t, a)
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Open(ctx, "dock"))
	for i := range 10 {
		require.True(t, engine.Emit(fmt.Sprintf("SKU-%d", i), "code128"))
	}
	syncApp(t, a)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	assert.Equal(t, int32(10), delivered.Load())
	assert.Equal(t, int64(0), a.feedback.Dropped())
}
