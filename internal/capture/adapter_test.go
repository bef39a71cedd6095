package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockscan/internal/fault"
)

// fakeEngine records calls and fails the ops listed in fail.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	handler func(Detection)
	views   int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{fail: make(map[string]error)}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) failure(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Initialize(_ context.Context, s Settings) error {
	f.record("initialize " + s.Symbology)
	return f.failure("initialize")
}

func (f *fakeEngine) Attach(_ context.Context, surface string) (ViewHandle, error) {
	f.record("attach " + surface)
	if err := f.failure("attach"); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.views++
	v := ViewHandle(fmt.Sprintf("view-%d", f.views))
	f.mu.Unlock()
	return v, nil
}

func (f *fakeEngine) SetDetectionEnabled(_ context.Context, enabled bool) error {
	f.record(fmt.Sprintf("detection %t", enabled))
	return f.failure("detection")
}

func (f *fakeEngine) SetCameraPower(_ context.Context, on bool) error {
	f.record(fmt.Sprintf("camera %t", on))
	return f.failure("camera")
}

func (f *fakeEngine) Detach(_ context.Context, view ViewHandle) error {
	f.record("detach " + string(view))
	return f.failure("detach")
}

func (f *fakeEngine) OnDetection(fn func(Detection)) {
	f.handler = fn
}

var testSettings = Settings{LicenseKey: "key", Symbology: "code128"}

func initializedAdapter(t *testing.T) (*Adapter, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	a := NewAdapter(eng)
	require.NoError(t, a.Initialize(context.Background(), testSettings))
	return a, eng
}

func TestAdapterInitializeCachesSuccess(t *testing.T) {
	a, eng := initializedAdapter(t)

	require.NoError(t, a.Initialize(context.Background(), testSettings))

	assert.Equal(t, []string{"initialize code128"}, eng.Calls())
	assert.True(t, a.Initialized())
	assert.Equal(t, "code128", a.Settings().Symbology)
}

func TestAdapterInitializeFailureNotCached(t *testing.T) {
	eng := newFakeEngine()
	eng.fail["initialize"] = errors.New("license rejected")
	a := NewAdapter(eng)

	err := a.Initialize(context.Background(), testSettings)
	require.Error(t, err)
	assert.True(t, fault.IsEngineInitError(err))
	assert.False(t, a.Initialized())

	delete(eng.fail, "initialize")
	require.NoError(t, a.Initialize(context.Background(), testSettings))
	assert.Len(t, eng.Calls(), 2)
}

func TestAdapterInitializeRejectsMultipleSymbologies(t *testing.T) {
	eng := newFakeEngine()
	a := NewAdapter(eng)

	err := a.Initialize(context.Background(), Settings{Symbology: "code128,ean13"})
	require.Error(t, err)
	assert.True(t, fault.IsEngineInitError(err))
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Empty(t, eng.Calls())
}

func TestAdapterAttachBeforeInitialize(t *testing.T) {
	a := NewAdapter(newFakeEngine())

	_, err := a.Attach(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, fault.IsNotReady(err))
}

func TestAdapterAttachIdempotentForSameSurface(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()

	v1, err := a.Attach(ctx, "main")
	require.NoError(t, err)
	v2, err := a.Attach(ctx, "main")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, []string{"initialize code128", "attach main"}, eng.Calls())
}

func TestAdapterAttachDifferentSurfaceDetachesFirst(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()

	_, err := a.Attach(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, a.SetCameraPower(ctx, true))

	v2, err := a.Attach(ctx, "side")
	require.NoError(t, err)
	assert.Equal(t, ViewHandle("view-2"), v2)

	assert.Equal(t, []string{
		"initialize code128",
		"attach main",
		"camera true",
		"camera false",
		"detach view-1",
		"attach side",
	}, eng.Calls())

	_, surface, attached := a.View()
	assert.True(t, attached)
	assert.Equal(t, "side", surface)
}

func TestAdapterAttachFailure(t *testing.T) {
	a, eng := initializedAdapter(t)
	eng.fail["attach"] = errors.New("surface not visible")

	_, err := a.Attach(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, fault.IsAttachError(err))

	_, _, attached := a.View()
	assert.False(t, attached)
}

func TestAdapterTogglesAreIdempotent(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()
	_, err := a.Attach(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, a.SetDetectionEnabled(ctx, true))
	require.NoError(t, a.SetDetectionEnabled(ctx, true))
	require.NoError(t, a.SetCameraPower(ctx, true))
	require.NoError(t, a.SetCameraPower(ctx, true))

	assert.Equal(t, []string{
		"initialize code128",
		"attach main",
		"detection true",
		"camera true",
	}, eng.Calls())
	assert.True(t, a.Detecting())
	assert.True(t, a.Powered())
}

func TestAdapterToggleWithoutView(t *testing.T) {
	a, _ := initializedAdapter(t)
	ctx := context.Background()

	assert.NoError(t, a.SetDetectionEnabled(ctx, false))
	err := a.SetCameraPower(ctx, true)
	require.Error(t, err)
	assert.True(t, fault.IsNotReady(err))
}

func TestAdapterToggleFailureCodes(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()
	_, err := a.Attach(ctx, "main")
	require.NoError(t, err)

	eng.fail["camera"] = errors.New("no camera")
	eng.fail["detection"] = errors.New("engine busy")

	err = a.SetCameraPower(ctx, true)
	assert.True(t, fault.Is(err, fault.CodeCamera))
	err = a.SetDetectionEnabled(ctx, true)
	assert.True(t, fault.Is(err, fault.CodeDetection))

	assert.False(t, a.Powered())
	assert.False(t, a.Detecting())
}

func TestAdapterDetachNoop(t *testing.T) {
	a, eng := initializedAdapter(t)

	require.NoError(t, a.Detach(context.Background(), "view-9"))
	assert.Equal(t, []string{"initialize code128"}, eng.Calls())
}

func TestAdapterDetachSwitchesOffFirst(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()
	view, err := a.Attach(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, a.SetCameraPower(ctx, true))
	require.NoError(t, a.SetDetectionEnabled(ctx, true))

	require.NoError(t, a.Detach(ctx, view))

	assert.Equal(t, []string{
		"initialize code128",
		"attach main",
		"camera true",
		"detection true",
		"detection false",
		"camera false",
		"detach view-1",
	}, eng.Calls())
	assert.False(t, a.Detecting())
	assert.False(t, a.Powered())
	_, _, attached := a.View()
	assert.False(t, attached)
}

func TestAdapterDetachFailureKeepsView(t *testing.T) {
	a, eng := initializedAdapter(t)
	ctx := context.Background()
	view, err := a.Attach(ctx, "main")
	require.NoError(t, err)

	eng.fail["detach"] = errors.New("view locked")
	err = a.Detach(ctx, view)
	require.Error(t, err)
	assert.True(t, fault.IsDetachError(err))

	got, _, attached := a.View()
	assert.True(t, attached)
	assert.Equal(t, view, got)

	delete(eng.fail, "detach")
	require.NoError(t, a.Detach(ctx, view))
	_, _, attached = a.View()
	assert.False(t, attached)
}

func TestAdapterSingleDetectionCallback(t *testing.T) {
	eng := newFakeEngine()
	a := NewAdapter(eng)

	var got []Detection
	require.NoError(t, a.OnDetection(func(d Detection) { got = append(got, d) }))
	assert.ErrorIs(t, a.OnDetection(func(Detection) {}), ErrHandlerRegistered)
	assert.Error(t, a.OnDetection(nil))

	eng.handler(Detection{Payload: "A1", SymbologyTag: "code128"})
	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].Payload)
}

func TestAdapterDispatchWithoutCallback(t *testing.T) {
	eng := newFakeEngine()
	NewAdapter(eng)

	assert.NotPanics(t, func() {
		eng.handler(Detection{Payload: "A1"})
	})
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{Symbology: "code128"}.Validate())
	assert.ErrorIs(t, Settings{}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, Settings{Symbology: "code128 ean13"}.Validate(), ErrInvalidSettings)
}

func TestNormalizeSymbology(t *testing.T) {
	assert.Equal(t, "code128", NormalizeSymbology("sy-code128"))
	assert.Equal(t, "code128", NormalizeSymbology("Code128"))
	assert.Equal(t, "ean13", NormalizeSymbology(" ean13 "))
	assert.Equal(t, "ean13", NormalizeSymbology("SY-EAN13"))
	assert.Equal(t, "code128", NormalizeSymbology(" SY-Code128 "))
	assert.Equal(t, "qr", NormalizeSymbology("Sy-QR"))
}
