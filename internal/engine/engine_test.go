package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/source"
	"github.com/orderwatch/orderwatch/internal/store"
	"github.com/orderwatch/orderwatch/internal/wal"
)

type recordingRegistry struct {
	events chan order.ChangeEvent
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{events: make(chan order.ChangeEvent, 128)}
}

func (r *recordingRegistry) Deliver(ev order.ChangeEvent) {
	r.events <- ev
}

type fakeSource struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stopped  bool
	onEvent  func(order.ChangeEvent)
}

func (f *fakeSource) Start(onEvent func(order.ChangeEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.onEvent = onEvent
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// harness wires an Engine to fake sources so transitions can be driven by
// hand.
type harness struct {
	engine       *Engine
	native       *fakeSource
	polling      *fakeSource
	onFailure    func(error)
	pollingBuilt int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	w := &fakeWALStore{}
	e, err := New(&Config{
		Store:           w,
		Registry:        newRecordingRegistry(),
		PollInterval:    time.Second,
		InsertThreshold: time.Second,
	})
	require.NoError(t, err)

	h := &harness{engine: e, native: &fakeSource{}, polling: &fakeSource{}}
	e.newNative = func(onFailure func(error)) (source.Source, error) {
		h.onFailure = onFailure
		return h.native, nil
	}
	e.newPolling = func(time.Time) (source.Source, error) {
		h.pollingBuilt++
		return h.polling, nil
	}
	return h
}

// fakeWALStore satisfies the engine's store interface; the fake sources never
// touch it.
type fakeWALStore struct{}

func (f *fakeWALStore) Watch() (store.Stream, error) { return nil, store.ErrFeedDisabled }
func (f *fakeWALStore) FindModifiedSince(time.Time) ([]*order.Order, error) {
	return nil, nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		e, err := New(&Config{})
		require.Error(t, err)
		require.Nil(t, e)
	})

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		e, err := New(&Config{
			Store:           &fakeWALStore{},
			Registry:        newRecordingRegistry(),
			PollInterval:    time.Second,
			InsertThreshold: time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "Propagation Engine", e.Name())
	})
}

func TestEngine_Start(t *testing.T) {
	t.Parallel()

	t.Run("native detection by default", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		require.NoError(t, h.engine.Start())
		assert.Equal(t, StateNative, h.engine.State())
		assert.Zero(t, h.pollingBuilt)
	})

	t.Run("immediate fallback when native cannot start", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.native.startErr = errors.New("feed unavailable")

		require.NoError(t, h.engine.Start())
		assert.Equal(t, StatePolling, h.engine.State())
		assert.Equal(t, 1, h.pollingBuilt)
	})
}

func TestEngine_Fallback(t *testing.T) {
	t.Parallel()

	t.Run("transitions exactly once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.engine.Start())

		h.onFailure(errors.New("stream lost"))
		assert.Equal(t, StatePolling, h.engine.State())
		assert.True(t, h.native.isStopped())
		assert.Equal(t, 1, h.pollingBuilt)

		// a late duplicate failure signal is ignored
		h.onFailure(errors.New("stream lost again"))
		assert.Equal(t, 1, h.pollingBuilt)
	})

	t.Run("ignored after stop", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.engine.Start())
		require.NoError(t, h.engine.Stop())

		h.onFailure(errors.New("stream lost"))
		assert.Zero(t, h.pollingBuilt)
	})
}

func TestEngine_Stop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.engine.Start())

	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Stop(), "stop is idempotent")
	assert.True(t, h.native.isStopped())
}

// newLiveStack builds a real store + engine + recording registry, the whole
// propagation path minus the network.
func newLiveStack(t *testing.T, nativeFeed bool) (*store.Manager, *Engine, *recordingRegistry) {
	t.Helper()

	walManager, err := wal.New(&wal.Config{Path: t.TempDir()})
	require.NoError(t, err)

	orderStore, err := store.New(&store.Config{WAL: walManager, NativeFeed: nativeFeed})
	require.NoError(t, err)
	require.NoError(t, orderStore.Start())
	t.Cleanup(func() { _ = orderStore.Stop() })

	registry := newRecordingRegistry()
	e, err := New(&Config{
		Store:           orderStore,
		Registry:        registry,
		PollInterval:    20 * time.Millisecond,
		InsertThreshold: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	return orderStore, e, registry
}

func waitEvent(t *testing.T, registry *recordingRegistry) order.ChangeEvent {
	t.Helper()
	select {
	case ev := <-registry.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return order.ChangeEvent{}
	}
}

func TestEngine_NativePropagation(t *testing.T) {
	t.Parallel()

	orderStore, e, registry := newLiveStack(t, true)
	require.Equal(t, StateNative, e.State())

	o, err := orderStore.Insert(&store.InsertParams{CustomerName: "A", ProductName: "B"})
	require.NoError(t, err)

	ev := waitEvent(t, registry)
	assert.Equal(t, order.OperationInsert, ev.Operation)
	assert.Equal(t, o.ID, ev.ID)
	require.NotNil(t, ev.Data)
	assert.Equal(t, "pending", ev.Data.Status, "status defaults when omitted")

	shipped := "shipped"
	_, err = orderStore.UpdateByID(o.ID, &store.UpdateParams{Status: &shipped})
	require.NoError(t, err)

	ev = waitEvent(t, registry)
	assert.Equal(t, order.OperationUpdate, ev.Operation)
	assert.Equal(t, o.ID, ev.ID)
	assert.Equal(t, "shipped", ev.Data.Status)

	_, err = orderStore.DeleteByID(o.ID)
	require.NoError(t, err)

	ev = waitEvent(t, registry)
	assert.Equal(t, order.OperationDelete, ev.Operation)
	assert.Equal(t, o.ID, ev.ID)
	require.NotNil(t, ev.Data, "delete carries the last known snapshot")
	assert.Equal(t, "shipped", ev.Data.Status)
}

func TestEngine_PollingPropagation(t *testing.T) {
	t.Parallel()

	orderStore, e, registry := newLiveStack(t, false)
	require.Equal(t, StatePolling, e.State(), "disabled feed falls back on boot")

	o, err := orderStore.Insert(&store.InsertParams{CustomerName: "A", ProductName: "B"})
	require.NoError(t, err)

	ev := waitEvent(t, registry)
	assert.Equal(t, order.OperationInsert, ev.Operation, "fresh order classified as insert")
	assert.Equal(t, o.ID, ev.ID)

	// deletes are invisible to polling: the order just stops appearing
	_, err = orderStore.DeleteByID(o.ID)
	require.NoError(t, err)

	select {
	case ev := <-registry.events:
		// duplicates of the insert are allowed; a DELETE is not
		assert.NotEqual(t, order.OperationDelete, ev.Operation)
	case <-time.After(200 * time.Millisecond):
	}
}
