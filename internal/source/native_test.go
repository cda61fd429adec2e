package source

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/store"
)

// fakeStream implements store.Stream on a plain channel.
type fakeStream struct {
	ch     chan store.Notification
	err    error
	closed chan struct{}
}

func newFakeStream(size int) *fakeStream {
	return &fakeStream{
		ch:     make(chan store.Notification, size),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan store.Notification { return s.ch }
func (s *fakeStream) Err() error                        { return s.err }
func (s *fakeStream) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// end simulates the store invalidating the stream.
func (s *fakeStream) end(err error) {
	s.err = err
	close(s.ch)
}

type fakeFeed struct {
	stream   *fakeStream
	watchErr error
}

func (f *fakeFeed) Watch() (store.Stream, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.stream, nil
}

func TestNewNative(t *testing.T) {
	t.Parallel()

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		n, err := NewNative(&NativeConfig{})
		require.Error(t, err)
		require.Nil(t, n)
	})

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		n, err := NewNative(&NativeConfig{
			Feed:      &fakeFeed{stream: newFakeStream(1)},
			OnFailure: func(error) {},
		})
		require.NoError(t, err)
		require.NotNil(t, n)
	})
}

func TestNative_Start(t *testing.T) {
	t.Parallel()

	t.Run("watch failure is returned, not a callback", func(t *testing.T) {
		t.Parallel()
		n, err := NewNative(&NativeConfig{
			Feed:      &fakeFeed{watchErr: store.ErrFeedDisabled},
			OnFailure: func(error) { t.Error("failure callback must not fire on start errors") },
		})
		require.NoError(t, err)

		err = n.Start(func(order.ChangeEvent) {})
		require.ErrorIs(t, err, store.ErrFeedDisabled)
	})

	t.Run("maps notifications one to one", func(t *testing.T) {
		t.Parallel()
		stream := newFakeStream(8)
		n, err := NewNative(&NativeConfig{
			Feed:      &fakeFeed{stream: stream},
			OnFailure: func(error) {},
		})
		require.NoError(t, err)

		events := make(chan order.ChangeEvent, 8)
		require.NoError(t, n.Start(func(ev order.ChangeEvent) { events <- ev }))
		defer n.Stop()

		o := &order.Order{ID: order.NewID(), CustomerName: "Ada", ProductName: "Widget", Status: "pending"}
		stream.ch <- store.Notification{Operation: order.OperationInsert, Order: o}
		stream.ch <- store.Notification{Operation: order.OperationDelete, Order: o}

		ev := <-events
		assert.Equal(t, order.OperationInsert, ev.Operation)
		assert.Equal(t, o.ID, ev.ID)
		assert.Equal(t, o, ev.Data, "event carries the full snapshot")

		ev = <-events
		assert.Equal(t, order.OperationDelete, ev.Operation)
		assert.Equal(t, o.ID, ev.ID)
	})
}

func TestNative_Failure(t *testing.T) {
	t.Parallel()

	t.Run("stream error triggers the failure callback once", func(t *testing.T) {
		t.Parallel()
		stream := newFakeStream(1)
		failures := make(chan error, 2)
		n, err := NewNative(&NativeConfig{
			Feed:      &fakeFeed{stream: stream},
			OnFailure: func(err error) { failures <- err },
		})
		require.NoError(t, err)
		require.NoError(t, n.Start(func(order.ChangeEvent) {}))

		stream.end(store.ErrStreamOverflow)

		select {
		case err := <-failures:
			require.ErrorIs(t, err, store.ErrStreamOverflow)
		case <-time.After(time.Second):
			t.Fatal("failure callback never fired")
		}

		select {
		case <-failures:
			t.Fatal("failure callback fired twice")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("stop suppresses the failure callback", func(t *testing.T) {
		t.Parallel()
		stream := newFakeStream(1)
		n, err := NewNative(&NativeConfig{
			Feed:      &fakeFeed{stream: stream},
			OnFailure: func(error) { t.Error("failure callback must not fire after Stop") },
		})
		require.NoError(t, err)
		require.NoError(t, n.Start(func(order.ChangeEvent) {}))

		n.Stop()
		n.Stop() // idempotent
		stream.end(errors.New("late failure"))

		// give the consumer goroutine a moment to observe the close
		time.Sleep(50 * time.Millisecond)
	})
}
