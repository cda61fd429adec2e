package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/store"
)

type feed interface {
	Watch() (store.Stream, error)
}

// Native consumes the store's push-based change feed and maps each
// notification 1:1 to a ChangeEvent. Every notification already carries the
// full post-change snapshot, so no lookup is needed.
//
// Native never retries in place: when the feed cannot be established or its
// stream ends with an error, it reports through OnFailure exactly once and
// goes quiet. Deciding what happens next is the engine's job.
type Native struct {
	feed      feed
	onFailure func(error)

	stopOnce sync.Once
	done     chan struct{}
	stream   store.Stream
}

type NativeConfig struct {
	Feed feed
	// OnFailure is invoked at most once, from the source's own goroutine,
	// when the feed stream breaks.
	OnFailure func(error)
}

func (c *NativeConfig) validate() error {
	var errGrp []error
	if c.Feed == nil {
		errGrp = append(errGrp, errors.New("feed cannot be nil"))
	}
	if c.OnFailure == nil {
		errGrp = append(errGrp, errors.New("failure callback cannot be nil"))
	}
	return errors.Join(errGrp...)
}

func NewNative(cfg *NativeConfig) (*Native, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Native{
		feed:      cfg.Feed,
		onFailure: cfg.OnFailure,
		done:      make(chan struct{}),
	}, nil
}

// Start attaches to the change feed. A Watch failure is returned directly so
// the engine can fall back without waiting for a callback.
func (n *Native) Start(onEvent func(order.ChangeEvent)) error {
	stream, err := n.feed.Watch()
	if err != nil {
		return fmt.Errorf("failed to attach to change feed: %w", err)
	}
	n.stream = stream

	go n.consume(stream, onEvent)
	return nil
}

func (n *Native) consume(stream store.Stream, onEvent func(order.ChangeEvent)) {
	for {
		select {
		case <-n.done:
			return
		case notif, ok := <-stream.Events():
			if !ok {
				// stream invalidated by the store, or closed under us
				select {
				case <-n.done:
					return
				default:
				}
				err := stream.Err()
				if err == nil {
					err = errors.New("change feed stream closed")
				}
				log.Warn().Err(err).Msg("native change feed lost")
				n.onFailure(err)
				return
			}
			onEvent(n.toEvent(notif))
		}
	}
}

func (n *Native) toEvent(notif store.Notification) order.ChangeEvent {
	var id string
	if notif.Order != nil {
		id = notif.Order.ID
	}
	return order.ChangeEvent{
		Operation: notif.Operation,
		ID:        id,
		Data:      notif.Order,
	}
}

// Stop detaches from the feed. In-flight events may complete; no new event is
// delivered afterwards and the failure callback is suppressed.
func (n *Native) Stop() {
	n.stopOnce.Do(func() {
		close(n.done)
		if n.stream != nil {
			n.stream.Close()
		}
	})
}
