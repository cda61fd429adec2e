// Package broadcast tracks live subscriber connections and fans each change
// event out to all of them.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/order"
)

//go:generate mockgen -destination=subscriber_mock.go -package=broadcast -source=manager.go

// helloMessage is sent once per newly registered subscriber, independent of
// change events.
const helloMessage = "connected to orderwatch change feed"

const defaultQueueSize = 4096

// Subscriber is a live delivery target. Send carries one JSON-encoded
// payload; framing is the transport's concern.
type Subscriber interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Manager is the single authority for which subscribers are live. Events are
// delivered through one dispatch goroutine, so each subscriber sees them in
// the order Deliver was invoked; no ordering is promised across subscribers.
type Manager struct {
	queue      chan order.ChangeEvent
	procCtx    context.Context
	procCancel context.CancelFunc

	subsMux sync.Mutex
	subs    map[Subscriber]bool
}

type Config struct {
	// QueueSize bounds the dispatch queue; events beyond it are dropped with
	// a warning rather than blocking the change source.
	QueueSize int
}

func New(cfg *Config) (*Manager, error) {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		queue:      make(chan order.ChangeEvent, size),
		procCtx:    ctx,
		procCancel: cancel,
		subs:       make(map[Subscriber]bool),
	}, nil
}

func (m *Manager) Start() error {
	go func() {
		for {
			select {
			case <-m.procCtx.Done():
				return
			case ev := <-m.queue:
				m.fanOut(ev)
			}
		}
	}()
	return nil
}

func (m *Manager) Stop() error {
	m.procCancel()

	m.subsMux.Lock()
	defer m.subsMux.Unlock()
	for sub := range m.subs {
		_ = sub.Close()
		delete(m.subs, sub)
	}
	return nil
}

func (m *Manager) Name() string {
	return "Broadcast Registry"
}

// Register adds a subscriber and sends it the connection-established
// notification. A subscriber only sees events delivered after it registered.
func (m *Manager) Register(sub Subscriber) {
	hello, err := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: helloMessage})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal hello message")
		return
	}

	m.subsMux.Lock()
	defer m.subsMux.Unlock()

	if err := sub.Send(hello); err != nil {
		log.Warn().Err(err).Str("subscriber", sub.RemoteAddr()).Msg("dropping subscriber on hello")
		_ = sub.Close()
		return
	}
	m.subs[sub] = true

	log.Info().Str("subscriber", sub.RemoteAddr()).Int("total", len(m.subs)).Msg("subscriber connected")
}

// Unregister removes and closes a subscriber. Safe to call for a subscriber
// that was already dropped.
func (m *Manager) Unregister(sub Subscriber) {
	m.subsMux.Lock()
	defer m.subsMux.Unlock()

	if _, ok := m.subs[sub]; !ok {
		return
	}
	delete(m.subs, sub)
	_ = sub.Close()

	log.Info().Str("subscriber", sub.RemoteAddr()).Int("total", len(m.subs)).Msg("subscriber disconnected")
}

// Deliver queues an event for every currently registered subscriber. Fire and
// forget: it never blocks the caller and never returns an error.
func (m *Manager) Deliver(ev order.ChangeEvent) {
	select {
	case m.queue <- ev:
	default:
		log.Warn().Str("id", ev.ID).Msg("dispatch queue full, change event dropped")
	}
}

// fanOut writes one event to every subscriber. A failed write drops that
// subscriber only; the rest still get the event.
func (m *Manager) fanOut(ev order.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal change event")
		return
	}

	// no registrations while writing, so a late subscriber cannot observe
	// an event delivered before it joined
	m.subsMux.Lock()
	defer m.subsMux.Unlock()

	for sub := range m.subs {
		if err := sub.Send(data); err != nil {
			log.Warn().Err(err).Str("subscriber", sub.RemoteAddr()).Msg("removing subscriber after failed delivery")
			_ = sub.Close()
			delete(m.subs, sub)
		}
	}
}
