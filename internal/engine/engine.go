// Package engine supervises change detection. It owns the single active
// change source, performs the one-way native-to-polling fallback, and
// forwards every normalized event to the broadcast registry.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/source"
	"github.com/orderwatch/orderwatch/internal/store"
)

// State names the active detection strategy.
type State string

const (
	StateNative  State = "native"
	StatePolling State = "polling"
)

type registry interface {
	Deliver(ev order.ChangeEvent)
}

type orderStore interface {
	Watch() (store.Stream, error)
	FindModifiedSince(t time.Time) ([]*order.Order, error)
}

// Engine is the propagation core. Detection state and the active source are
// owned here exclusively; nothing else mutates them.
//
// The state machine has two states and one transition: native → polling,
// taken at most once per process. Once polling, the engine stays there until
// restart — no automatic retry of native detection, deliberately, to avoid
// flapping between strategies.
type Engine struct {
	store           orderStore
	registry        registry
	pollInterval    time.Duration
	insertThreshold time.Duration

	mu      sync.Mutex
	state   State
	active  source.Source
	stopped bool

	newNative  func(onFailure func(error)) (source.Source, error)
	newPolling func(watermark time.Time) (source.Source, error)
	now        func() time.Time
}

type Config struct {
	Store           orderStore
	Registry        registry
	PollInterval    time.Duration
	InsertThreshold time.Duration
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Store == nil {
		errGrp = append(errGrp, errors.New("store cannot be nil"))
	}
	if c.Registry == nil {
		errGrp = append(errGrp, errors.New("registry cannot be nil"))
	}
	if c.PollInterval <= 0 {
		errGrp = append(errGrp, errors.New("poll interval must be positive"))
	}
	if c.InsertThreshold <= 0 {
		errGrp = append(errGrp, errors.New("insert threshold must be positive"))
	}
	return errors.Join(errGrp...)
}

func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:           cfg.Store,
		registry:        cfg.Registry,
		pollInterval:    cfg.PollInterval,
		insertThreshold: cfg.InsertThreshold,
		state:           StateNative,
		now:             time.Now,
	}
	e.newNative = func(onFailure func(error)) (source.Source, error) {
		return source.NewNative(&source.NativeConfig{
			Feed:      e.store,
			OnFailure: onFailure,
		})
	}
	e.newPolling = func(watermark time.Time) (source.Source, error) {
		return source.NewPolling(&source.PollingConfig{
			Store:           e.store,
			Interval:        e.pollInterval,
			InsertThreshold: e.insertThreshold,
			Watermark:       watermark,
		})
	}
	return e, nil
}

// Start brings up native detection. If the change feed cannot even be
// established, the engine falls back to polling immediately rather than
// failing the process; mutation delivery still works, just with polling
// latency.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	native, err := e.newNative(e.fallBack)
	if err != nil {
		return err
	}

	if err := native.Start(e.forward); err != nil {
		log.Warn().Err(err).Msg("native change detection unavailable, falling back to polling")
		return e.startPollingLocked()
	}

	e.active = native
	e.state = StateNative
	log.Info().Msg("change propagation running on native detection")
	return nil
}

// forward hands a normalized event to the registry. Deliver is fire and
// forget, so sources are never blocked by a slow subscriber.
func (e *Engine) forward(ev order.ChangeEvent) {
	e.registry.Deliver(ev)
}

// fallBack is the native source's failure callback. The transition happens at
// most once; late or duplicate failure signals are ignored.
func (e *Engine) fallBack(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || e.state == StatePolling {
		return
	}

	log.Warn().Err(err).Msg("native change source failed, switching to polling detection")

	if e.active != nil {
		e.active.Stop()
		e.active = nil
	}

	if pollErr := e.startPollingLocked(); pollErr != nil {
		log.Error().Err(pollErr).Msg("failed to start polling change source")
	}
}

func (e *Engine) startPollingLocked() error {
	polling, err := e.newPolling(e.now())
	if err != nil {
		return err
	}
	if err := polling.Start(e.forward); err != nil {
		return err
	}

	e.active = polling
	e.state = StatePolling
	log.Info().Msg("change propagation running on polling detection")
	return nil
}

// State reports which detection strategy is live.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stop shuts down the active source. Idempotent; safe to call from the app's
// signal-driven shutdown while a notification or scan is in flight.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.stopped = true

	if e.active != nil {
		e.active.Stop()
		e.active = nil
	}
	return nil
}

func (e *Engine) Name() string {
	return "Propagation Engine"
}
