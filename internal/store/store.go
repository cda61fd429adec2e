// Package store is the order collection: a guarded in-memory map persisted
// through a write-ahead log, with a push-based change feed over every
// committed mutation.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/wal"
)

const defaultStatus = "pending"

var (
	// ErrNotFound means the id did not resolve to an existing order.
	ErrNotFound = errors.New("order not found")
	// ErrClosed means the store has been stopped.
	ErrClosed = errors.New("store is closed")
	// ErrMissingField wraps the name of a required field that was empty.
	ErrMissingField = errors.New("missing required field")
)

type writeAhead interface {
	Append(e *wal.Entry) error
	Load(apply func(*wal.Entry)) error
	Close() error
}

type Manager struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	wal    writeAhead
	closed bool

	feedEnabled bool
	streams     map[*FeedStream]bool

	now func() time.Time
}

type Config struct {
	WAL writeAhead
	// NativeFeed controls whether Watch can hand out change feed streams.
	// When false, native change detection is unavailable and consumers are
	// expected to poll FindModifiedSince instead.
	NativeFeed bool
}

func (c *Config) validate() error {
	var errGrp []error
	if c.WAL == nil {
		errGrp = append(errGrp, errors.New("WAL cannot be nil"))
	}
	return errors.Join(errGrp...)
}

func New(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		orders:      make(map[string]*order.Order),
		wal:         cfg.WAL,
		feedEnabled: cfg.NativeFeed,
		streams:     make(map[*FeedStream]bool),
		now:         time.Now,
	}, nil
}

// Start replays the WAL into the in-memory collection.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.wal.Load(m.apply); err != nil {
		return fmt.Errorf("failed to load WAL: %w", err)
	}
	return nil
}

// Stop invalidates open feed streams and closes the WAL. Writes after Stop
// fail with ErrClosed.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for s := range m.streams {
		s.invalidate(ErrClosed)
		delete(m.streams, s)
	}
	return m.wal.Close()
}

func (m *Manager) Name() string {
	return "Order Store"
}

// apply replays one WAL entry. Replay raises no feed notifications; the feed
// only carries live mutations.
func (m *Manager) apply(e *wal.Entry) {
	if e.Order == nil {
		return
	}
	switch e.Operation {
	case order.OperationInsert, order.OperationUpdate:
		m.orders[e.Order.ID] = e.Order.Clone()
	case order.OperationDelete:
		delete(m.orders, e.Order.ID)
	}
}

// InsertParams are the caller-supplied fields for a new order. UpdatedAt is
// never accepted from the caller; the store stamps it.
type InsertParams struct {
	CustomerName string
	ProductName  string
	Status       string
}

func (p *InsertParams) validate() error {
	var errGrp []error
	if p.CustomerName == "" {
		errGrp = append(errGrp, fmt.Errorf("%w: customer_name", ErrMissingField))
	}
	if p.ProductName == "" {
		errGrp = append(errGrp, fmt.Errorf("%w: product_name", ErrMissingField))
	}
	return errors.Join(errGrp...)
}

// Insert creates a new order with a generated id, defaulting Status to
// "pending" when omitted.
func (m *Manager) Insert(p *InsertParams) (*order.Order, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	status := p.Status
	if status == "" {
		status = defaultStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	o := &order.Order{
		ID:           order.NewID(),
		CustomerName: p.CustomerName,
		ProductName:  p.ProductName,
		Status:       status,
		UpdatedAt:    m.now(),
	}

	if err := m.commit(order.OperationInsert, o); err != nil {
		return nil, err
	}
	m.orders[o.ID] = o

	return o.Clone(), nil
}

// UpdateParams carries the fields to change; nil fields are left as-is.
type UpdateParams struct {
	CustomerName *string
	ProductName  *string
	Status       *string
}

// UpdateByID applies the provided fields to an existing order. A malformed id
// fails with order.ErrInvalidID before the collection is touched.
func (m *Manager) UpdateByID(id string, p *UpdateParams) (*order.Order, error) {
	if err := order.ValidateID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := o.Clone()
	if p.CustomerName != nil {
		next.CustomerName = *p.CustomerName
	}
	if p.ProductName != nil {
		next.ProductName = *p.ProductName
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	next.UpdatedAt = m.now()

	if err := m.commit(order.OperationUpdate, next); err != nil {
		return nil, err
	}
	m.orders[id] = next

	return next.Clone(), nil
}

// DeleteByID removes an order and returns its last snapshot.
func (m *Manager) DeleteByID(id string) (*order.Order, error) {
	if err := order.ValidateID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	snapshot := o.Clone()
	if err := m.commit(order.OperationDelete, snapshot); err != nil {
		return nil, err
	}
	delete(m.orders, id)

	return snapshot.Clone(), nil
}

// ListAll returns every order, most recently updated first.
func (m *Manager) ListAll() []*order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// FindModifiedSince returns orders with UpdatedAt at or after the given
// instant, ascending by UpdatedAt. The boundary is inclusive so a write
// timestamped exactly at a poller's watermark is re-reported in the next
// window rather than lost.
func (m *Manager) FindModifiedSince(t time.Time) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var out []*order.Order
	for _, o := range m.orders {
		if !o.UpdatedAt.Before(t) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// commit appends to the WAL and raises the change feed, in that order. The
// caller holds the write lock, so feed notifications observe commit order.
func (m *Manager) commit(op order.Operation, o *order.Order) error {
	if err := m.wal.Append(&wal.Entry{
		Operation: op,
		Order:     o,
		Timestamp: m.now(),
	}); err != nil {
		return fmt.Errorf("failed to append to WAL: %w", err)
	}

	m.publish(Notification{Operation: op, Order: o.Clone()})
	return nil
}
