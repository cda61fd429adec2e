package source

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/order"
)

type scanner interface {
	FindModifiedSince(t time.Time) ([]*order.Order, error)
}

// Polling is the fallback detection strategy: on a fixed interval it scans
// the store for orders modified since the last successful scan and classifies
// each as an insert or an update.
//
// Two limitations are inherent to timestamp-only polling and are accepted,
// not worked around: a delete simply stops appearing and is never reported,
// and an update that lands within the insert threshold right after creation
// is reported as an INSERT. A failed scan leaves the watermark where it was,
// so the next tick re-covers the window — delivery is at least once and may
// duplicate across a window boundary, but never loses a write.
type Polling struct {
	store     scanner
	interval  time.Duration
	threshold time.Duration

	mu        sync.Mutex
	watermark time.Time

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

type PollingConfig struct {
	Store scanner
	// Interval between scans.
	Interval time.Duration
	// InsertThreshold is the maximum gap between an order id's embedded
	// creation time and its UpdatedAt for the change to count as an insert.
	InsertThreshold time.Duration
	// Watermark seeds the first scan window, normally "now" at the moment of
	// fallback. It is process-memory only: a restart while polling rescans
	// from now and silently misses the gap.
	Watermark time.Time
}

func (c *PollingConfig) validate() error {
	var errGrp []error
	if c.Store == nil {
		errGrp = append(errGrp, errors.New("store cannot be nil"))
	}
	if c.Interval <= 0 {
		errGrp = append(errGrp, errors.New("interval must be positive"))
	}
	if c.InsertThreshold <= 0 {
		errGrp = append(errGrp, errors.New("insert threshold must be positive"))
	}
	return errors.Join(errGrp...)
}

func NewPolling(cfg *PollingConfig) (*Polling, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Polling{
		store:     cfg.Store,
		interval:  cfg.Interval,
		threshold: cfg.InsertThreshold,
		watermark: cfg.Watermark,
		done:      make(chan struct{}),
		now:       time.Now,
	}, nil
}

func (p *Polling) Start(onEvent func(order.ChangeEvent)) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.scan(onEvent)
			}
		}
	}()
	return nil
}

// scan runs one polling cycle. The watermark advances to the scan's start
// time only when the scan succeeds.
func (p *Polling) scan(onEvent func(order.ChangeEvent)) {
	p.mu.Lock()
	since := p.watermark
	p.mu.Unlock()

	start := p.now()
	rows, err := p.store.FindModifiedSince(since)
	if err != nil {
		log.Warn().Err(err).Time("watermark", since).Msg("polling scan failed, window will be retried")
		return
	}

	for _, o := range rows {
		onEvent(order.ChangeEvent{
			Operation: p.classify(o),
			ID:        o.ID,
			Data:      o,
		})
	}

	p.mu.Lock()
	p.watermark = start
	p.mu.Unlock()
}

// classify decides insert vs. update from the gap between the id's embedded
// creation time and UpdatedAt. Below the threshold it "looks newly created".
// Untraceable ids are reported as updates.
func (p *Polling) classify(o *order.Order) order.Operation {
	created, err := order.IDTime(o.ID)
	if err != nil {
		return order.OperationUpdate
	}
	if o.UpdatedAt.Sub(created) < p.threshold {
		return order.OperationInsert
	}
	return order.OperationUpdate
}

// Stop halts the timer. An in-flight scan completes; no new scan starts.
func (p *Polling) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
