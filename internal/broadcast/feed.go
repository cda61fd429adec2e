package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog/log"
)

// Feed is the TCP subscriber surface: every connection that attaches becomes
// a registry subscriber receiving line-framed JSON events.
type Feed struct {
	port     int
	address  string
	listener net.Listener
	registry *Manager

	procCtx    context.Context
	procCancel context.CancelFunc
}

type FeedConfig struct {
	Port     int
	Address  string
	Registry *Manager
}

func (c *FeedConfig) validate() error {
	var errGrp []error
	if c.Port <= 0 {
		errGrp = append(errGrp, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.Address == "" {
		errGrp = append(errGrp, fmt.Errorf("invalid address: %s", c.Address))
	}
	if c.Registry == nil {
		errGrp = append(errGrp, errors.New("registry cannot be nil"))
	}
	return errors.Join(errGrp...)
}

// NewFeed binds the feed listener. Failure to bind is returned here so the
// process refuses to start rather than serving without a subscriber surface.
func NewFeed(cfg *FeedConfig) (*Feed, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	addrString := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	listener, err := net.Listen("tcp", addrString)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addrString, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		listener:   listener,
		port:       cfg.Port,
		address:    cfg.Address,
		registry:   cfg.Registry,
		procCtx:    ctx,
		procCancel: cancel,
	}, nil
}

func (f *Feed) Start() error {
	go func() {
		for {
			conn, err := f.listener.Accept()
			if err != nil {
				select {
				case <-f.procCtx.Done():
					return
				default:
					log.Warn().Err(err).Msg("failed to accept feed connection")
					continue
				}
			}
			go f.handle(conn)
		}
	}()
	return nil
}

func (f *Feed) Stop() error {
	f.procCancel()
	if f.listener != nil {
		if err := f.listener.Close(); err != nil {
			return fmt.Errorf("failed to close feed listener: %w", err)
		}
	}
	return nil
}

func (f *Feed) Name() string {
	return "Subscriber Feed"
}

func (f *Feed) handle(conn net.Conn) {
	sub := newConnSubscriber(conn)
	f.registry.Register(sub)
	defer f.registry.Unregister(sub)

	// Reading is only to detect disconnection; the feed is one-way.
	buffer := make([]byte, 4096)
	for {
		if _, err := conn.Read(buffer); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("subscriber", sub.RemoteAddr()).Msg("feed connection read error")
			}
			return
		}
	}
}
