// Package server is the HTTP facade: plain CRUD over the order store, plus
// the websocket endpoint that turns a connection into a change feed
// subscriber. CRUD never goes through the propagation engine; the engine only
// observes the store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderwatch/orderwatch/internal/broadcast"
	"github.com/orderwatch/orderwatch/internal/engine"
	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/store"
)

const serverName = "API Server"

type orderStore interface {
	Insert(p *store.InsertParams) (*order.Order, error)
	UpdateByID(id string, p *store.UpdateParams) (*order.Order, error)
	DeleteByID(id string) (*order.Order, error)
	ListAll() []*order.Order
}

type propagation interface {
	State() engine.State
}

type registry interface {
	Register(sub broadcast.Subscriber)
	Unregister(sub broadcast.Subscriber)
}

type Server struct {
	listener   net.Listener
	httpServer *http.Server
	port       string

	store    orderStore
	engine   propagation
	registry registry
	upgrader websocket.Upgrader
}

type Config struct {
	Port     string
	Store    orderStore
	Engine   propagation
	Registry registry
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Port == "" {
		errGrp = append(errGrp, errors.New("port is required"))
	}
	if c.Store == nil {
		errGrp = append(errGrp, errors.New("store is required"))
	}
	if c.Engine == nil {
		errGrp = append(errGrp, errors.New("engine is required"))
	}
	if c.Registry == nil {
		errGrp = append(errGrp, errors.New("registry is required"))
	}
	return errors.Join(errGrp...)
}

// New binds the API listener. A bind failure surfaces here so startup can
// abort instead of coming up half-serving.
func New(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	s := &Server{
		listener: listener,
		port:     cfg.Port,
		store:    cfg.Store,
		engine:   cfg.Engine,
		registry: cfg.Registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Start() error {
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Name() string {
	return serverName
}
