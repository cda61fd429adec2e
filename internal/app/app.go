package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Dependency is anything the application starts and supervises. Start may
// block for the lifetime of the dependency (servers do); failures are
// reported, not panicked.
type Dependency interface {
	Start() error
	Stop() error
	// Name is used for logging and identification only.
	Name() string
}

type App struct {
	serviceName string
	deps        []Dependency
	// depFailChan receives the first failure from any dependency's Start.
	depFailChan chan error
	// osSignalChan receives the interrupt that begins shutdown.
	osSignalChan chan os.Signal
	stopCalled   *atomic.Bool
	runCalled    *atomic.Bool
	stopTimeout  time.Duration
}

type Config struct {
	ServiceName string
	StopTimeout time.Duration
}

func (c *Config) validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.StopTimeout == 0 {
		errs = append(errs, errors.New("stop timeout is required"))
	}
	return errors.Join(errs...)
}

// CreateApp creates a new application with the provided dependencies.
// Dependencies are started in order and stopped in the same order.
func CreateApp(cfg *Config, deps ...Dependency) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &App{
		serviceName:  cfg.ServiceName,
		deps:         deps,
		stopTimeout:  cfg.StopTimeout,
		stopCalled:   &atomic.Bool{},
		runCalled:    &atomic.Bool{},
		depFailChan:  make(chan error, len(deps)),
		osSignalChan: make(chan os.Signal, 1),
	}, nil
}

// Run starts every dependency and blocks until the context is cancelled, a
// dependency fails, or the OS asks the process to stop.
func (a *App) Run(ctx context.Context) error {
	if !a.runCalled.CompareAndSwap(false, true) {
		return errors.New("run has already been called")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, dep := range a.deps {
		// Each dependency runs in its own goroutine; a server's Start blocks
		// there until shutdown. We only listen for failures.
		go func(dep Dependency) {
			defer func() {
				if r := recover(); r != nil {
					a.depFailChan <- fmt.Errorf("panic in Start() for dependency %s: %v", dep.Name(), r)
				}
			}()

			log.Info().Msg("Starting dependency: " + dep.Name())
			if err := dep.Start(); err != nil {
				a.depFailChan <- fmt.Errorf("failure in Start() for dependency %s: %w", dep.Name(), err)
			}
		}(dep)
	}

	signal.Notify(a.osSignalChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-runCtx.Done():
		log.Info().Msg("App context cancelled: shutting down")
	case depErr := <-a.depFailChan:
		log.Error().Err(depErr).Msg("Dependency failed")
	case sig := <-a.osSignalChan:
		log.Info().Msg("OS signal received: " + sig.String() + ", shutdown beginning")
	}

	signal.Stop(a.osSignalChan)
	if err := a.stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping application")
		return err
	}

	return nil
}

// stop attempts a graceful shutdown of each dependency, bounded by the
// configured timeout.
func (a *App) stop() error {
	if !a.stopCalled.CompareAndSwap(false, true) {
		return errors.New("stop has already been called")
	}

	done := make(chan struct{})
	var errs []error

	go func() {
		defer close(done)
		for _, dep := range a.deps {
			log.Info().Msg("Stopping dependency: " + dep.Name())
			if err := dep.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failure in Stop() for dependency %s: %w", dep.Name(), err))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(a.stopTimeout):
		errs = append(errs, fmt.Errorf("shutdown timed out after %s", a.stopTimeout))
	}

	return errors.Join(errs...)
}
