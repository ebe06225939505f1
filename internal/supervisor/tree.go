// Package supervisor runs the long-lived processes (HTTP server, retry
// scheduler, event workers) under a suture tree that restarts them on failure.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	defaults := DefaultTreeConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.FailureDecay <= 0 {
		c.FailureDecay = defaults.FailureDecay
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = defaults.FailureBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return c
}

// Tree has two layers. api holds the HTTP server and dispatch holds the retry
// scheduler and event workers.
type Tree struct {
	root     *suture.Supervisor
	api      *suture.Supervisor
	dispatch *suture.Supervisor
}

func NewTree(cfg TreeConfig, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logger)

	root := suture.New("notification-engine", rootSpec)
	api := suture.New("api", spec)
	dispatch := suture.New("dispatch", spec)
	root.Add(api)
	root.Add(dispatch)

	return &Tree{root: root, api: api, dispatch: dispatch}
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddDispatchService(svc suture.Service) suture.ServiceToken {
	return t.dispatch.Add(svc)
}

// Serve blocks until ctx is cancelled or the tree gives up.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// EventHook logs supervisor events with zap.
func EventHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch ev := e.(type) {
		case suture.EventServicePanic:
			logger.Error("supervised service panicked",
				zap.String("supervisor", ev.SupervisorName),
				zap.String("service", ev.ServiceName),
				zap.String("panic", ev.PanicMsg),
				zap.Float64("failures", ev.CurrentFailures),
				zap.Bool("restarting", ev.Restarting),
			)
		case suture.EventServiceTerminate:
			logger.Error("supervised service terminated",
				zap.String("supervisor", ev.SupervisorName),
				zap.String("service", ev.ServiceName),
				zap.String("error", fmt.Sprint(ev.Err)),
				zap.Float64("failures", ev.CurrentFailures),
				zap.Bool("restarting", ev.Restarting),
			)
		case suture.EventBackoff:
			logger.Warn("supervisor entering backoff", zap.String("supervisor", ev.SupervisorName))
		case suture.EventResume:
			logger.Info("supervisor resumed", zap.String("supervisor", ev.SupervisorName))
		case suture.EventStopTimeout:
			logger.Warn("supervised service did not stop in time",
				zap.String("supervisor", ev.SupervisorName),
				zap.String("service", ev.ServiceName),
			)
		default:
			logger.Info("supervisor event", zap.String("event", e.String()))
		}
	}
}

// Func adapts a blocking start function to suture.Service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error {
	return f.Run(ctx)
}

func (f Func) String() string { return f.Name }
