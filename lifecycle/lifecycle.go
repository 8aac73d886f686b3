// Package lifecycle starts the long-running parts of the service in
// registration order and stops them in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Component is a long-running part of the service (HTTP server, consumer, scheduler).
type Component interface {
	// Name identifies the component in logs and must be unique within a Manager.
	Name() string

	// Start brings the component up. It must not block for the component's lifetime.
	Start(ctx context.Context) error

	// Stop releases the component's resources, honouring ctx's deadline.
	Stop(ctx context.Context) error
}

var (
	ErrAlreadyRegistered = errors.New("component name is already registered")
	ErrStarted           = errors.New("components already started")
)

// Hooks adapts a pair of functions into a Component. Either may be nil.
type Hooks struct {
	ID      string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Name() string { return h.ID }

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

var _ Component = Hooks{}

func wrapErr(action, name string, err error) error {
	return fmt.Errorf("failed to %s component %s: %w", action, name, err)
}
