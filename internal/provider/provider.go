// Package provider defines the capability the scheduler needs from a cloud
// provider: enumerate opt-in instances, read power state, and issue start/stop
// requests. Implementations live in subpackages (ec2).
package provider

import (
	"context"
	"errors"
)

// PowerState is the small normalized view of an instance's lifecycle state.
// Provider-specific transitional states must map onto Pending/Stopping.
type PowerState string

const (
	StatePending  PowerState = "pending"
	StateRunning  PowerState = "running"
	StateStopping PowerState = "stopping"
	StateStopped  PowerState = "stopped"
	StateUnknown  PowerState = "unknown"
)

// Transient reports whether the state is mid-transition. The scheduler never
// issues a second power operation on top of one in flight.
func (s PowerState) Transient() bool {
	return s == StatePending || s == StateStopping
}

var (
	ErrNotFound  = errors.New("instance not found")
	ErrDenied    = errors.New("operation denied")
	ErrTransient = errors.New("transient provider failure")
)

// Provider is the instance control capability consumed by the core.
//
// Start and Stop are fire-and-acknowledge: they return once the provider has
// accepted the request, not once the target state is reached.
type Provider interface {
	// ListControllable returns the identifiers of instances whose opt-in tag
	// is truthy. The result is re-enumerated every call; no cursor state is
	// retained between ticks.
	ListControllable(ctx context.Context) ([]string, error)

	// IsControllable reports whether a single instance carries the opt-in tag.
	IsControllable(ctx context.Context, id string) (bool, error)

	PowerState(ctx context.Context, id string) (PowerState, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}
