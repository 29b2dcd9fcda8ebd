// Package driver is a narrow port in front of the container engine. The pool
// only ever talks to the engine through this interface, which keeps the pool
// testable against fakes and the engine swappable.
package driver

import (
	"context"
	"errors"
	"fmt"
)

type CreateOptions struct {
	Image   string
	Name    string
	Network string
	Labels  map[string]string
	Env     []string

	MemoryBytes int64
	CPUShares   int64
}

type Driver interface {
	// Create creates (but does not start) a container and returns its ID.
	Create(ctx context.Context, opts CreateOptions) (string, error)
	// Start starts a created container.
	Start(ctx context.Context, containerID string) error
	// Stop stops a running container.
	Stop(ctx context.Context, containerID string) error
	// Remove force-deletes a container. Removing a container that no longer
	// exists is not an error.
	Remove(ctx context.Context, containerID string) error
	// ListManaged returns the IDs of all containers bearing the management label.
	ListManaged(ctx context.Context) ([]string, error)
	// Close releases the engine connection.
	Close() error
}

// CreateError wraps an engine failure during container creation. Retryable
// failures (engine transients) may be attempted again with backoff; fatal
// ones (image missing, quota exceeded) must not.
type CreateError struct {
	Retryable bool
	Err       error
}

func (e *CreateError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("container creation failed (%s): %v", kind, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var ce *CreateError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
