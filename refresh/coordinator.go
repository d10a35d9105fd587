// Package refresh serializes token refreshes on the client side. However many
// callers hit an expired access token at once, exactly one refresh request
// goes out; everyone else waits for its result.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionLost means the refresh itself was rejected. The session is gone
// and the caller must re-authenticate.
var ErrSessionLost = errors.New("session lost, re-authentication required")

// RefreshFunc performs the actual refresh round trip.
type RefreshFunc func(ctx context.Context) error

// Config configures a Coordinator.
type Config struct {
	// Refresh is called once per refresh cycle. Required.
	Refresh RefreshFunc

	// OnSessionLost fires after a failed refresh rejects the queued waiters.
	OnSessionLost func(err error)

	// MaxWait optionally bounds how long a waiter blocks on an in-flight
	// refresh. Zero means wait indefinitely; there is no timeout on the
	// refresh call itself beyond what Refresh's context enforces.
	MaxWait time.Duration
}

// Coordinator is a single-flight gate around a refresh operation. The first
// caller to Do while idle becomes the leader and runs the refresh; callers
// arriving while a refresh is in flight queue and receive the leader's
// result, each exactly once.
type Coordinator struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []chan error

	cfg Config
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Refresh == nil {
		return nil, errors.New("refresh: Refresh func is required")
	}
	return &Coordinator{cfg: cfg}, nil
}

// Do runs or joins a refresh cycle and returns its outcome. A failed cycle
// returns ErrSessionLost (wrapping the cause) to the leader and every queued
// waiter.
func (c *Coordinator) Do(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan error, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		return c.wait(ctx, ch)
	}
	c.refreshing = true
	c.mu.Unlock()

	err := c.cfg.Refresh(ctx)
	if err != nil {
		err = errors.Join(ErrSessionLost, err)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}

	if err != nil && c.cfg.OnSessionLost != nil {
		c.cfg.OnSessionLost(err)
	}

	return err
}

func (c *Coordinator) wait(ctx context.Context, ch chan error) error {
	var timeout <-chan time.Time
	if c.cfg.MaxWait > 0 {
		timer := time.NewTimer(c.cfg.MaxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return context.DeadlineExceeded
	}
}

// Refreshing reports whether a refresh is currently in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}
