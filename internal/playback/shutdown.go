package playback

import (
	"context"
	"sync"
	"sync/atomic"
)

// Drainable is anything with waiters that must be woken on shutdown.
type Drainable interface {
	StartDraining()
}

// Coordinator owns the one-way quit flag for a playback session.
//
// Quit drains every registered queue and buffer, cancels the session
// context and closes Done. Members registered after Quit are drained
// immediately.
type Coordinator struct {
	mu       sync.Mutex
	quitting bool
	reason   string
	members  []Drainable

	quit   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator whose context derives from parent.
// Cancelling parent does not by itself set the quit flag.
func NewCoordinator(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Register adds members to be drained on quit.
func (c *Coordinator) Register(members ...Drainable) {
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		for _, m := range members {
			m.StartDraining()
		}
		return
	}
	c.members = append(c.members, members...)
	c.mu.Unlock()
}

// Quit sets the flag and wakes everything. Only the first call has effect;
// it reports whether this call was the one that quit.
func (c *Coordinator) Quit(reason string) bool {
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		return false
	}
	c.quitting = true
	c.reason = reason
	members := c.members
	c.mu.Unlock()

	c.quit.Store(true)
	c.cancel()
	for _, m := range members {
		m.StartDraining()
	}
	close(c.done)
	return true
}

// IsQuit reports whether Quit has been called.
func (c *Coordinator) IsQuit() bool {
	return c.quit.Load()
}

// Done is closed once every member has been drained.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Reason returns the reason passed to the first Quit.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Context is cancelled by Quit. Blocking decoder I/O should use it.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}
