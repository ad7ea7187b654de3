// Package shutdown coordinates graceful shutdown requests raised by
// handlers (for example a TOOL run that must stop the agent) and observed
// by the dispatcher.
package shutdown

import (
	"errors"
	"sync"
	"time"

	"actcore/internal/logging"
)

// ErrShuttingDown is returned for work submitted after shutdown was requested.
var ErrShuttingDown = errors.New("shutdown in progress")

// Coordinator records the first shutdown request and broadcasts it.
type Coordinator struct {
	mu          sync.Mutex
	requested   bool
	reason      string
	requestedAt time.Time
	done        chan struct{}
}

// New creates a coordinator.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// RequestShutdown records reason and closes Done. Only the first call wins;
// it reports whether this call was the one that triggered shutdown.
func (c *Coordinator) RequestShutdown(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested {
		logging.Get(logging.CategoryBoot).Debug("Shutdown already requested (%s); ignoring %q", c.reason, reason)
		return false
	}
	c.requested = true
	c.reason = reason
	c.requestedAt = time.Now()
	close(c.done)
	logging.Boot("Shutdown requested: %s", reason)
	return true
}

// IsShutdownRequested reports whether shutdown has been requested.
func (c *Coordinator) IsShutdownRequested() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// Reason returns the first shutdown reason, or "".
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done is closed once shutdown has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
