// Package access holds the authorized-principal set checked at entry to
// every privileged operation. It is deliberately kept outside the core
// engine: the ledger and auction packages never consult it directly.
package access

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("access: principal not authorized")

// Controller tracks the set of admin principals.
type Controller struct {
	mu     sync.RWMutex
	admins map[uuid.UUID]bool
}

// NewController creates a controller with a single root admin.
func NewController(root uuid.UUID) *Controller {
	return &Controller{
		admins: map[uuid.UUID]bool{root: true},
	}
}

// Require returns ErrUnauthorized unless principal is an admin.
func (c *Controller) Require(principal uuid.UUID) error {
	c.mu.RLock()
	ok := c.admins[principal]
	c.mu.RUnlock()

	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// AddAdmin grants admin rights to a new principal. Caller must be an admin.
func (c *Controller) AddAdmin(caller, newAdmin uuid.UUID) error {
	if err := c.Require(caller); err != nil {
		return err
	}

	c.mu.Lock()
	c.admins[newAdmin] = true
	c.mu.Unlock()
	return nil
}

// IsAdmin reports whether principal is an admin.
func (c *Controller) IsAdmin(principal uuid.UUID) bool {
	return c.Require(principal) == nil
}
