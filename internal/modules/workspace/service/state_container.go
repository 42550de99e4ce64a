package service

import (
	"context"
	"sync"

	"pocus/internal/modules/workspace/domain"
	"pocus/internal/modules/workspace/dto"
)

// StateContainer owns the workspace state. Mutations go through Update and
// friends and are never held across a network call.
//
// The epoch changes whenever the session ends, so a result computed for an
// earlier session can be recognised and dropped.
type StateContainer struct {
	mu     sync.Mutex
	state  domain.State
	epoch  uint64
	nextID int
	subs   map[int]chan dto.Snapshot
}

func NewStateContainer() *StateContainer {
	return &StateContainer{state: domain.Initial(), subs: map[int]chan dto.Snapshot{}}
}

func (c *StateContainer) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Read returns a copy of the state and the epoch it belongs to.
func (c *StateContainer) Read() (domain.State, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone(), c.epoch
}

func (c *StateContainer) Update(fn func(*domain.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.notifyLocked()
}

// UpdateIf applies fn only while epoch is still current.
func (c *StateContainer) UpdateIf(epoch uint64, fn func(*domain.State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	fn(&c.state)
	c.notifyLocked()
	return true
}

// Reset starts a new epoch and applies fn to the state.
func (c *StateContainer) Reset(fn func(*domain.State)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	fn(&c.state)
	c.notifyLocked()
	return c.epoch
}

func (c *StateContainer) Subscribe(ctx context.Context) <-chan dto.Snapshot {
	ch := make(chan dto.Snapshot, 1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- dto.NewSnapshot(c.state)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}()
	return ch
}

// Close ends every subscription.
func (c *StateContainer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// notifyLocked keeps at most one pending snapshot per subscriber, the newest.
func (c *StateContainer) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := dto.NewSnapshot(c.state)
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
