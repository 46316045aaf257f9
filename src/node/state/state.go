package state

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// State captures the state of a node: Joining, Running, Relocating, Leaving
// or Shutdown.
type State uint32

const (
	// Joining is the state in which a node submits join requests to the
	// section its name belongs to, and answers resource challenges, until a
	// membership decision admits it.
	Joining State = iota

	// Running is the state of a member of a section. Elders vote on
	// membership, run DKG sessions and serve client data.
	Running

	// Relocating is the state in which a node that was relocated by its
	// section asks its destination section to admit it under a new name.
	Relocating

	// Leaving is the state in which a node asks its elders to vote it out
	// before shutting down.
	Leaving

	// Shutdown is the state in which a node stops responding to external
	// events and closes its transport.
	Shutdown
)

// WGLIMIT is the maximum number of goroutines that can run at the same time
// through Manager.GoFunc.
const WGLIMIT = 256

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Running:
		return "Running"
	case Relocating:
		return "Relocating"
	case Leaving:
		return "Leaving"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods. It is also used to limit the
// number of goroutines launched by the node, and to wait for all of them to
// complete.
type Manager struct {
	state State
	wg    sync.WaitGroup
	once  sync.Once
	sem   *semaphore.Weighted
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// GoFunc launches a goroutine for a given function once fewer than WGLIMIT
// are running. It blocks until a slot frees up or ctx is done, in which case
// f is not run and the context error is returned.
func (b *Manager) GoFunc(ctx context.Context, f func()) error {
	b.once.Do(func() { b.sem = semaphore.NewWeighted(WGLIMIT) })
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.sem.Release(1)
		f()
	}()
	return nil
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (b *Manager) WaitRoutines() {
	b.wg.Wait()
}
