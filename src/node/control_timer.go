package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer drives the periodic work of a node: membership and DKG
// timeouts, gossip and join retries. It ticks every interval until it is
// stopped or reset.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to change the interval
	stopCh       chan struct{}      //receives instruction to stop ticking
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer returns a timer whose ticks are spread by up to a
// quarter of the interval, so that nodes started together do not gossip in
// lockstep.
func NewRandomControlTimer() *ControlTimer {

	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := time.Duration(rand.Int63()) % (min/4 + 1)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run ticks every interval until Shutdown is called.
func (c *ControlTimer) Run(interval time.Duration) {
	timer := c.timerFactory(interval)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
			timer = c.timerFactory(interval)
		case t := <-c.resetCh:
			interval = t
			timer = c.timerFactory(interval)
		case <-c.stopCh:
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// Shutdown stops the Run loop.
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
