package node

import (
	"testing"
	"time"
)

func TestControlTimerTicks(t *testing.T) {
	timer := NewRandomControlTimer()
	go timer.Run(10 * time.Millisecond)
	defer timer.Shutdown()

	for i := 0; i < 3; i++ {
		select {
		case <-timer.tickCh:
		case <-time.After(time.Second):
			t.Fatalf("tick %d did not come", i)
		}
	}
}

func TestControlTimerStop(t *testing.T) {
	timer := NewRandomControlTimer()
	go timer.Run(10 * time.Millisecond)
	defer timer.Shutdown()

	<-timer.tickCh
	timer.stopCh <- struct{}{}

	select {
	case <-timer.tickCh:
		t.Fatal("ticked after stop")
	case <-time.After(100 * time.Millisecond):
	}

	timer.resetCh <- 10 * time.Millisecond
	select {
	case <-timer.tickCh:
	case <-time.After(time.Second):
		t.Fatal("no tick after reset")
	}
}
