package events_test

import (
	"testing"
	"time"

	"github.com/weftworks/weft/internal/events"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := events.NewBus()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(&events.AgentRegistered{AgentID: "a"})

	for i, ch := range []<-chan events.Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Kind() != events.KindAgentRegistered {
				t.Errorf("sub %d: kind = %s", i, e.Kind())
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event delivered", i)
		}
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := events.NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	// Channel is closed after cancel.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish(&events.AgentUnregistered{AgentID: "a"})
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := events.NewBus()
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer without draining.
	for i := 0; i < 300; i++ {
		b.Publish(&events.AgentHeartbeat{AgentID: "a", At: time.Now()})
	}
	if b.Dropped() == 0 {
		t.Error("expected dropped events when subscriber buffer is full")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := events.NewBus()
	ch, _ := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after bus Close")
	}
}
