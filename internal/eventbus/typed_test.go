package eventbus

import (
	"context"
	"testing"

	"github.com/kilianp07/depannage/core/events"
)

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[string]()
	ch := bus.Subscribe()
	bus.Publish("hello")
	v := <-ch
	if v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
}

func TestTypedBusUnsubscribeAfterClose(t *testing.T) {
	bus := NewTyped[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}

func TestTypedBusDropsOnFullBuffer(t *testing.T) {
	bus := NewTypedWithBuffer[int](1)
	ch := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2)
	if got := <-ch; got != 1 {
		t.Fatalf("expected first event got %d", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 drop got %d", bus.Dropped())
	}
}

func TestBusFilter(t *testing.T) {
	bus := New()
	accepted := bus.SubscribeFilter(func(e events.Event) bool {
		_, ok := e.(events.DemandeAccepted)
		return ok
	})
	n := Notifier{Bus: bus}
	_ = n.Notify(context.Background(), events.ClaimRejected{DemandeID: "d1"})
	_ = n.Notify(context.Background(), events.DemandeAccepted{DemandeID: "d1"})
	ev := <-accepted
	if ev.(events.DemandeAccepted).DemandeID != "d1" {
		t.Fatalf("unexpected event %#v", ev)
	}
	select {
	case extra := <-accepted:
		t.Fatalf("filter leaked %#v", extra)
	default:
	}
}
