package eventbus

import (
	"context"

	"github.com/kilianp07/depannage/core/events"
)

// EventBus carries core events between components.
type EventBus interface {
	Publish(events.Event)
	Subscribe() <-chan events.Event
	SubscribeFilter(func(events.Event) bool) <-chan events.Event
	Unsubscribe(<-chan events.Event)
	Close()
}

// New creates the default event bus.
func New() *TypedBus[events.Event] { return NewTyped[events.Event]() }

// Notifier publishes on the bus, so the bus can sit behind events.Notifier.
type Notifier struct {
	Bus EventBus
}

func (n Notifier) Notify(_ context.Context, ev events.Event) error {
	if n.Bus != nil {
		n.Bus.Publish(ev)
	}
	return nil
}
