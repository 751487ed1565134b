package mqtt

import (
	"context"
	"sync"

	"github.com/kilianp07/depannage/core/events"
)

// MockNotifier records notified events. Used in tests and by the
// simulate command.
type MockNotifier struct {
	mu     sync.Mutex
	events []events.Event
	// Fail maps an event kind to the error Notify returns for it.
	Fail map[string]error
}

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{Fail: make(map[string]error)}
}

func (m *MockNotifier) Notify(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[ev.Kind()]; err != nil {
		return err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the delivered events.
func (m *MockNotifier) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

// Count returns how many events of kind were delivered.
func (m *MockNotifier) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}
