package core

import "sync"

// System internal event codes. Applications should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EventCodeApplicationQuit EventCode = 0x01
	// Resized/resolution changed from the OS. Data is a *ResizeEvent.
	EventCodeResized EventCode = 0x08
	// The window asked to be presented. Data is nil.
	EventCodePresent EventCode = 0x09

	MaxEventCode EventCode = 0xFF
)

// ResizeEvent carries the new framebuffer size.
type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type EventContext struct {
	Type   EventCode
	Sender interface{}
	Data   interface{}
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventSystem dispatches events synchronously on the firing goroutine.
// Listeners registered for the same code are called in registration order
// until one of them reports the event as handled.
type EventSystem struct {
	mu         sync.RWMutex
	registered map[EventCode][]registeredEvent
}

func NewEventSystem() *EventSystem {
	return &EventSystem{
		registered: make(map[EventCode][]registeredEvent),
	}
}

// Register listens for events with the given code. A listener can only be
// registered once per code; duplicates return false.
func (es *EventSystem) Register(code EventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	for _, e := range es.registered[code] {
		if listener != nil && e.listener == listener {
			LogWarn("event listener already registered for code %d", code)
			return false
		}
	}
	es.registered[code] = append(es.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister stops the listener from receiving events with the given code.
func (es *EventSystem) Unregister(code EventCode, listener interface{}) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	events := es.registered[code]
	for i, e := range events {
		if e.listener == listener {
			es.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends an event to the listeners of its code. Returns true if a
// listener handled it.
func (es *EventSystem) Fire(ctx EventContext) bool {
	es.mu.RLock()
	events := make([]registeredEvent, len(es.registered[ctx.Type]))
	copy(events, es.registered[ctx.Type])
	es.mu.RUnlock()

	for _, e := range events {
		if e.callback(ctx) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

func (es *EventSystem) Shutdown() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	clear(es.registered)
	return nil
}
