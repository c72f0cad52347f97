package core

import "testing"

func TestEventSystemFireStopsAtHandler(t *testing.T) {
	es := NewEventSystem()
	defer es.Shutdown()

	var calls []string
	first, second := "first", "second"
	es.Register(EventCodeResized, first, func(ctx EventContext) bool {
		calls = append(calls, first)
		return true
	})
	es.Register(EventCodeResized, second, func(ctx EventContext) bool {
		calls = append(calls, second)
		return false
	})

	if !es.Fire(EventContext{Type: EventCodeResized, Data: &ResizeEvent{Width: 10, Height: 20}}) {
		t.Fatal("Expected the event to be handled")
	}
	if len(calls) != 1 || calls[0] != first {
		t.Errorf("Expected only the first listener to run, got %v", calls)
	}
}

func TestEventSystemDuplicateListener(t *testing.T) {
	es := NewEventSystem()
	listener := &struct{}{}
	fn := func(ctx EventContext) bool { return false }

	if !es.Register(EventCodeApplicationQuit, listener, fn) {
		t.Fatal("Expected first registration to succeed")
	}
	if es.Register(EventCodeApplicationQuit, listener, fn) {
		t.Error("Expected duplicate registration to fail")
	}
	if !es.Unregister(EventCodeApplicationQuit, listener) {
		t.Error("Expected unregister to succeed")
	}
	if es.Fire(EventContext{Type: EventCodeApplicationQuit}) {
		t.Error("Expected no listener after unregister")
	}
}

func TestKeyPoolReusesLowestKey(t *testing.T) {
	kp := NewKeyPool()
	a := kp.Acquire("a")
	b := kp.Acquire("b")
	c := kp.Acquire(nil)
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("Expected keys 0,1,2, got %d,%d,%d", a, b, c)
	}
	if err := kp.Release(b); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := kp.Acquire("d"); got != b {
		t.Errorf("Expected released key %d to be reused, got %d", b, got)
	}
	if err := kp.Release(42); err == nil {
		t.Error("Expected an error for an out of range key")
	}
}

func TestMetricsCountsDrainedCompletions(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016, 2)
	}
	total, last := m.Drained()
	if total != uint64(2*int(AVG_COUNT)) || last != 2 {
		t.Errorf("Expected %d total and 2 last, got %d and %d", 2*int(AVG_COUNT), total, last)
	}
	if ft := m.FrameTime(); ft < 15.9 || ft > 16.1 {
		t.Errorf("Expected ~16ms average frame time, got %f", ft)
	}
}
