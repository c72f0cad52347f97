package containers

import "testing"

func TestRingQueueFIFOAndGrowth(t *testing.T) {
	rq := NewRingQueue[int](2)
	for i := 0; i < 5; i++ {
		rq.Enqueue(i)
	}
	if rq.Len() != 5 {
		t.Fatalf("Expected 5 elements, got %d", rq.Len())
	}
	for i := 0; i < 5; i++ {
		v, err := rq.Dequeue()
		if err != nil || v != i {
			t.Fatalf("Expected %d, got %d (%v)", i, v, err)
		}
	}
	if _, err := rq.Dequeue(); err != ErrQueueEmpty {
		t.Errorf("Expected ErrQueueEmpty, got %v", err)
	}
}

func TestRingQueueTakeFirstKeepsOrder(t *testing.T) {
	rq := NewRingQueue[int](4)
	// Wrap the ring around before taking from the middle.
	rq.Enqueue(100)
	rq.Enqueue(101)
	rq.Dequeue()
	rq.Dequeue()
	for i := 1; i <= 4; i++ {
		rq.Enqueue(i)
	}

	v, ok := rq.TakeFirst(func(x int) bool { return x%2 == 0 })
	if !ok || v != 2 {
		t.Fatalf("Expected to take 2, got %d (%v)", v, ok)
	}
	if _, ok := rq.TakeFirst(func(x int) bool { return x > 10 }); ok {
		t.Error("Expected no match")
	}

	var got []int
	rq.Each(func(x int) { got = append(got, x) })
	want := []int{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
	rq.Enqueue(5)
	if n := rq.Clear(); n != 4 {
		t.Errorf("Expected to clear 4 elements, got %d", n)
	}
	if !rq.IsEmpty() {
		t.Error("Expected queue to be empty after Clear")
	}
}
