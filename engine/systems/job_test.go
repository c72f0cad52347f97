package systems

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func newTestScheduler(t *testing.T, workers int) *StrandScheduler {
	t.Helper()
	s, err := NewStrandScheduler(workers)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func waitIdle(t *testing.T, s *StrandScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("scheduler did not become idle: %v", err)
	}
}

func TestNewStrandSchedulerWorkers(t *testing.T) {
	if _, err := NewStrandScheduler(-1); !errors.Is(err, core.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage for negative workers, got %v", err)
	}
	s := newTestScheduler(t, 32)
	if s.Workers() != MaxWorkers {
		t.Fatalf("expected workers to be clamped to %d, got %d", MaxWorkers, s.Workers())
	}
}

func TestSchedulerStrandExclusion(t *testing.T) {
	s := newTestScheduler(t, 4)

	var active, maxActive atomic.Int32
	var unstranded atomic.Int32
	for i := 0; i < 40; i++ {
		s.Post(func() metadata.Result {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return metadata.ResultNone()
		}, nil, 7)
		s.Post(func() metadata.Result {
			unstranded.Add(1)
			return metadata.ResultNone()
		}, nil, metadata.StrandNone)
	}
	waitIdle(t, s)

	if got := maxActive.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent item on strand 7, got %d", got)
	}
	if got := unstranded.Load(); got != 40 {
		t.Fatalf("expected 40 unstranded items to run, got %d", got)
	}
}

// 100 unstranded items are all delivered by one drain, each handler once.
func TestSchedulerDrainDeliversEveryCompletionOnce(t *testing.T) {
	s := newTestScheduler(t, 4)

	var calls [100]int
	for i := 0; i < 100; i++ {
		i := i
		s.Post(
			func() metadata.Result { return metadata.ResultInts(int32(i), 0) },
			func(r metadata.Result) {
				a, _, ok := r.Ints()
				if !ok || int(a) != i {
					t.Errorf("handler %d got result %v", i, r.Kind())
				}
				calls[i]++
			},
			metadata.StrandNone,
		)
	}
	waitIdle(t, s)

	if n := s.Drain(); n != 100 {
		t.Fatalf("expected 100 handlers, got %d", n)
	}
	for i, n := range calls {
		if n != 1 {
			t.Errorf("handler %d ran %d times", i, n)
		}
	}
	if n := s.Drain(); n != 0 {
		t.Fatalf("expected a second drain to find nothing, got %d", n)
	}
}

// On one strand a slow item posted first still completes first.
func TestSchedulerStrandCompletionOrder(t *testing.T) {
	s := newTestScheduler(t, 4)

	var order []string
	s.Post(
		func() metadata.Result { time.Sleep(50 * time.Millisecond); return metadata.ResultNone() },
		func(metadata.Result) { order = append(order, "A") },
		5,
	)
	s.Post(
		func() metadata.Result { return metadata.ResultNone() },
		func(metadata.Result) { order = append(order, "B") },
		5,
	)
	waitIdle(t, s)
	s.Drain()

	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected [A B], got %v", order)
	}
}

func TestSchedulerEmptyDrain(t *testing.T) {
	s := newTestScheduler(t, 2)

	done := make(chan int)
	go func() { done <- s.Drain() }()
	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("expected 0 handlers, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("empty drain blocked")
	}
}

func TestSchedulerZeroWorkersIsSink(t *testing.T) {
	s := newTestScheduler(t, 0)

	var ran atomic.Bool
	s.Post(func() metadata.Result { ran.Store(true); return metadata.ResultNone() }, func(metadata.Result) {
		t.Error("completion must not run")
	}, 3)
	waitIdle(t, s)

	if s.Outstanding(metadata.StrandNone) != 0 {
		t.Fatalf("expected nothing outstanding, got %d", s.Outstanding(metadata.StrandNone))
	}
	if n := s.Drain(); n != 0 || ran.Load() {
		t.Fatalf("expected the post to be dropped, drain = %d, ran = %t", n, ran.Load())
	}
}

func TestSchedulerNilActionIsNoop(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Post(nil, func(metadata.Result) { t.Error("completion must not run") }, 0)
	if s.Outstanding(metadata.StrandNone) != 0 {
		t.Fatal("expected a nil action to queue nothing")
	}
}

func TestSchedulerCancelPending(t *testing.T) {
	s := newTestScheduler(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	s.Post(func() metadata.Result {
		close(started)
		<-release
		return metadata.ResultNone()
	}, func(metadata.Result) {}, 2)
	for i := 0; i < 10; i++ {
		s.Post(func() metadata.Result { ran.Add(1); return metadata.ResultNone() }, func(metadata.Result) {}, 2)
	}
	<-started

	if got := s.Outstanding(2); got != 11 {
		t.Fatalf("expected 11 outstanding items on strand 2, got %d", got)
	}
	if n := s.CancelPending(); n != 10 {
		t.Fatalf("expected 10 cancelled items, got %d", n)
	}
	if got := s.Outstanding(2); got != 1 {
		t.Fatalf("expected the running item to stay outstanding, got %d", got)
	}
	close(release)
	waitIdle(t, s)

	if n := s.Drain(); n != 1 {
		t.Fatalf("expected only the running item to complete, got %d", n)
	}
	if ran.Load() != 0 {
		t.Fatalf("expected cancelled items not to run, %d ran", ran.Load())
	}
}

func TestSchedulerShutdown(t *testing.T) {
	s, err := NewStrandScheduler(1)
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	var ran atomic.Int32
	s.Post(func() metadata.Result {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return metadata.ResultFloat(1.5)
	}, func(r metadata.Result) {
		if f, ok := r.Float(); !ok || f != 1.5 {
			t.Errorf("unexpected result %v", r.Kind())
		}
	}, 0)
	for i := 0; i < 5; i++ {
		s.Post(func() metadata.Result { ran.Add(1); return metadata.ResultNone() }, nil, 0)
	}
	<-started

	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if n := s.Drain(); n != 1 {
		t.Fatalf("expected the finished completion to stay drainable, got %d", n)
	}
	if ran.Load() != 0 {
		t.Fatalf("expected queued items to be discarded, %d ran", ran.Load())
	}
	if err := s.Shutdown(); !errors.Is(err, core.ErrShutdown) {
		t.Fatalf("expected ErrShutdown on a second shutdown, got %v", err)
	}

	if err := s.Post(func() metadata.Result { ran.Add(1); return metadata.ResultNone() }, nil, 0); !errors.Is(err, core.ErrShutdown) {
		t.Fatalf("expected ErrShutdown from a post after shutdown, got %v", err)
	}
	if s.Outstanding(metadata.StrandNone) != 0 {
		t.Fatal("expected posts after shutdown to be dropped")
	}
}

type countingReleaser struct {
	released atomic.Int32
}

func (c *countingReleaser) Release() {
	c.released.Add(1)
}

func TestSchedulerReleasesUntakenOwnedResults(t *testing.T) {
	s := newTestScheduler(t, 2)

	dropped := &countingReleaser{}
	s.Post(func() metadata.Result { return metadata.ResultOwned(dropped) }, nil, 0)

	discarded := &countingReleaser{}
	s.Post(func() metadata.Result { return metadata.ResultOwned(discarded) }, func(metadata.Result) {
		t.Error("discarded completion must not run")
	}, 0)
	waitIdle(t, s)

	if n := s.DiscardCompletions(); n != 1 {
		t.Fatalf("expected 1 discarded completion, got %d", n)
	}
	if dropped.released.Load() != 1 {
		t.Fatalf("expected an owned result without completion to be released once, got %d", dropped.released.Load())
	}
	if discarded.released.Load() != 1 {
		t.Fatalf("expected a discarded owned result to be released once, got %d", discarded.released.Load())
	}
}

func TestSchedulerRecoversPanickingAction(t *testing.T) {
	s := newTestScheduler(t, 1)

	var got error
	s.Post(func() metadata.Result { panic("boom") }, func(r metadata.Result) { got = r.Err() }, 0)
	waitIdle(t, s)
	s.Drain()

	if got == nil {
		t.Fatal("expected a failed result from a panicking action")
	}
}

func TestSchedulerRejectsReentrantDrain(t *testing.T) {
	s := newTestScheduler(t, 1)

	inner := -1
	s.Post(func() metadata.Result { return metadata.ResultNone() }, func(metadata.Result) {
		inner = s.Drain()
	}, 0)
	waitIdle(t, s)

	if n := s.Drain(); n != 1 {
		t.Fatalf("expected 1 handler, got %d", n)
	}
	if inner != 0 {
		t.Fatalf("expected the nested drain to be rejected with 0, got %d", inner)
	}
}

func TestSchedulerWaitIdleHonorsContext(t *testing.T) {
	s := newTestScheduler(t, 1)

	release := make(chan struct{})
	var once sync.Once
	defer once.Do(func() { close(release) })
	s.Post(func() metadata.Result { <-release; return metadata.ResultNone() }, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	once.Do(func() { close(release) })
	waitIdle(t, s)
}
