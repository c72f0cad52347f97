package systems

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// MaxWorkers is the upper bound of the worker pool.
const MaxWorkers = 8

var ErrNegativeWorkers = fmt.Errorf("%w: attempting to create worker pool with a negative number of workers", core.ErrInvalidUsage)

type strandHolder struct {
	worker int
	count  int
}

// StrandScheduler runs posted work on a fixed pool of workers. Items sharing
// a nonzero strand never run concurrently. Completions are not called by the
// workers: they are buffered until the owning thread calls Drain.
type StrandScheduler struct {
	numWorkers int
	wg         sync.WaitGroup

	// guards everything below up to the completion buffers
	mu          sync.Mutex
	cond        *sync.Cond
	queue       *containers.RingQueue[metadata.WorkItem]
	holders     map[metadata.Strand]*strandHolder
	outstanding map[metadata.Strand]int
	total       int
	closed      bool

	completionsMu sync.Mutex
	completions   []metadata.CompletionRecord
	// only touched by Drain
	spare    []metadata.CompletionRecord
	draining atomic.Bool
}

// NewStrandScheduler starts min(workers, MaxWorkers) workers. Zero workers is
// legal and turns Post into a no-op sink.
func NewStrandScheduler(workers int) (*StrandScheduler, error) {
	if workers < 0 {
		return nil, ErrNegativeWorkers
	}
	if workers > MaxWorkers {
		core.LogWarn("%d workers requested, clamping to %d", workers, MaxWorkers)
		workers = MaxWorkers
	}
	s := &StrandScheduler{
		numWorkers:  workers,
		queue:       containers.NewRingQueue[metadata.WorkItem](64),
		holders:     make(map[metadata.Strand]*strandHolder),
		outstanding: make(map[metadata.Strand]int),
	}
	s.cond = sync.NewCond(&s.mu)
	s.start()
	core.LogDebug("strand scheduler started with %d workers", workers)
	return s, nil
}

func (s *StrandScheduler) start() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *StrandScheduler) Workers() int {
	return s.numWorkers
}

/**
 * @brief Queues work and returns immediately.
 * @param action The work to perform. A nil action makes the call a no-op.
 * @param completion Called with the result during a later Drain. Optional.
 * @param strand The strand the work is bound to. 0 means unstranded.
 * @returns An error wrapping core.ErrShutdown once the scheduler is shut down;
 * the work is dropped and completion is never called.
 */
func (s *StrandScheduler) Post(action metadata.JobAction, completion metadata.JobOnComplete, strand metadata.Strand) error {
	if action == nil || s.numWorkers == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		err := fmt.Errorf("%w: post on strand %d after shutdown", core.ErrShutdown, strand)
		core.LogWarn(err.Error())
		return err
	}
	s.queue.Enqueue(metadata.WorkItem{Action: action, Completion: completion, Strand: strand})
	s.outstanding[strand]++
	s.total++
	s.cond.Broadcast()
	return nil
}

// eligible must be called with mu held.
func (s *StrandScheduler) eligible(strand metadata.Strand, worker int) bool {
	if strand == metadata.StrandNone {
		return true
	}
	h, ok := s.holders[strand]
	return !ok || h.worker == worker
}

func (s *StrandScheduler) worker(id int) {
	defer s.wg.Done()

	s.mu.Lock()
	for {
		var item metadata.WorkItem
		for {
			if s.closed {
				s.mu.Unlock()
				return
			}
			var ok bool
			item, ok = s.queue.TakeFirst(func(w metadata.WorkItem) bool {
				return s.eligible(w.Strand, id)
			})
			if ok {
				break
			}
			s.cond.Wait()
		}
		if item.Strand != metadata.StrandNone {
			h, ok := s.holders[item.Strand]
			if !ok {
				h = &strandHolder{worker: id}
				s.holders[item.Strand] = h
			}
			h.count++
		}
		s.mu.Unlock()

		result := s.run(item)
		// The record goes in before the strand is released, so the next item
		// of the strand cannot complete ahead of this one.
		s.complete(item, result)

		s.mu.Lock()
		if item.Strand != metadata.StrandNone {
			h := s.holders[item.Strand]
			h.count--
			if h.count == 0 {
				delete(s.holders, item.Strand)
			}
		}
		s.finishLocked(item.Strand, 1)
		s.cond.Broadcast()
	}
}

func (s *StrandScheduler) run(item metadata.WorkItem) (result metadata.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: job on strand %d panicked: %v", core.ErrUnknown, item.Strand, r)
			core.LogError(err.Error())
			result = metadata.ResultFailed(err)
		}
	}()
	return item.Action()
}

func (s *StrandScheduler) complete(item metadata.WorkItem, result metadata.Result) {
	if item.Completion == nil {
		result.Release()
		return
	}
	s.completionsMu.Lock()
	s.completions = append(s.completions, metadata.CompletionRecord{Handler: item.Completion, Result: result})
	s.completionsMu.Unlock()
}

// finishLocked must be called with mu held.
func (s *StrandScheduler) finishLocked(strand metadata.Strand, n int) {
	s.outstanding[strand] -= n
	if s.outstanding[strand] <= 0 {
		delete(s.outstanding, strand)
	}
	s.total -= n
}

/**
 * @brief Runs every buffered completion on the calling goroutine, in the
 * order the workers produced them. Must only be called by the owning thread.
 * @returns The number of handlers invoked.
 */
func (s *StrandScheduler) Drain() int {
	if !s.draining.CompareAndSwap(false, true) {
		core.LogWarn("drain called while another drain is running, ignored")
		return 0
	}
	defer s.draining.Store(false)

	s.completionsMu.Lock()
	batch := s.completions
	s.completions = s.spare[:0]
	s.completionsMu.Unlock()

	for i := range batch {
		batch[i].Handler(batch[i].Result)
		batch[i] = metadata.CompletionRecord{}
	}
	s.spare = batch[:0]
	return len(batch)
}

// DiscardCompletions drops buffered completions without calling them,
// releasing any owned result. Used when nobody is left to drain.
func (s *StrandScheduler) DiscardCompletions() int {
	s.completionsMu.Lock()
	batch := s.completions
	s.completions = nil
	s.completionsMu.Unlock()
	for _, rec := range batch {
		rec.Result.Release()
	}
	return len(batch)
}

// CancelPending drops every item that has not started yet. Running items
// finish normally.
func (s *StrandScheduler) CancelPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discardLocked()
}

func (s *StrandScheduler) discardLocked() int {
	s.queue.Each(func(w metadata.WorkItem) {
		s.finishLocked(w.Strand, 1)
	})
	n := s.queue.Clear()
	if n > 0 {
		s.cond.Broadcast()
	}
	return n
}

// Outstanding returns the number of queued and running items of strand.
// Strand 0 reports the total over every strand.
func (s *StrandScheduler) Outstanding(strand metadata.Strand) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strand == metadata.StrandNone {
		return s.total
	}
	return s.outstanding[strand]
}

// WaitIdle blocks until nothing is queued or running, or ctx is done. It is
// meant for tests and teardown, never for the frame loop.
func (s *StrandScheduler) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.total > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

/**
 * @brief Shuts the scheduler down. Queued items are discarded and the call
 * blocks until running items finish. Completions already produced stay
 * available to Drain.
 */
func (s *StrandScheduler) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrShutdown
	}
	s.closed = true
	if n := s.discardLocked(); n > 0 {
		core.LogDebug("strand scheduler discarded %d queued items", n)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
