package metadata

import (
	"sync"
	"time"
)

// Fence is signalled by a backend once submitted work has completed.
type Fence struct {
	once sync.Once
	done chan struct{}
}

func NewFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

// Signal marks the fence as signalled. Extra calls are ignored.
func (f *Fence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// Wait blocks until the fence is signalled or timeout elapses. A negative
// timeout waits forever.
func (f *Fence) Wait(timeout time.Duration) bool {
	if f == nil {
		return true
	}
	if timeout < 0 {
		<-f.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

func (f *Fence) Signaled() bool {
	if f == nil {
		return true
	}
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
