package systems

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// noLock is used by registries that are only touched by the owning thread.
type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// registry maps keys to resources of one kind and tracks transient ones so a
// sweep can find them.
type registry[T metadata.Handle] struct {
	lock      sync.Locker
	entries   map[metadata.Key]T
	transient []T
}

func newRegistry[T metadata.Handle](lock sync.Locker) *registry[T] {
	if lock == nil {
		lock = noLock{}
	}
	return &registry[T]{
		lock:    lock,
		entries: make(map[metadata.Key]T),
	}
}

func (r *registry[T]) get(key metadata.Key) (T, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	v, ok := r.entries[key]
	return v, ok
}

// insert registers v under key. When the key is taken the existing resource
// is returned with false and v is left untouched.
func (r *registry[T]) insert(key metadata.Key, v T) (T, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.entries[key]; ok {
		return existing, false
	}
	r.entries[key] = v
	return v, true
}

func (r *registry[T]) track(v T) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.transient = append(r.transient, v)
}

func (r *registry[T]) len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries) + len(r.transient)
}

func (r *registry[T]) each(fn func(T)) {
	r.lock.Lock()
	all := make([]T, 0, len(r.entries)+len(r.transient))
	for _, v := range r.entries {
		all = append(all, v)
	}
	all = append(all, r.transient...)
	r.lock.Unlock()
	for _, v := range all {
		fn(v)
	}
}

// collect removes every resource nobody references and hands it to destroy.
func (r *registry[T]) collect(destroy func(T)) int {
	var victims []T
	r.lock.Lock()
	for key, v := range r.entries {
		if v.Base().Refs() == 0 {
			victims = append(victims, v)
			delete(r.entries, key)
		}
	}
	kept := r.transient[:0]
	for _, v := range r.transient {
		if v.Base().Refs() == 0 {
			victims = append(victims, v)
			continue
		}
		kept = append(kept, v)
	}
	clear(r.transient[len(kept):])
	r.transient = kept
	r.lock.Unlock()

	for _, v := range victims {
		destroy(v)
	}
	return len(victims)
}

// purge removes and destroys everything, referenced or not.
func (r *registry[T]) purge(destroy func(T)) int {
	r.lock.Lock()
	all := make([]T, 0, len(r.entries)+len(r.transient))
	for _, v := range r.entries {
		all = append(all, v)
	}
	all = append(all, r.transient...)
	r.entries = make(map[metadata.Key]T)
	r.transient = nil
	r.lock.Unlock()

	for _, v := range all {
		destroy(v)
	}
	return len(all)
}
