package core

import (
	"fmt"
	"sync"
)

// KeyPool hands out small, unique, non-negative resource keys for callers
// that do not manage their own. Released keys are reused lowest first.
type KeyPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewKeyPool() *KeyPool {
	return &KeyPool{
		owners: make([]interface{}, 0, 100),
	}
}

// Acquire returns a key owned by owner.
func (kp *KeyPool) Acquire(owner interface{}) int32 {
	if owner == nil {
		owner = struct{}{}
	}
	kp.mu.Lock()
	defer kp.mu.Unlock()

	for i, o := range kp.owners {
		// Existing free spot. Take it.
		if o == nil {
			kp.owners[i] = owner
			return int32(i)
		}
	}
	// No existing free slots, push a new one.
	kp.owners = append(kp.owners, owner)
	return int32(len(kp.owners) - 1)
}

// Release makes the key available again.
func (kp *KeyPool) Release(key int32) error {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if key < 0 || int(key) >= len(kp.owners) {
		return fmt.Errorf("%w: key '%d' out of range (max=%d)", ErrInvalidUsage, key, len(kp.owners))
	}
	// Just zero out the entry, making it available for use.
	kp.owners[key] = nil
	return nil
}
