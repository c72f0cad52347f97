package metadata

import (
	"fmt"
	"sync/atomic"
)

// Key is the opaque identifier a resource is registered under.
type Key int32

// TransientKey builds a resource without registering it. Transient resources
// cannot be looked up again and are destroyed by the first CollectUnused
// after their last reference is released.
const TransientKey Key = -1

type ResourceKind uint8

/** @brief Kinds of GPU resources managed by the resource manager. */
const (
	ResourceKindRenderPass ResourceKind = iota
	ResourceKindPipeline
	ResourceKindMesh
	ResourceKindTexture
	ResourceKindBuffer
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindRenderPass:
		return "renderpass"
	case ResourceKindPipeline:
		return "pipeline"
	case ResourceKindMesh:
		return "mesh"
	case ResourceKindTexture:
		return "texture"
	case ResourceKindBuffer:
		return "buffer"
	}
	return fmt.Sprintf("ResourceKind(%d)", uint8(k))
}

/**
 * @brief The part every registered resource shares: its key, its kind and the
 * count of external references held by callers.
 */
type Resource struct {
	/** @brief The key the resource is registered under, or TransientKey. */
	Key Key
	/** @brief The kind of resource. */
	Kind ResourceKind
	/** @brief A human readable label used in diagnostics and native debug names. */
	Label string
	/** @brief The backend object. Owned by the backend that created it. */
	InternalData interface{}

	refs atomic.Int32
}

// Retain adds an external reference.
func (r *Resource) Retain() {
	r.refs.Add(1)
}

// Release drops an external reference and returns how many remain.
func (r *Resource) Release() int32 {
	n := r.refs.Add(-1)
	if n < 0 {
		r.refs.Store(0)
		return 0
	}
	return n
}

// Refs returns the number of external references.
func (r *Resource) Refs() int32 {
	return r.refs.Load()
}

func (r *Resource) String() string {
	if r.Label != "" {
		return fmt.Sprintf("%s %d (%s)", r.Kind, r.Key, r.Label)
	}
	return fmt.Sprintf("%s %d", r.Kind, r.Key)
}

// Base gives generic code access to the shared resource fields.
func (r *Resource) Base() *Resource {
	return r
}

// Handle is implemented by every resource type.
type Handle interface {
	Base() *Resource
}

// NativeResource is a resource a backend can bind to a shader slot.
type NativeResource interface {
	Handle
	isNative()
}
