package core

import (
	"errors"
)

var (
	// ErrConstructionFailure is returned when a native API call or an
	// allocation fails during a one-shot build. The returned handle is empty.
	ErrConstructionFailure = errors.New("resource construction failed")
	// ErrInvalidUsage is returned when a state-machine contract is violated.
	// The operation is aborted and the object stays usable.
	ErrInvalidUsage = errors.New("invalid usage")
	// ErrResourceExhausted is returned when a growable resource cannot grow.
	// It is fatal for that one resource only.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrShutdown is returned by systems that have already been shut down.
	ErrShutdown = errors.New("system is shut down")
	// ErrEngineExists is returned when a second engine context is constructed
	// while another one is alive.
	ErrEngineExists = errors.New("an engine context already exists")
	ErrUnknown      = errors.New("unknown")
)
