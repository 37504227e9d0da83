package engine

import "github.com/pkg/errors"

// Errors returned by the engine and by the layers built
// on top of it.
// They are wrapped with more context, so callers should
// use errors.Is to check for them.
var (
	// ErrInvalidArgument is returned for tensors or
	// arguments that no collective could accept.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotImplemented is returned when a feature is not
	// supported by the engine's build, configuration, or
	// topology.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNotInitialized is returned when a rank is used
	// before Init.
	ErrNotInitialized = errors.New("engine has not been initialized; call Init first")

	// ErrShutdown is returned for operations that were
	// pending or submitted after the world shut down.
	ErrShutdown = errors.New("engine has been shut down")

	// ErrMismatch is returned when ranks disagree about an
	// operation with the same name.
	ErrMismatch = errors.New("mismatched collective operation")

	// ErrUnknownHandle is returned for handles that were
	// never issued or were already cleared.
	ErrUnknownHandle = errors.New("unknown handle")
)
