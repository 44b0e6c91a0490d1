package prioq

import "github.com/pkg/errors"

// Apart from argument checks (Create's parameter bounds, Insert's
// reserved sentinel keys) and the misuse errors below, allocation
// failure is the only error Insert or Create can surface; contention is
// always recovered locally via retry.
// ErrClosed/ErrNotRegistered guard against misuse: operating on a
// destroyed queue, or operating without a registered Participant.
var (
	// ErrAllocation is wrapped with context and returned when the node
	// allocator cannot satisfy a request.
	ErrAllocation = errors.New("prioq: node allocation failed")

	// ErrClosed is returned by operations invoked after Destroy.
	ErrClosed = errors.New("prioq: queue destroyed")

	// ErrNotRegistered is returned when a Participant from a different
	// queue, or a nil Participant, is passed to an operation.
	ErrNotRegistered = errors.New("prioq: participant not registered with this queue")
)
