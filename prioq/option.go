package prioq

import "go.uber.org/zap"

// Option configures a Queue at Create time, following the
// functional-options shape used throughout the corpus (e.g.
// feynman-go-workshop's InstanceOption structs, metailurini-skiplist's
// skl.Config "With..." helpers).
type Option[K any, V any] func(*config[K, V])

type config[K any, V any] struct {
	logger           *zap.Logger
	metrics          *Metrics
	nodeBudget       int64
	debugAssertions  bool
}

func defaultConfig[K any, V any]() *config[K, V] {
	return &config[K, V]{
		nodeBudget: 0, // 0 means unbounded
	}
}

// WithLogger injects a *zap.Logger. Without it the queue logs through
// zap.L(), the global logger.
func WithLogger[K any, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) { c.logger = l }
}

// WithMetrics attaches a Metrics collector. Without it, no counting
// happens at all — every increment call in the queue is guarded by a
// nil check, so the option is what turns counting on, not just export.
func WithMetrics[K any, V any](m *Metrics) Option[K, V] {
	return func(c *config[K, V]) { c.metrics = m }
}

// WithNodeBudget caps the number of live nodes the allocator will hand
// out. Once reached, Insert returns ErrAllocation instead of growing
// further — the Go standard allocator has no notion of "out of
// memory" a caller can react to, so this is how allocation failure
// gets a real trigger instead of being permanently unreachable.
func WithNodeBudget[K any, V any](n int64) Option[K, V] {
	return func(c *config[K, V]) { c.nodeBudget = n }
}

// WithDebugAssertions turns misuse checks (unregistered participant,
// operating after Destroy) from silently-undefined-behavior into a
// panic. Off by default, matching production use; tests for this
// package turn it on.
func WithDebugAssertions[K any, V any](on bool) Option[K, V] {
	return func(c *config[K, V]) { c.debugAssertions = on }
}
