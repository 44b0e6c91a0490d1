package prioq

import "github.com/go-prioq/lfprioq/epoch"

// Participant is the per-goroutine state a caller threads through every
// queue operation: the cached delete-min walk position, the
// reclamation guard, and a private level-selection RNG. One Participant
// belongs to exactly one goroutine for as long as that goroutine calls
// queue operations — Go has no thread-locals, so this is passed in
// explicitly rather than looked up implicitly.
type Participant[K any, V any] struct {
	queue *Queue[K, V]
	guard *epoch.Guard
	rng   *rng

	cachedNode    *node[K, V]
	cachedObsHead *node[K, V]
	cachedOffset  int64

	registered bool
}

func newParticipant[K any, V any](q *Queue[K, V], salt uint64) *Participant[K, V] {
	return &Participant[K, V]{
		queue:      q,
		guard:      q.reclaim.Register(),
		rng:        newRNG(salt),
		registered: true,
	}
}
