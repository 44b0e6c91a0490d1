// Package epoch implements the memory-reclamation service that the
// priority queue consumes: per-goroutine critical sections, and safe
// deferred free of retired objects once no active critical section can
// still observe them.
//
// The scheme is a small generational epoch-based collector: every
// registered participant publishes the global epoch it last observed
// when it entered a critical section, and clears that publication on
// exit. Retired objects are filed into one of three garbage
// generations keyed by the epoch active at retirement time. The
// collector only ever frees objects from the oldest generation, and
// only once it has confirmed that no participant is still parked in an
// epoch that could see them.
package epoch

import (
	"sync"
	"sync/atomic"
)

const generations = 3

// inactive marks a participant that is not inside a critical section.
const inactive = ^uint64(0)

// Collector owns the global epoch and the garbage generations. One
// Collector is shared by every Guard registered against it; a queue
// holds exactly one Collector for its lifetime.
type Collector struct {
	epoch atomic.Uint64

	mu       sync.Mutex
	guards   map[*Guard]struct{}
	garbage  [generations][]retired
	advances atomic.Uint64
}

type retired struct {
	obj  any
	free func(any)
}

// NewCollector returns a Collector with no registered participants.
func NewCollector() *Collector {
	return &Collector{
		guards: make(map[*Guard]struct{}),
	}
}

// Guard is a per-participant handle into the collector. It must not be
// shared across goroutines: it is the registration a single calling
// goroutine holds for the lifetime of its participation, matching the
// thread-registration contract a lock-free skip-list expects from its
// reclamation service.
type Guard struct {
	c         *Collector
	localEpoch atomic.Uint64
}

// Register enrolls the calling goroutine with the collector. The
// returned Guard must be used for every subsequent critical section and
// passed to Unregister exactly once when the goroutine is done with the
// queue.
func (c *Collector) Register() *Guard {
	g := &Guard{c: c}
	g.localEpoch.Store(inactive)

	c.mu.Lock()
	c.guards[g] = struct{}{}
	c.mu.Unlock()

	return g
}

// Unregister removes a participant from the collector. Calling any
// queue operation with a Guard afterward is a misuse the core is
// entitled to treat as undefined behavior.
func (c *Collector) Unregister(g *Guard) {
	c.mu.Lock()
	delete(c.guards, g)
	c.mu.Unlock()
}

// Enter opens a critical section: every object visible at the moment
// Enter returns is guaranteed not to be reclaimed until the matching
// Exit. Critical sections never nest.
func (g *Guard) Enter() {
	g.localEpoch.Store(g.c.epoch.Load())
}

// Exit closes the critical section opened by the most recent Enter.
// A bare atomic store, same as UmarFarooq-MP-Loki's ReaderEpoch.Exit —
// epoch advancement is never folded into a reader's exit path, since
// that would put a global lock on every single queue operation. Call
// Advance explicitly from a batched path instead.
func (g *Guard) Exit() {
	g.localEpoch.Store(inactive)
}

// Retire hands obj to the collector for deferred reclamation. free is
// invoked exactly once, after the collector has established that no
// critical section entered before the retirement can still observe
// obj. Retire must be called from inside the critical section that
// observed obj being unlinked.
func (g *Guard) Retire(obj any, free func(any)) {
	g.c.mu.Lock()
	gen := g.c.epoch.Load() % generations
	g.c.garbage[gen] = append(g.c.garbage[gen], retired{obj: obj, free: free})
	g.c.mu.Unlock()
}

// Advance bumps the global epoch when every registered participant is
// either inactive or has already observed the current epoch, then
// frees the generation that is now guaranteed unreachable. It is a
// no-op, not a block, when some participant is still parked in an
// older epoch. Callers drive this explicitly from a batched path
// (the queue's restructure) rather than on every critical section
// exit, so that only the batched path (and Retire, which restructure
// calls) takes this collector's lock, not every queue operation.
func (c *Collector) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.epoch.Load()
	for g := range c.guards {
		le := g.localEpoch.Load()
		if le != inactive && le != cur {
			// A participant is parked in an older epoch; advancing now
			// could free garbage it can still see.
			return
		}
	}

	next := cur + 1
	c.epoch.Store(next)
	c.advances.Add(1)

	// The generation at next%generations holds objects retired at epoch
	// cur-2 (three epochs before the new one), the oldest one still
	// tracked; every participant has, by
	// construction above, observed at least `cur`, so nothing can
	// reach objects retired before that.
	freeGen := next % generations
	batch := c.garbage[freeGen]
	c.garbage[freeGen] = nil

	for _, r := range batch {
		r.free(r.obj)
	}
}

// Quiesce forces reclamation of everything retired so far, regardless
// of whether any participant is still active. It is only safe to call
// once the caller can prove no concurrent operation is in flight, e.g.
// during Destroy.
func (c *Collector) Quiesce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.garbage {
		batch := c.garbage[i]
		c.garbage[i] = nil
		for _, r := range batch {
			r.free(r.obj)
		}
	}
}

// Advances reports how many times the global epoch has moved forward.
// Exposed for tests and for the demo program's summary output.
func (c *Collector) Advances() uint64 {
	return c.advances.Load()
}
