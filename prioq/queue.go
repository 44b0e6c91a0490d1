package prioq

import (
	"sync/atomic"
	"unsafe"

	"github.com/go-prioq/lfprioq/epoch"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxLocalRetries bounds how many times Insert will walk forward over a
// marked predecessor before giving up and re-running a full weak search
// from head. Mirrors original_source/prioq.c's "loop0 > 10" bailout.
const maxLocalRetries = 10

// Less reports whether a orders strictly before b. Create requires one
// because Go generics have no built-in total order over an arbitrary
// comparable type, and no universal minimum/maximum sentinel either —
// hence the caller-supplied keyMin/keyMax below.
type Less[K any] func(a, b K) bool

// Queue is a lock-free priority queue backed by a skip-list with
// logical/physical deletion separated the way original_source/prioq.c
// separates them: delete_min only sets a mark bit; unlinking the
// resulting run of dead nodes is deferred to restructure, which a
// delete-min call triggers only once its thread's local offset exceeds
// maxOffset.
type Queue[K any, V any] struct {
	head, tail *node[K, V]

	maxLevel  int
	maxOffset int64
	less      Less[K]
	keyMin    K
	keyMax    K

	alloc   *allocator[K, V]
	reclaim *epoch.Collector
	metrics *Metrics
	logger  *zap.Logger

	nodeBudget int64
	liveNodes  atomic.Int64

	debugAssertions bool
	closed          atomic.Bool
	registrations   atomic.Uint64
}

// Create allocates a new queue. maxOffset is the amortization threshold
// (spec's "number of consecutive marked nodes at the head that triggers
// a restructuring attempt"); maxLevel caps the height any node in this
// queue may be promoted to. keyMin and keyMax are reserved sentinel
// keys — Insert rejects them.
func Create[K any, V any](maxOffset int64, maxLevel int, keyMin, keyMax K, less Less[K], opts ...Option[K, V]) (*Queue[K, V], error) {
	if maxOffset < 1 {
		return nil, errors.New("prioq: max_offset must be >= 1")
	}
	if maxLevel < 1 || maxLevel > MaxLevel {
		return nil, errors.Errorf("prioq: max_level must be in [1, %d]", MaxLevel)
	}

	cfg := defaultConfig[K, V]()
	for _, opt := range opts {
		opt(cfg)
	}

	head, tail := newSentinels[K, V](keyMin, keyMax)

	q := &Queue[K, V]{
		head:            head,
		tail:            tail,
		maxLevel:        maxLevel,
		maxOffset:       maxOffset,
		less:            less,
		keyMin:          keyMin,
		keyMax:          keyMax,
		alloc:           newAllocator[K, V](),
		reclaim:         epoch.NewCollector(),
		metrics:         cfg.metrics,
		logger:          loggerOrDefault(cfg.logger),
		nodeBudget:      cfg.nodeBudget,
		debugAssertions: cfg.debugAssertions,
	}
	q.logger.Debug("prioq: queue created",
		zap.Int("node_size_bytes", int(unsafe.Sizeof(node[K, V]{}))),
		zap.Int("max_level", maxLevel),
		zap.Int64("max_offset", maxOffset))
	return q, nil
}

// Destroy quiesces the reclamation service, freeing every retired node
// regardless of guard state. The caller must ensure no other goroutine
// is still calling queue operations.
func (q *Queue[K, V]) Destroy() {
	q.closed.Store(true)
	q.reclaim.Quiesce()
	q.logger.Debug("prioq: queue destroyed", zap.Int64("live_nodes", q.liveNodes.Load()))
}

// Register enrolls a new goroutine with the queue's reclamation service
// and returns the Participant it must pass to every subsequent
// operation. A goroutine must register before its first operation and
// deregister when it is done.
func (q *Queue[K, V]) Register() *Participant[K, V] {
	salt := q.registrations.Add(1)
	return newParticipant(q, salt)
}

// Deregister releases a Participant. Using it afterward is undefined
// behavior, matching the reclamation service's own contract.
func (q *Queue[K, V]) Deregister(p *Participant[K, V]) error {
	if p == nil || p.queue != q {
		return ErrNotRegistered
	}
	q.reclaim.Unregister(p.guard)
	p.registered = false
	return nil
}

func (q *Queue[K, V]) validate(p *Participant[K, V]) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if p == nil || p.queue != q || !p.registered {
		return ErrNotRegistered
	}
	return nil
}

// assertParticipant is the debug-build-only misuse check for DeleteMin
// and Remove, whose signatures have no room for an error return.
// Insert instead always returns a real error —
// a strictly safer superset of "undefined behavior" that costs nothing
// given Insert already has an error channel.
func (q *Queue[K, V]) assertParticipant(p *Participant[K, V]) {
	if q.debugAssertions {
		if err := q.validate(p); err != nil {
			q.logger.Error("prioq: participant misuse", zap.Error(err))
			panic(err)
		}
	}
}

func (q *Queue[K, V]) equal(a, b K) bool {
	return !q.less(a, b) && !q.less(b, a)
}

func (q *Queue[K, V]) allocNode(level int, key K, value V) (*node[K, V], error) {
	if q.nodeBudget > 0 {
		if q.liveNodes.Add(1) > q.nodeBudget {
			q.liveNodes.Add(-1)
			err := errors.WithStack(ErrAllocation)
			q.logger.Error("prioq: node allocation failed", zap.Int64("node_budget", q.nodeBudget), zap.Error(err))
			return nil, err
		}
	} else {
		q.liveNodes.Add(1)
	}
	return q.alloc.alloc(level, key, value), nil
}

func (q *Queue[K, V]) freeNode(p *Participant[K, V], n *node[K, V]) {
	q.liveNodes.Add(-1)
	alloc := q.alloc
	p.guard.Retire(n, func(obj any) {
		alloc.free(obj.(*node[K, V]))
	})
}

// weakSearch returns, at every level, the last node with a key
// strictly less than key (pred[i]) and that node's forward pointer
// (succ[i]). It never excises marked nodes.
func (q *Queue[K, V]) weakSearch(key K) (pred, succ []*node[K, V]) {
	pred = make([]*node[K, V], q.maxLevel)
	succ = make([]*node[K, V], q.maxLevel)

	cur := q.head
	for i := q.maxLevel - 1; i >= 0; i-- {
		next, _ := cur.forward(i)
		for next != q.tail && q.less(next.key, key) {
			cur = next
			next, _ = cur.forward(i)
		}
		pred[i] = cur
		succ[i] = next
	}
	return pred, succ
}

func (q *Queue[K, V]) weakSearchLevel0(key K) (pred, succ *node[K, V]) {
	pred2, succ2 := q.weakSearch(key)
	return pred2[0], succ2[0]
}

// firstUnmarkedFrom walks forward along the level-0 chain starting at
// start until it finds a node that is not itself logically deleted,
// returning it along with its successor. Used by Insert's recovery
// path when the chosen predecessor turns out to be marked.
func (q *Queue[K, V]) firstUnmarkedFrom(start *node[K, V]) (pred, succ *node[K, V]) {
	cur := start
	for {
		if cur == q.tail {
			return cur, nil
		}
		next, marked := cur.next0.loadUnmarked()
		if !marked {
			return cur, next
		}
		cur = next
	}
}

// weakSearchHead is a key-independent traversal that starts at head
// and, level by level from top to bottom, skips forward over nodes
// that are themselves logically deleted, landing on the first live node
// at level 0, or on tail when every node past head is logically
// deleted. Unlike weakSearchLevel0 it never looks at a
// target key, which keeps it cheap (O(log n), and independent of
// where in the keyspace a caller happens to be) by exploiting the
// fact that concurrent deletions cluster near head rather than
// anywhere in the keyspace. Ported from original_source/prioq.c's
// weak_search_head; Insert's marked-predecessor recovery path calls
// this, not weakSearchLevel0, once its bounded local retry count is
// exhausted.
func (q *Queue[K, V]) weakSearchHead() *node[K, V] {
	x := q.head
	var xNext *node[K, V]
	for i := q.maxLevel - 1; i >= 0; i-- {
		for {
			next, _ := x.forward(i)
			if next == q.tail || !next.next0.marked() {
				xNext = next
				break
			}
			x = next
		}
	}
	return xNext
}

// weakSearchEnd computes what head.next[level] should become to skip
// past a run of logically deleted nodes at that level: starting at
// head, it keeps following the level's forward pointer while the
// current target is itself marked, and returns the first target that
// is not.
func (q *Queue[K, V]) weakSearchEnd(level int) *node[K, V] {
	cur := q.head
	for {
		next, _ := cur.forward(level)
		if next == q.tail || !next.next0.marked() {
			return next
		}
		cur = next
	}
}

// Insert adds a node with key k and value v. Duplicates coexist. The
// insert takes effect at its successful level-0 splice. keyMin and
// keyMax are rejected with an error.
func (q *Queue[K, V]) Insert(p *Participant[K, V], key K, value V) error {
	if err := q.validate(p); err != nil {
		return err
	}
	if q.equal(key, q.keyMin) || q.equal(key, q.keyMax) {
		return errors.New("prioq: keyMin and keyMax are reserved sentinel keys")
	}

	p.guard.Enter()
	defer p.guard.Exit()

	level := p.rng.randomLevel(q.maxLevel)
	n, err := q.allocNode(level, key, value)
	if err != nil {
		return err
	}

	pred, succ := q.weakSearch(key)
	for i := 0; i < level; i++ {
		n.storeForward(i, succ[i])
	}

	downgraded := false
	localRetries := 0
	pred0, succ0 := pred[0], succ[0]

	for !pred0.casForward(0, succ0, n) {
		if q.metrics != nil {
			q.metrics.incInsertRetry()
		}

		cur, marked := pred0.next0.loadUnmarked()
		if marked {
			// pred0 itself was logically deleted out from under us.
			// Upper-level linkage for this insert is abandoned from
			// here on.
			downgraded = true
			localRetries++
			if localRetries > maxLocalRetries {
				pred0, succ0 = q.firstUnmarkedFrom(q.weakSearchHead())
				localRetries = 0
			} else {
				pred0, succ0 = q.firstUnmarkedFrom(cur)
				if pred0 == q.tail {
					pred0, succ0 = q.firstUnmarkedFrom(q.weakSearchHead())
				}
			}
			if pred0 == q.tail {
				// Every node past head is logically deleted; head is
				// never marked, so splice directly after it.
				pred0, succ0 = q.firstUnmarkedFrom(q.head)
			}
		} else {
			// A competing insert won pred0's slot; re-run the full
			// search and try again at the originally chosen level.
			pred, succ = q.weakSearch(key)
			pred0, succ0 = pred[0], succ[0]
		}
		n.storeForward(0, succ0)
	}

	if !downgraded {
		q.threadUpward(n, key, level, pred, succ)
	}

	if q.metrics != nil {
		q.metrics.incInsertSuccess()
	}
	return nil
}

// threadUpward links n into levels [1, level) after its level-0
// splice has committed.
func (q *Queue[K, V]) threadUpward(n *node[K, V], key K, level int, pred, succ []*node[K, V]) {
	for i := 1; i < level; i++ {
		for {
			if n.next0.marked() {
				return
			}
			succI, _ := n.forward(i)
			if pred[i].casForward(i, succI, n) {
				break
			}

			pred, succ = q.weakSearch(key)
			if succ[0] != n {
				// n is no longer the node immediately reachable at
				// level 0 for this key — either deleted, or this
				// insert's own node is not who we think; abandon.
				return
			}
			n.storeForward(i, succ[i])
		}
	}
}

// DeleteMin removes and returns the node currently at the logical head
// of the queue: the first node reachable from head whose mark bit this
// call succeeds in setting. ok is false only when the queue is empty.
func (q *Queue[K, V]) DeleteMin(p *Participant[K, V]) (key K, value V, ok bool) {
	q.assertParticipant(p)

	p.guard.Enter()
	defer p.guard.Exit()

	obsHead, _ := q.head.next0.loadUnmarked()

	var x *node[K, V]
	if p.cachedObsHead == obsHead && p.cachedNode != nil {
		x = p.cachedNode
	} else {
		x = obsHead
		p.cachedObsHead = obsHead
		p.cachedOffset = 0
	}

	var steps int64
	var claimed, claimedSucc *node[K, V]
	for {
		if x == q.tail {
			p.cachedNode = x
			p.cachedOffset += steps
			var zeroK K
			var zeroV V
			return zeroK, zeroV, false
		}

		succ, marked := x.next0.loadUnmarked()
		if marked {
			x = succ
			steps++
			continue
		}

		oldSucc, won := x.next0.tryMark()
		if !won {
			if q.metrics != nil {
				q.metrics.incDeleteMinRetry()
			}
			continue
		}
		claimed, claimedSucc = x, oldSucc
		break
	}

	key, value = claimed.key, claimed.value
	if q.metrics != nil {
		q.metrics.incDeleteMinClaim()
	}

	p.cachedNode = claimedSucc
	p.cachedOffset += steps + 1

	if p.cachedOffset > q.maxOffset {
		if h, _ := q.head.next0.loadUnmarked(); h == p.cachedObsHead {
			q.restructure(p, p.cachedObsHead, claimed)
		}
	}

	return key, value, true
}

// restructure swings head.next[0] past the run of nodes logically
// deleted since obsHead, repairs every upper-level shortcut into head,
// and retires the skipped-over prefix. A CAS failure on the head swing
// means another thread already restructured — that is not an error,
// just a lost race, so restructure returns quietly.
func (q *Queue[K, V]) restructure(p *Participant[K, V], obsHead, claimed *node[K, V]) {
	if !q.head.next0.casForward(obsHead, claimed) {
		return
	}
	if q.metrics != nil {
		q.metrics.incRestructure()
	}

	for i := q.maxLevel - 1; i >= 1; i-- {
		for {
			current := q.head.upper[i-1].Load()
			target := q.weakSearchEnd(i)
			if target == current {
				break
			}
			if q.head.upper[i-1].CompareAndSwap(current, target) {
				break
			}
		}
	}

	var retired int64
	cur := obsHead
	for cur != claimed {
		next, _ := cur.next0.loadUnmarked()
		q.freeNode(p, cur)
		retired++
		cur = next
	}
	if q.metrics != nil && retired > 0 {
		q.metrics.addRetired(retired)
	}

	// Epoch advancement happens here, once per batch, rather than on
	// every Enter/Exit — that is what keeps Insert/DeleteMin/Remove
	// lock-free: Advance takes the collector's lock, restructure does
	// not run on every call.
	q.reclaim.Advance()

	q.logger.Debug("prioq: restructuring batch complete",
		zap.Int64("nodes_retired", retired))

	p.cachedObsHead = claimed
	p.cachedOffset = 0
}

// Remove performs a weak search for key and attempts to logically
// delete the first live node carrying it. Not required by the
// priority-queue contract proper, but part of the set-of-keys surface
// the core also exposes.
func (q *Queue[K, V]) Remove(p *Participant[K, V], key K) (V, bool) {
	q.assertParticipant(p)

	p.guard.Enter()
	defer p.guard.Exit()

	_, succ := q.weakSearch(key)
	cur := succ[0]
	for cur != q.tail && q.equal(cur.key, key) {
		next, won := cur.next0.tryMark()
		if won {
			return cur.value, true
		}
		cur = next
	}

	var zero V
	return zero, false
}
