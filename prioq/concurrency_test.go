package prioq

import (
	"math"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"sort"
	"sync"
	"testing"
	"time"
)

// TestConcurrentMixedOperationsStorm hammers a single queue with many
// goroutines doing a 50/50 mix of insert and delete-min, then drains
// whatever remains and checks the overall multiset law holds. Run with
// -race to catch data races the atomics above would otherwise hide.
func TestConcurrentMixedOperationsStorm(t *testing.T) {
	t.Cleanup(func() {
		if t.Failed() {
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	})

	seed := time.Now().UnixNano()
	t.Logf("test seed=%d", seed)

	less := func(a, b int) bool { return a < b }
	q, err := Create[int, int](8, 16, math.MinInt, math.MaxInt, less)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer q.Destroy()

	const keySpace = 1 << 14
	goroutines := max(2*runtime.NumCPU(), 4)
	const operationsPerGoroutine = 2000

	var mu sync.Mutex
	var inserted, returned []int

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		goroutineSeed := seed + int64(g)
		go func(s int64) {
			defer wg.Done()
			p := q.Register()
			defer q.Deregister(p)

			r := rand.New(rand.NewSource(s))
			var localInserted, localReturned []int
			for i := 0; i < operationsPerGoroutine; i++ {
				if r.Intn(2) == 0 {
					key := r.Intn(keySpace)
					if err := q.Insert(p, key, key); err != nil {
						t.Errorf("insert: %v", err)
						return
					}
					localInserted = append(localInserted, key)
				} else {
					if k, v, ok := q.DeleteMin(p); ok {
						if v != k {
							t.Errorf("value mismatch for key %d: got %d", k, v)
						}
						localReturned = append(localReturned, k)
					}
				}
			}
			mu.Lock()
			inserted = append(inserted, localInserted...)
			returned = append(returned, localReturned...)
			mu.Unlock()
		}(goroutineSeed)
	}
	wg.Wait()

	drainer := q.Register()
	for {
		k, _, ok := q.DeleteMin(drainer)
		if !ok {
			break
		}
		returned = append(returned, k)
	}
	q.Deregister(drainer)

	sort.Ints(inserted)
	sort.Ints(returned)
	if len(inserted) != len(returned) {
		t.Fatalf("multiset size mismatch: inserted=%d returned=%d", len(inserted), len(returned))
	}
	for i := range inserted {
		if inserted[i] != returned[i] {
			t.Fatalf("multiset mismatch at %d: inserted=%v returned=%v", i, inserted[i], returned[i])
		}
	}
}

// TestDeleteWhileInsertRacing repeatedly inserts and removes the same
// key from two goroutines and checks the queue never panics and never
// returns a value for a key it didn't hold.
func TestDeleteWhileInsertRacing(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	q, err := Create[int, int](4, 8, math.MinInt, math.MaxInt, less)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer q.Destroy()

	const iterations = 5000

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p := q.Register()
		defer q.Deregister(p)
		<-start
		for i := 0; i < iterations; i++ {
			_ = q.Insert(p, 1, i)
		}
	}()

	go func() {
		defer wg.Done()
		p := q.Register()
		defer q.Deregister(p)
		<-start
		for i := 0; i < iterations; i++ {
			_, _ = q.Remove(p, 1)
		}
	}()

	close(start)
	wg.Wait()

	drainer := q.Register()
	defer q.Deregister(drainer)
	for {
		k, v, ok := q.DeleteMin(drainer)
		if !ok {
			break
		}
		if k != 1 {
			t.Fatalf("unexpected key in queue: %d (value %d)", k, v)
		}
	}
}

// TestCascadeMarkerCleanup deletes every key in a prefilled queue from
// several workers at once and checks the queue ends up empty with no
// keys left behind uncollected.
func TestCascadeMarkerCleanup(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	q, err := Create[int, int](8, 16, math.MinInt, math.MaxInt, less)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer q.Destroy()

	const totalKeys = 1024
	filler := q.Register()
	for i := 0; i < totalKeys; i++ {
		if err := q.Insert(filler, i, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	q.Deregister(filler)

	const workers = 8
	var mu sync.Mutex
	var drained []int
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			p := q.Register()
			defer q.Deregister(p)
			var local []int
			for {
				k, _, ok := q.DeleteMin(p)
				if !ok {
					break
				}
				local = append(local, k)
			}
			mu.Lock()
			drained = append(drained, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(drained) != totalKeys {
		t.Fatalf("expected %d keys drained, got %d", totalKeys, len(drained))
	}
	sort.Ints(drained)
	for i, k := range drained {
		if k != i {
			t.Fatalf("expected drained[%d]=%d, got %d", i, i, k)
		}
	}
}

