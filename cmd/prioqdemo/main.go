// Command prioqdemo drives a lock-free priority queue from a handful of
// goroutines, drains what is left, and logs a summary of the counts
// and activity counters it observed. It exists to give the package a runnable smoke test,
// not as a benchmarking harness — see prioq's own *_test.go files for
// that.
package main

import (
	"flag"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-prioq/lfprioq/prioq"
	"go.uber.org/zap"
)

func main() {
	workers := flag.Int("workers", 4, "number of goroutines inserting and draining concurrently")
	perWorker := flag.Int("ops", 2000, "operations per worker")
	maxOffset := flag.Int64("max-offset", 16, "consecutive marked nodes tolerated before restructuring")
	keySpace := flag.Int("keyspace", 1<<16, "range of keys inserted, drawn uniformly")
	debug := flag.Bool("debug", false, "enable debug assertions on the queue")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	less := func(a, b int) bool { return a < b }
	metrics := prioq.NewMetrics("prioqdemo")

	opts := []prioq.Option[int, int]{
		prioq.WithLogger[int, int](logger),
		prioq.WithMetrics[int, int](metrics),
	}
	if *debug {
		opts = append(opts, prioq.WithDebugAssertions[int, int](true))
	}

	q, err := prioq.Create[int, int](*maxOffset, 20, math.MinInt, math.MaxInt, less, opts...)
	if err != nil {
		logger.Fatal("create queue", zap.Error(err))
	}
	defer q.Destroy()

	start := time.Now()
	var wg sync.WaitGroup
	var inserted, drained int64
	var mu sync.Mutex

	wg.Add(*workers)
	for w := 0; w < *workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			p := q.Register()
			defer q.Deregister(p)

			r := rand.New(rand.NewSource(seed))
			var localInserted, localDrained int64
			for i := 0; i < *perWorker; i++ {
				if r.Intn(2) == 0 {
					key := r.Intn(*keySpace)
					if err := q.Insert(p, key, key); err != nil {
						logger.Warn("insert failed", zap.Error(err))
						continue
					}
					localInserted++
				} else if _, _, ok := q.DeleteMin(p); ok {
					localDrained++
				}
			}
			mu.Lock()
			inserted += localInserted
			drained += localDrained
			mu.Unlock()
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	drainer := q.Register()
	var finalDrain int64
	for {
		if _, _, ok := q.DeleteMin(drainer); !ok {
			break
		}
		finalDrain++
	}
	q.Deregister(drainer)

	insertRetries, insertSuccesses, deleteMinRetries, deleteMinClaims, restructures, nodesRetired := metrics.Totals()
	logger.Info("run complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("inserted", inserted),
		zap.Int64("drained_during_run", drained),
		zap.Int64("drained_at_end", finalDrain),
		zap.Int64("insert_retries", insertRetries),
		zap.Int64("insert_successes", insertSuccesses),
		zap.Int64("delete_min_retries", deleteMinRetries),
		zap.Int64("delete_min_claims", deleteMinClaims),
		zap.Int64("restructures", restructures),
		zap.Int64("nodes_retired", nodesRetired),
	)
}
