package prioq

import (
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsShard groups the per-queue counters this package tracks.
// Sharded across GOMAXPROCS the way metailurini-skiplist/metrics.go
// shards its CAS counters, so the counters themselves don't become a
// second hot cache line alongside head.next[0]. The Prometheus side is
// grounded on feynman-go-workshop/cache/monitor.go's PrometheusMonitor
// shape: a small struct wrapping a collector, exposing the collector
// for registration rather than registering itself.
type metricsShard struct {
	insertRetries    atomic.Int64
	insertSuccesses  atomic.Int64
	deleteMinRetries atomic.Int64
	deleteMinClaims  atomic.Int64
	restructures     atomic.Int64
	nodesRetired     atomic.Int64
	_                [16]byte
}

// Metrics is a Prometheus collector over a queue's activity counters.
// Not a size operation — these are monotonic activity counts, never
// decremented, never a live cardinality.
type Metrics struct {
	name   string
	shards []metricsShard
	mask   uint32

	desc *prometheus.Desc
}

// NewMetrics returns a Metrics collector. name becomes the Prometheus
// metric family name; pass something distinct per queue if more than
// one is registered in the same process.
func NewMetrics(name string) *Metrics {
	shardCount := nextPowerOfTwo(runtime.GOMAXPROCS(0))
	return &Metrics{
		name:   name,
		shards: make([]metricsShard, shardCount),
		mask:   uint32(shardCount - 1),
		desc: prometheus.NewDesc(name, "lock-free priority queue activity counters",
			[]string{"counter"}, nil),
	}
}

func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (m *Metrics) shard() *metricsShard {
	if len(m.shards) == 1 {
		return &m.shards[0]
	}
	idx := rand.Uint32() & m.mask
	return &m.shards[idx]
}

func (m *Metrics) incInsertRetry()    { m.shard().insertRetries.Add(1) }
func (m *Metrics) incInsertSuccess()  { m.shard().insertSuccesses.Add(1) }
func (m *Metrics) incDeleteMinRetry() { m.shard().deleteMinRetries.Add(1) }
func (m *Metrics) incDeleteMinClaim() { m.shard().deleteMinClaims.Add(1) }
func (m *Metrics) incRestructure()    { m.shard().restructures.Add(1) }
func (m *Metrics) addRetired(n int64) { m.shard().nodesRetired.Add(n) }

// Totals sums every shard. Intended for tests and the demo program;
// Prometheus scraping should go through Collect/Describe instead.
func (m *Metrics) Totals() (insertRetries, insertSuccesses, deleteMinRetries, deleteMinClaims, restructures, nodesRetired int64) {
	for i := range m.shards {
		s := &m.shards[i]
		insertRetries += s.insertRetries.Load()
		insertSuccesses += s.insertSuccesses.Load()
		deleteMinRetries += s.deleteMinRetries.Load()
		deleteMinClaims += s.deleteMinClaims.Load()
		restructures += s.restructures.Load()
		nodesRetired += s.nodesRetired.Load()
	}
	return
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.desc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	insertRetries, insertSuccesses, deleteMinRetries, deleteMinClaims, restructures, nodesRetired := m.Totals()
	emit := func(label string, v int64) {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(v), label)
	}
	emit("insert_retries", insertRetries)
	emit("insert_successes", insertSuccesses)
	emit("delete_min_retries", deleteMinRetries)
	emit("delete_min_claims", deleteMinClaims)
	emit("restructures", restructures)
	emit("nodes_retired", nodesRetired)
}
