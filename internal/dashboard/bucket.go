package dashboard

import (
	"sync"
	"sync/atomic"
	"time"
)

// NumBuckets is the size of the rolling period-bucket ring.
const NumBuckets = 15

// DefaultKarmaPeriod is the time window over which health metrics are
// aggregated to compute mirror weights (glossary: "karma period").
const DefaultKarmaPeriod = 60 * time.Second

// Counters holds the raw per-bucket failure/success tallies.
type Counters struct {
	TimeoutsQuery    int
	TimeoutsConnect  int
	ConnectFailures  int
	NetworkErrors    int
	WrongReplies     int
	UnexpectedClose  int
	CriticalWarnings int
	CleanSuccesses   int
}

// failed reports whether any failure counter is non-zero; used to decide
// whether a Record call should advance errors-in-a-row.
func (c Counters) failed() bool {
	return c.TimeoutsQuery > 0 || c.TimeoutsConnect > 0 || c.ConnectFailures > 0 ||
		c.NetworkErrors > 0 || c.WrongReplies > 0 || c.UnexpectedClose > 0 || c.CriticalWarnings > 0
}

func (c *Counters) add(o Counters) {
	c.TimeoutsQuery += o.TimeoutsQuery
	c.TimeoutsConnect += o.TimeoutsConnect
	c.ConnectFailures += o.ConnectFailures
	c.NetworkErrors += o.NetworkErrors
	c.WrongReplies += o.WrongReplies
	c.UnexpectedClose += o.UnexpectedClose
	c.CriticalWarnings += o.CriticalWarnings
	c.CleanSuccesses += o.CleanSuccesses
}

// bucket is one karma-period slot in the ring. stamp is the wall-clock
// second-index divided by the karma period; a write to a bucket whose
// stamp is stale resets it first.
type bucket struct {
	stamp            int64
	counters         Counters
	totalMicros      int64
	connectAttempts  int64
	connectMillisSum int64
	maxConnectMillis int64
}

// Dashboard is the per-host rolling metrics structure. One
// Dashboard instance is the canonical owner of a host's identity; multiple
// HostDescriptors may point at the same Dashboard.
type Dashboard struct {
	mu sync.RWMutex

	host        HostDescriptor
	buckets     [NumBuckets]bucket
	karmaPeriod time.Duration

	lastAnswer   time.Time
	lastQuery    time.Time
	errorsInARow int

	// totalQueries/connectionAttempts are contention-hot and accessed
	// without the RWMutex above.
	totalQueries       int64
	connectionAttempts int64

	metrics *hostMetrics
}

func newDashboard(host HostDescriptor, karmaPeriod time.Duration) *Dashboard {
	if karmaPeriod <= 0 {
		karmaPeriod = DefaultKarmaPeriod
	}
	return &Dashboard{host: host, karmaPeriod: karmaPeriod}
}

// Host returns a copy of the host descriptor this dashboard tracks.
func (d *Dashboard) Host() HostDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.host
}

func (d *Dashboard) stampFor(now time.Time) int64 {
	period := int64(d.karmaPeriod / time.Second)
	if period <= 0 {
		period = 1
	}
	return now.Unix() / period
}

func (d *Dashboard) bucketIndex(stamp int64) int {
	idx := stamp % NumBuckets
	if idx < 0 {
		idx += NumBuckets
	}
	return int(idx)
}

// Record accumulates one completed request's outcome into the current
// karma-period bucket, resetting it first if its stamp is stale.
// errors-in-a-row increments on any failure counter touched and resets to
// zero on a clean success.
func (d *Dashboard) Record(delta Counters, latencyUs int64, connectAttempts int, connectMs int64) {
	now := time.Now()
	stamp := d.stampFor(now)

	d.mu.Lock()
	idx := d.bucketIndex(stamp)
	b := &d.buckets[idx]
	if b.stamp != stamp {
		*b = bucket{stamp: stamp}
	}
	b.counters.add(delta)
	b.totalMicros += latencyUs
	b.connectAttempts += int64(connectAttempts)
	b.connectMillisSum += connectMs
	if connectMs > b.maxConnectMillis {
		b.maxConnectMillis = connectMs
	}

	if delta.failed() {
		d.errorsInARow++
	} else if delta.CleanSuccesses > 0 {
		d.errorsInARow = 0
	}
	errorsInARow := d.errorsInARow
	d.lastQuery = now
	if !delta.failed() {
		d.lastAnswer = now
	}
	d.mu.Unlock()

	atomic.AddInt64(&d.totalQueries, 1)
	atomic.AddInt64(&d.connectionAttempts, int64(connectAttempts))

	if d.metrics != nil {
		d.metrics.observe(delta, latencyUs, connectAttempts, connectMs, errorsInARow)
	}
}

// RecordConnectAttempts accumulates connection attempts without touching
// any success/failure counter or errors-in-a-row, for callers (blackhole
// dispatch) whose outcome must not influence the host's health state.
func (d *Dashboard) RecordConnectAttempts(connectAttempts int, connectMs int64) {
	now := time.Now()
	stamp := d.stampFor(now)

	d.mu.Lock()
	idx := d.bucketIndex(stamp)
	b := &d.buckets[idx]
	if b.stamp != stamp {
		*b = bucket{stamp: stamp}
	}
	b.connectAttempts += int64(connectAttempts)
	b.connectMillisSum += connectMs
	if connectMs > b.maxConnectMillis {
		b.maxConnectMillis = connectMs
	}
	d.mu.Unlock()

	atomic.AddInt64(&d.connectionAttempts, int64(connectAttempts))
}

// ErrorsInARow reports the current consecutive-failure count, which
// determines whether the host is in retry state.
func (d *Dashboard) ErrorsInARow() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errorsInARow
}

// InRetryState reports whether errors-in-a-row has crossed the given
// threshold (callers typically use the mirror group's retry count).
func (d *Dashboard) InRetryState(threshold int) bool {
	return d.ErrorsInARow() >= threshold && threshold > 0
}

// TotalQueries returns the lifetime query count. Monotonic non-decreasing.
func (d *Dashboard) TotalQueries() int64 { return atomic.LoadInt64(&d.totalQueries) }

// ConnectionAttempts returns the lifetime connect-attempt count. Monotonic
// non-decreasing.
func (d *Dashboard) ConnectionAttempts() int64 { return atomic.LoadInt64(&d.connectionAttempts) }

// Snapshot coalesces the last `periods` buckets (including the current
// one) into a single summary, recomputing the derived metrics.
type Snapshot struct {
	Counters
	TotalMicroseconds  int64
	ConnectionAttempts int64
	AverageConnectMs   float64
	MaxConnectMs       int64
	LastAnswer         time.Time
	LastQuery          time.Time
	ErrorsInARow       int
}

// Snapshot returns the coalesced view of the last `periods` buckets.
func (d *Dashboard) Snapshot(periods int) Snapshot {
	if periods <= 0 || periods > NumBuckets {
		periods = NumBuckets
	}
	now := time.Now()
	stamp := d.stampFor(now)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out Snapshot
	out.LastAnswer = d.lastAnswer
	out.LastQuery = d.lastQuery
	out.ErrorsInARow = d.errorsInARow

	for i := 0; i < periods; i++ {
		idx := d.bucketIndex(stamp - int64(i))
		b := d.buckets[idx]
		if b.stamp != stamp-int64(i) {
			continue // never written, or rotated out — skip rather than count as zero-activity
		}
		out.Counters.add(b.counters)
		out.TotalMicroseconds += b.totalMicros
		out.ConnectionAttempts += b.connectAttempts
		out.MaxConnectMs = maxInt64(out.MaxConnectMs, b.maxConnectMillis)
	}
	if out.ConnectionAttempts > 0 {
		var sum int64
		for i := 0; i < periods; i++ {
			idx := d.bucketIndex(stamp - int64(i))
			b := d.buckets[idx]
			if b.stamp == stamp-int64(i) {
				sum += b.connectMillisSum
			}
		}
		out.AverageConnectMs = float64(sum) / float64(out.ConnectionAttempts)
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
