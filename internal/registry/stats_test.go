package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_ObserveAndSummarize(t *testing.T) {
	s := NewStats()
	s.Observe(10, 5*time.Millisecond)
	s.Observe(20, 15*time.Millisecond)
	s.Observe(5, 1*time.Millisecond)

	sum := s.Summarize()
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 5, sum.RowsMin)
	assert.Equal(t, 20, sum.RowsMax)
	assert.InDelta(t, 35.0/3.0, sum.RowsAvg, 0.01)
	assert.Equal(t, time.Millisecond, sum.TimeMin)
	assert.Equal(t, 15*time.Millisecond, sum.TimeMax)
}

func TestStats_EmptySummary(t *testing.T) {
	s := NewStats()
	sum := s.Summarize()
	assert.Equal(t, 0, sum.Count)
	assert.Equal(t, 0.0, sum.P95Micros)
}

func TestDigest_QuantileMonotonic(t *testing.T) {
	d := newDigest()
	for i := 1; i <= 1000; i++ {
		d.add(float64(i))
	}
	p50 := d.quantile(0.5)
	p95 := d.quantile(0.95)
	p99 := d.quantile(0.99)
	assert.LessOrEqual(t, p50, p95)
	assert.LessOrEqual(t, p95, p99)
	assert.InDelta(t, 500, p50, 50)
	assert.InDelta(t, 990, p99, 30)
}

func TestDigest_EmptyQuantileIsZero(t *testing.T) {
	d := newDigest()
	assert.Equal(t, 0.0, d.quantile(0.5))
}

func TestStats_ConcurrentObserve(t *testing.T) {
	s := NewStats()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 50; j++ {
				s.Observe(n, time.Duration(n) * time.Microsecond)
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	sum := s.Summarize()
	assert.Equal(t, 400, sum.Count)
}
