package dashboard

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinger_RegisterIgnoresSingleMirrorGroups(t *testing.T) {
	g := NewGroup([]*Mirror{newTestMirror("10.0.0.1", 9312)}, StrategyRandom, 3, true, time.Minute)
	var calls int32
	p := NewPinger(func(g *Group, agent *AgentDescriptor) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Register(g, 5*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPinger_RegisterSchedulesHAGroup(t *testing.T) {
	m1 := newTestMirror("10.0.0.1", 9312)
	m2 := newTestMirror("10.0.0.2", 9312)
	g := NewGroup([]*Mirror{m1, m2}, StrategyRandom, 3, true, time.Minute)

	var calls int32
	p := NewPinger(func(g *Group, agent *AgentDescriptor) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	p.Start()
	defer p.Stop()

	// cron's @every floors sub-second intervals to one second, so the
	// first fire lands about a second after Start.
	require.NoError(t, p.Register(g, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPinger_PingFailureRecordsDashboardAndBreaker(t *testing.T) {
	m1 := newTestMirror("10.0.0.1", 9312)
	m2 := newTestMirror("10.0.0.2", 9312)
	g := NewGroup([]*Mirror{m1, m2}, StrategyRandom, 3, true, time.Minute)

	p := NewPinger(func(g *Group, agent *AgentDescriptor) error {
		return errors.New("no route to host")
	}, nil)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Register(g, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		return m1.Dashboard.ErrorsInARow() > 0 && m2.Dashboard.ErrorsInARow() > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPinger_UnregisterStopsFurtherPings(t *testing.T) {
	m1 := newTestMirror("10.0.0.1", 9312)
	m2 := newTestMirror("10.0.0.2", 9312)
	g := NewGroup([]*Mirror{m1, m2}, StrategyRandom, 3, true, time.Minute)

	var calls int32
	p := NewPinger(func(g *Group, agent *AgentDescriptor) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Register(g, 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	p.Unregister(g)

	snapshot := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, snapshot, atomic.LoadInt32(&calls))
}
