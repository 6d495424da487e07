package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PingFunc issues one low-cost ping against an agent in group g and reports
// whether it answered. Its outcome feeds the same counter/metric path as a
// real query via the caller recording into m.Dashboard.
// Implemented by the agentconn package; passed in here to avoid a
// dashboard->agentconn import cycle (agentconn already depends on
// dashboard for mirror selection).
type PingFunc func(g *Group, agent *AgentDescriptor) error

// Pinger schedules a background ping for every HA mirror group (size > 1)
// registered with it, using robfig/cron rather than one hand-rolled ticker
// goroutine per group. Single-mirror groups are never scheduled: with no
// alternative to fail over to, ping results cannot change selection.
type Pinger struct {
	cron   *cron.Cron
	ping   PingFunc
	log    *zap.Logger
	mu     sync.Mutex
	ids    map[*Group]cron.EntryID
}

// NewPinger creates a Pinger that will call ping for each registered
// group's mirrors. Per-group intervals are supplied at Register time and
// turned into "@every" cron entries internally.
func NewPinger(ping PingFunc, log *zap.Logger) *Pinger {
	return &Pinger{
		cron: cron.New(),
		ping: ping,
		log:  log,
		ids:  make(map[*Group]cron.EntryID),
	}
}

// Start begins the cron scheduler.
func (p *Pinger) Start() { p.cron.Start() }

// Stop halts the cron scheduler and waits for any running ping jobs to
// finish.
func (p *Pinger) Stop() { <-p.cron.Stop().Done() }

// Register schedules pings for g if it is an HA group (PingRequired), at
// the given interval. Re-registering the same group replaces its schedule.
func (p *Pinger) Register(g *Group, interval time.Duration) error {
	if !g.PingRequired() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.ids[g]; ok {
		p.cron.Remove(id)
	}

	spec := fmt.Sprintf("@every %s", interval.String())
	id, err := p.cron.AddFunc(spec, func() { p.pingGroup(g) })
	if err != nil {
		return fmt.Errorf("dashboard: schedule pinger: %w", err)
	}
	p.ids[g] = id
	return nil
}

// Unregister removes g's scheduled ping job, if any.
func (p *Pinger) Unregister(g *Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[g]; ok {
		p.cron.Remove(id)
		delete(p.ids, g)
	}
}

func (p *Pinger) pingGroup(g *Group) {
	for _, m := range g.Mirrors() {
		m := m
		go func() {
			start := time.Now()
			err := p.ping(g, m.Agent)
			elapsed := time.Since(start)
			if err != nil {
				if p.log != nil {
					p.log.Debug("mirror ping failed", zap.String("mirror", m.Agent.Key()), zap.Error(err))
				}
				m.Dashboard.Record(Counters{NetworkErrors: 1}, elapsed.Microseconds(), 1, elapsed.Milliseconds())
				g.RecordOutcome(m, err)
				return
			}
			m.Dashboard.Record(Counters{CleanSuccesses: 1}, elapsed.Microseconds(), 1, elapsed.Milliseconds())
			g.RecordOutcome(m, nil)
		}()
	}
}
