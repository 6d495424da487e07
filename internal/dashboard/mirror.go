package dashboard

import (
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// Strategy is a mirror-selection strategy tag.
type Strategy int

const (
	StrategyRandom Strategy = iota
	StrategyRoundRobin
	StrategyAvoidDeadWeighted
	StrategyAvoidErrorsWeighted
	StrategyAvoidDeadMinTime
	StrategyAvoidErrorsMinTime
)

// epsilon is the floor below which no mirror's weight may fall.
const epsilon = 0.01

// Mirror is one entry in a Group: an agent descriptor plus the breaker
// that gates whether choose() offers it at all.
type Mirror struct {
	Agent     *AgentDescriptor
	Dashboard *Dashboard
	breaker   *gobreaker.CircuitBreaker
}

// Group is the ordered, weighted set of interchangeable agents serving one
// logical remote index.
type Group struct {
	mirrors  []*Mirror
	rrCount  uint64
	retries  int
	pingReq  bool
	strategy Strategy

	weightsMu   sync.RWMutex
	weights     []float64
	weightsAt   time.Time
	karmaPeriod time.Duration

	rnd   *rand.Rand
	rndMu sync.Mutex
}

// NewGroup builds a Group over the given mirrors. Each mirror gets its own
// circuit breaker, layered above the dashboard's errors-in-a-row
// bookkeeping: the breaker gates selection, while the dashboard's own
// retry-state still governs the agent connection state machine's
// transitions.
func NewGroup(mirrors []*Mirror, strategy Strategy, retries int, pingRequired bool, karmaPeriod time.Duration) *Group {
	if karmaPeriod <= 0 {
		karmaPeriod = DefaultKarmaPeriod
	}
	g := &Group{
		mirrors:     mirrors,
		strategy:    strategy,
		retries:     retries,
		pingReq:     pingRequired,
		karmaPeriod: karmaPeriod,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, m := range mirrors {
		m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        m.Agent.Key(),
			MaxRequests: 1,
			Interval:    karmaPeriod,
			Timeout:     karmaPeriod,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
	}
	g.weights = evenWeights(len(mirrors))
	g.weightsAt = time.Now()
	return g
}

func evenWeights(n int) []float64 {
	if n == 0 {
		return nil
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

// Mirrors returns the group's mirror list. The slice is shared; callers
// must not mutate it.
func (g *Group) Mirrors() []*Mirror { return g.mirrors }

// Retries returns the configured retry count for this group.
func (g *Group) Retries() int { return g.retries }

// PingRequired reports whether a background pinger should run for this
// group. Only HA groups (more than one mirror) are ever pinged.
func (g *Group) PingRequired() bool { return g.pingReq && len(g.mirrors) > 1 }

// RecordOutcome feeds a completed call's success/failure into the mirror's
// circuit breaker, so a sustained failure streak against one mirror trips
// its breaker independent of the weighted-selection penalty.
func (g *Group) RecordOutcome(m *Mirror, err error) {
	_, _ = m.breaker.Execute(func() (interface{}, error) { return nil, err })
}

func (g *Group) available() []*Mirror {
	out := make([]*Mirror, 0, len(g.mirrors))
	for _, m := range g.mirrors {
		if m.breaker.State() != gobreaker.StateOpen {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		// Every mirror's breaker is open: fall back to the full set rather
		// than reporting "no mirrors available" for what may be a blip.
		return g.mirrors
	}
	return out
}

// Choose selects one mirror per the group's configured strategy.
func (g *Group) Choose() *Mirror {
	candidates := g.available()
	if len(candidates) == 0 {
		return nil
	}
	switch g.strategy {
	case StrategyRoundRobin:
		n := atomic.AddUint64(&g.rrCount, 1) - 1
		return candidates[int(n%uint64(len(candidates)))]
	case StrategyAvoidDeadWeighted:
		return g.chooseWeighted(candidates, penaltyDead)
	case StrategyAvoidErrorsWeighted:
		return g.chooseWeighted(candidates, penaltyErrors)
	case StrategyAvoidDeadMinTime:
		return g.chooseMinTime(candidates, penaltyDead)
	case StrategyAvoidErrorsMinTime:
		return g.chooseMinTime(candidates, penaltyErrors)
	default: // StrategyRandom
		return candidates[g.randIntn(len(candidates))]
	}
}

func (g *Group) randIntn(n int) int {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return g.rnd.Intn(n)
}

func (g *Group) randFloat64() float64 {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return g.rnd.Float64()
}

func penaltyDead(snap Snapshot) float64 {
	return float64(snap.ErrorsInARow)
}

func penaltyErrors(snap Snapshot) float64 {
	return float64(snap.NetworkErrors + snap.TimeoutsQuery + snap.TimeoutsConnect)
}

// chooseWeighted recomputes weights if stale (age > karma period) and then
// picks one of the available (non-tripped) candidates by weighted random,
// using each candidate's entry in the group-wide weight vector.
func (g *Group) chooseWeighted(candidates []*Mirror, penalty func(Snapshot) float64) *Mirror {
	g.maybeRecomputeWeights(penalty)

	g.weightsMu.RLock()
	weights := append([]float64(nil), g.weights...)
	g.weightsMu.RUnlock()

	// Build a weight vector over just the candidates, preserving relative
	// weight among them.
	idx := make([]int, 0, len(candidates))
	for _, c := range candidates {
		if i := slices.Index(g.mirrors, c); i >= 0 {
			idx = append(idx, i)
		}
	}
	var total float64
	for _, i := range idx {
		total += weights[i]
	}
	if total <= 0 {
		return candidates[g.randIntn(len(candidates))]
	}
	r := g.randFloat64() * total
	var acc float64
	for k, i := range idx {
		acc += weights[i]
		if r <= acc {
			return candidates[k]
		}
	}
	return candidates[len(candidates)-1]
}

func (g *Group) chooseMinTime(candidates []*Mirror, penalty func(Snapshot) float64) *Mirror {
	best := candidates[0]
	bestLatency := avgLatency(best.Dashboard.Snapshot(NumBuckets))
	bestPenalty := penalty(best.Dashboard.Snapshot(NumBuckets))
	for _, c := range candidates[1:] {
		snap := c.Dashboard.Snapshot(NumBuckets)
		lat := avgLatency(snap)
		pen := penalty(snap)
		if lat < bestLatency || (lat == bestLatency && pen < bestPenalty) {
			best, bestLatency, bestPenalty = c, lat, pen
		}
	}
	return best
}

func avgLatency(snap Snapshot) float64 {
	if snap.ConnectionAttempts == 0 {
		return 0
	}
	return float64(snap.TotalMicroseconds) / float64(snap.ConnectionAttempts)
}

// maybeRecomputeWeights recomputes the weight vector under an exclusive
// lock when its age exceeds the karma period. Reads elsewhere
// take the shared lock and clone.
func (g *Group) maybeRecomputeWeights(penalty func(Snapshot) float64) {
	g.weightsMu.RLock()
	stale := time.Since(g.weightsAt) > g.karmaPeriod
	g.weightsMu.RUnlock()
	if !stale {
		return
	}

	g.weightsMu.Lock()
	defer g.weightsMu.Unlock()
	if time.Since(g.weightsAt) <= g.karmaPeriod {
		return // another goroutine won the race
	}

	raw := make([]float64, len(g.mirrors))
	var sum float64
	for i, m := range g.mirrors {
		p := penalty(m.Dashboard.Snapshot(NumBuckets))
		w := 1.0 / (p + 1.0)
		if w < epsilon {
			w = epsilon
		}
		raw[i] = w
		sum += w
	}
	if sum > 0 {
		for i := range raw {
			raw[i] /= sum
		}
	}
	// Normalising can pull a floored weight back under epsilon; blending
	// every weight toward the floor keeps each >= epsilon and the sum at 1.
	if n := float64(len(raw)); sum > 0 && n*epsilon < 1 {
		for i := range raw {
			raw[i] = epsilon + (1-n*epsilon)*raw[i]
		}
	}
	g.weights = raw
	g.weightsAt = time.Now()
}

// Weights returns a clone of the current weight vector, for tests and
// status reporting.
func (g *Group) Weights() []float64 {
	g.weightsMu.RLock()
	defer g.weightsMu.RUnlock()
	return append([]float64(nil), g.weights...)
}

// Key returns the agent's stable identity for breaker naming and logging.
func (a *AgentDescriptor) Key() string { return a.HostDescriptor.Key() }
