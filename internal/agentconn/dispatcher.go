package agentconn

import (
	"fmt"
	"time"

	"github.com/dreamware/searchd/internal/dashboard"
)

// Dispatcher drives one logical query against a mirror group: choose a
// mirror, run the exchange, and when the exchange ends in StateRetry wait
// the configured delay and choose again — possibly landing on a different
// mirror — until the group's retry budget is exhausted. Terminal outcomes
// (StateDone, StateFailed) pass through untouched; only the retry loop
// lives here.
type Dispatcher struct {
	exchange            *Exchange
	delayBetweenRetries time.Duration
}

// NewDispatcher builds a Dispatcher over exchange. delayBetweenRetries is
// the pause before re-selecting a mirror after a retryable failure.
func NewDispatcher(exchange *Exchange, delayBetweenRetries time.Duration) *Dispatcher {
	return &Dispatcher{exchange: exchange, delayBetweenRetries: delayBetweenRetries}
}

// Call runs one request against g until it succeeds, fails terminally, or
// the group's retry budget runs out. Each attempt goes back through
// g.Choose(), so a mirror that just timed out is naturally deprioritized
// (its breaker and weights have already absorbed the failure) and the next
// attempt can land on a healthier mirror.
func (d *Dispatcher) Call(g *dashboard.Group, tag uint16, version uint16, body []byte, dl Deadlines) Result {
	retries := g.Retries()
	var last Result
	for attempt := 0; ; attempt++ {
		m := g.Choose()
		if m == nil {
			return Result{State: StateFailed, Err: fmt.Errorf("agentconn: group has no mirrors")}
		}
		last = d.exchange.Call(g, m, tag, version, body, dl)
		if last.State != StateRetry {
			return last
		}
		if attempt >= retries {
			// Budget exhausted: the retryable error becomes terminal.
			last.State = StateFailed
			return last
		}
		if d.delayBetweenRetries > 0 {
			time.Sleep(d.delayBetweenRetries)
		}
	}
}
