package agentconn

import (
	"time"

	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/wire"
)

// Pinger adapts an Exchange into a dashboard.PingFunc: a low-cost CmdPing
// round trip used by the dashboard package's background pinger to probe HA
// mirror groups without going through the full query dispatch path.
type Pinger struct {
	exchange  *Exchange
	deadlines Deadlines
}

// NewPinger builds a Pinger bound to exchange.
func NewPinger(exchange *Exchange, deadlines Deadlines) *Pinger {
	return &Pinger{exchange: exchange, deadlines: deadlines}
}

// Ping implements dashboard.PingFunc.
func (p *Pinger) Ping(g *dashboard.Group, agent *dashboard.AgentDescriptor) error {
	for _, m := range g.Mirrors() {
		if m.Agent == agent {
			res := p.exchange.Call(g, m, uint16(wire.CmdPing), 1, nil, p.deadlines)
			return res.Err
		}
	}
	return nil
}

var _ dashboard.PingFunc = (&Pinger{}).Ping

// DefaultPingDeadlines is the conservative timeout bundle used when a
// caller wires a Pinger without specifying its own Deadlines.
var DefaultPingDeadlines = Deadlines{
	Connect: 2 * time.Second,
	Send:    1 * time.Second,
	Receive: 2 * time.Second,
}
