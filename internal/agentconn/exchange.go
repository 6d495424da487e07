package agentconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/errs"
	"github.com/dreamware/searchd/internal/poller"
	"github.com/dreamware/searchd/internal/wire"
)

// Deadlines bundles the three independently configurable timeouts an
// exchange honors: connect, send and receive each get their own
// absolute deadline rather than sharing one overall budget, matching the
// per-phase accounting the dashboard buckets expect.
type Deadlines struct {
	Connect time.Duration
	Send    time.Duration
	Receive time.Duration
}

// Exchange drives one request/reply round trip against a single mirror,
// reporting the outcome into that mirror's Dashboard and circuit breaker.
// It is the concrete transition function behind the agentconn State graph:
// StateConnecting -> StateSendingRequest -> StateAwaitingReply -> StateDone,
// with any failure short-circuiting to StateRetry (if the error is
// retryable per errs.Retryable) or StateFailed.
type Exchange struct {
	connector *Connector
	maxBody   uint32
}

// NewExchange builds an Exchange using connector to obtain sockets. Each
// Call gets its own private *poller.Poller rather than sharing
// one across concurrent calls: a Poller's Wait mutates unguarded internal
// slices, so two goroutines calling WaitFD on the same instance would
// race.
func NewExchange(connector *Connector, maxBody uint32) *Exchange {
	return &Exchange{connector: connector, maxBody: maxBody}
}

// Result is the outcome of one Exchange.Call.
type Result struct {
	State     State
	Reply     wire.Envelope
	Err       error
	ConnectMs int64
}

// Call runs the full state sequence against m (a mirror in g) for one
// request envelope, recording the outcome into m's dashboard and g's
// circuit breaker before returning.
func (e *Exchange) Call(g *dashboard.Group, m *dashboard.Mirror, tag uint16, version uint16, body []byte, dl Deadlines) Result {
	start := time.Now()

	p, err := poller.New()
	if err != nil {
		res := Result{State: StateFailed, Err: fmt.Errorf("agentconn: poller: %w", err)}
		e.record(g, m, res, 0, 0, 0)
		return res
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dl.Connect)
	defer cancel()

	sock, fromPool, err := e.connector.Dial(ctx, &m.Agent.HostDescriptor, p)
	connectMs := time.Since(start).Milliseconds()
	if err != nil {
		res := Result{State: e.classify(err), Err: err, ConnectMs: connectMs}
		e.record(g, m, res, 0, connectMs, 1)
		return res
	}
	connectAttempts := 1
	if fromPool {
		connectAttempts = 0
	}

	out := wire.NewNetOutput(sock, p)
	wire.WriteEnvelope(out.Output, tag, version, body)
	if err := out.Flush(time.Now().Add(dl.Send)); err != nil {
		sock.Close()
		res := Result{State: e.classify(err), Err: err, ConnectMs: connectMs}
		e.record(g, m, res, 0, connectMs, connectAttempts)
		return res
	}

	if m.Agent.Blackhole {
		// Blackhole mirrors take the query and never answer: success is
		// reported as soon as the send completes, the socket is closed
		// without waiting for a reply, and nothing beyond the connection
		// attempt is recorded on the mirror's dashboard.
		sock.Close()
		m.Dashboard.RecordConnectAttempts(connectAttempts, connectMs)
		return Result{State: StateDone, ConnectMs: connectMs}
	}

	in := wire.NewNetInput(sock, p)
	reply, err := wire.ReadEnvelope(in, time.Now().Add(dl.Receive), e.maxBody)
	latencyUs := time.Since(start).Microseconds()
	if err != nil {
		sock.Close()
		res := Result{State: e.classify(err), Err: err, ConnectMs: connectMs}
		e.record(g, m, res, latencyUs, connectMs, connectAttempts)
		return res
	}

	if wire.Status(reply.Tag) == wire.StatusError || wire.Status(reply.Tag) == wire.StatusWarning {
		// Application errors do not poison the socket: the remote answered
		// within protocol, it just reported a query-level problem.
		appErr := &errs.AppError{Warning: wire.Status(reply.Tag) == wire.StatusWarning, Message: string(reply.Body)}
		e.connector.Release(&m.Agent.HostDescriptor, sock)
		res := Result{State: StateFailed, Reply: reply, Err: appErr, ConnectMs: connectMs}
		e.record(g, m, res, latencyUs, connectMs, connectAttempts)
		return res
	}

	e.connector.Release(&m.Agent.HostDescriptor, sock)
	res := Result{State: StateDone, Reply: reply, ConnectMs: connectMs}
	e.record(g, m, res, latencyUs, connectMs, connectAttempts)
	return res
}

func (e *Exchange) classify(err error) State {
	if errs.Retryable(err) {
		return StateRetry
	}
	return StateFailed
}

func (e *Exchange) record(g *dashboard.Group, m *dashboard.Mirror, res Result, latencyUs int64, connectMs int64, connectAttempts int) {
	var counters dashboard.Counters
	breakerErr := res.Err
	switch {
	case res.Err == nil:
		counters.CleanSuccesses = 1
	case errors.Is(res.Err, errs.ErrTimeoutConnect):
		counters.TimeoutsConnect = 1
	case errors.Is(res.Err, errs.ErrUnexpectedEOF):
		counters.UnexpectedClose = 1
	case errors.Is(res.Err, errs.ErrAddressUnresolvable):
		counters.ConnectFailures = 1
	default:
		switch kind, ok := errs.ClassifyOf(res.Err); {
		case ok && kind == errs.KindTransientNetwork:
			counters.TimeoutsQuery = 1
		case ok && kind == errs.KindPermanentNetwork:
			counters.NetworkErrors = 1
		case ok && kind == errs.KindProtocol:
			counters.WrongReplies = 1
		default:
			// Application errors (remote answered status=error/warning) and
			// any other non-network failure don't count against the
			// mirror's circuit breaker — the connection itself is fine.
			counters.CriticalWarnings = 1
			breakerErr = nil
		}
	}
	m.Dashboard.Record(counters, latencyUs, connectAttempts, connectMs)
	g.RecordOutcome(m, breakerErr)
}
