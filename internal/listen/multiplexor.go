package listen

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/netio"
	"github.com/dreamware/searchd/internal/poller"
)

// Handler processes one accepted connection for a given protocol. It owns
// sock for the connection's lifetime and must close it before returning.
type Handler func(ctx context.Context, sock *netio.Socket, proto config.Protocol)

// listeningSocket pairs a bound socket with the endpoint it serves.
type listeningSocket struct {
	sock     *netio.Socket
	endpoint config.Endpoint
	limiter  *rate.Limiter // nil when the endpoint is unthrottled
}

// Multiplexor is the listener multiplexor: it binds every
// configured endpoint, runs a single accept loop that serves every listening
// socket through one shared poller, and dispatches each accepted connection
// to the handler
// registered for its protocol, bounding total concurrent handler goroutines
// with a semaphore.
type Multiplexor struct {
	log         *zap.Logger
	poll        *poller.Poller
	sem         *semaphore.Weighted
	handlers    map[config.Protocol]Handler
	sockets     []listeningSocket
	backlog     int
	acceptRate  float64
	acceptBurst int
}

// NewMultiplexor builds a Multiplexor. workerConcurrency bounds the number
// of connections being actively handled at once across all listeners;
// additional accepted connections block in Accept's dispatch step until a
// slot frees up. acceptRate/acceptBurst configure the accept-time rate
// limiter applied to every non-VIP endpoint; a non-positive rate disables
// throttling entirely.
func NewMultiplexor(log *zap.Logger, workerConcurrency int, acceptRate float64, acceptBurst int, handlers map[config.Protocol]Handler) (*Multiplexor, error) {
	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("listen: multiplexor poller: %w", err)
	}
	if workerConcurrency <= 0 {
		workerConcurrency = 64
	}
	return &Multiplexor{
		log:         log,
		poll:        p,
		sem:         semaphore.NewWeighted(int64(workerConcurrency)),
		handlers:    handlers,
		backlog:     128,
		acceptRate:  acceptRate,
		acceptBurst: acceptBurst,
	}, nil
}

// Bind binds and registers every endpoint. Port ranges bind one socket per
// port in [ep.Port, ep.PortEnd].
func (m *Multiplexor) Bind(endpoints []config.Endpoint) error {
	for _, ep := range endpoints {
		if ep.Protocol == config.ProtocolHTTP && ep.ProtocolExplicit {
			// The http-tagged admin surface is served by net/http (see
			// internal/listen/admin.go), not this raw accept loop.
			continue
		}
		var limiter *rate.Limiter
		// Rate limiting protects ordinary listeners from accept storms; a
		// VIP endpoint must never be throttled away.
		if !ep.VIP && m.acceptRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(m.acceptRate), m.acceptBurst)
		}

		if ep.IsUnix() {
			sock, err := bindUnix(ep.Path, m.backlog)
			if err != nil {
				return err
			}
			if err := m.register(sock, ep, limiter); err != nil {
				return err
			}
			continue
		}

		start, end := ep.Port, ep.Port
		if ep.IsRange() {
			end = ep.PortEnd
		}
		for port := start; port <= end; port++ {
			sock, err := bindTCP(ep.Addr, port, m.backlog)
			if err != nil {
				return err
			}
			portEP := ep
			portEP.Port = port
			portEP.PortEnd = 0
			if err := m.register(sock, portEP, limiter); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetHandler registers (or replaces) the handler for proto. Must be called
// before Run; Bind/Run are not safe to race against it.
func (m *Multiplexor) SetHandler(proto config.Protocol, h Handler) {
	m.handlers[proto] = h
}

func (m *Multiplexor) register(sock *netio.Socket, ep config.Endpoint, limiter *rate.Limiter) error {
	if err := m.poll.Add(sock.FD, poller.InterestRead); err != nil {
		sock.Close()
		return err
	}
	m.sockets = append(m.sockets, listeningSocket{sock: sock, endpoint: ep, limiter: limiter})
	return nil
}

// Run drives the accept loop until ctx is cancelled.
func (m *Multiplexor) Run(ctx context.Context) error {
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return m.closeAll()
		default:
		}
		n, err := m.poll.Wait(deadline)
		if err != nil {
			return fmt.Errorf("listen: multiplexor wait: %w", err)
		}
		deadline = time.Now().Add(200 * time.Millisecond)
		if n == 0 {
			continue
		}
		for _, ev := range m.poll.Ready() {
			if !ev.Readiness.Has(poller.ReadinessRead) {
				continue
			}
			ls := m.find(ev.FD)
			if ls == nil {
				continue
			}
			m.acceptAll(ctx, *ls)
		}
	}
}

func (m *Multiplexor) find(fd int) *listeningSocket {
	for i := range m.sockets {
		if m.sockets[i].sock.FD == fd {
			return &m.sockets[i]
		}
	}
	return nil
}

func (m *Multiplexor) acceptAll(ctx context.Context, ls listeningSocket) {
	for {
		conn, err := acceptOne(ls.sock)
		if err != nil {
			if err != unix.EAGAIN {
				m.log.Warn("accept failed", zap.Error(err), zap.String("endpoint", ls.endpoint.Raw))
			}
			return
		}
		if ls.limiter != nil && !ls.limiter.Allow() {
			conn.Close()
			continue
		}
		m.dispatch(ctx, conn, ls.endpoint)
	}
}

func (m *Multiplexor) dispatch(ctx context.Context, conn *netio.Socket, ep config.Endpoint) {
	proto := ep.Protocol
	if !ep.ProtocolExplicit {
		proto = m.sniff(conn)
	}
	handler, ok := m.handlers[proto]
	if !ok {
		conn.Close()
		return
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		conn.Close()
		return
	}
	go func() {
		defer m.sem.Release(1)
		handler(ctx, conn, proto)
	}()
}

// sniff peeks the connection's first bytes without consuming them, so the
// handler it dispatches to still sees the full stream from byte zero.
func (m *Multiplexor) sniff(conn *netio.Socket) config.Protocol {
	var buf [peekLen]byte
	n, _, err := unix.Recvfrom(conn.FD, buf[:], unix.MSG_PEEK)
	if err != nil || n < peekLen {
		return config.ProtocolLegacyBinary
	}
	return DetectProtocol(buf[:n])
}

func (m *Multiplexor) closeAll() error {
	for _, ls := range m.sockets {
		m.poll.Remove(ls.sock.FD)
		ls.sock.Close()
	}
	return m.poll.Close()
}
