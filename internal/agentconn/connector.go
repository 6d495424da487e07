package agentconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/errs"
	"github.com/dreamware/searchd/internal/netio"
	"github.com/dreamware/searchd/internal/pool"
)

// Connector opens connections to one agent, preferring a rented socket from
// a per-host persistent pool, falling back to a fresh non-blocking connect
// wrapped in a bounded retry.
type Connector struct {
	pools          *poolSet
	connectTimeout time.Duration
	retryAttempts  uint
	retryDelay     time.Duration
}

// poolSet lazily creates one persistent pool per host key. Concurrent Dial
// calls for different (or the same) hosts all go through the same
// poolSet, so map access is guarded by mu — unlike pool.Pool itself, which
// already has its own internal lock per instance.
type poolSet struct {
	mu       sync.Mutex
	capacity int
	byKey    map[string]*pool.Pool
}

func newPoolSet(capacity int) *poolSet {
	return &poolSet{capacity: capacity, byKey: make(map[string]*pool.Pool)}
}

func (ps *poolSet) get(key string) *pool.Pool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byKey[key]
	if !ok {
		p = pool.New(ps.capacity)
		ps.byKey[key] = p
	}
	return p
}

// NewConnector builds a Connector. poolCapacity is the per-host persistent
// socket cache size (0 disables persistence entirely).
func NewConnector(poolCapacity int, connectTimeout time.Duration, retryAttempts uint, retryDelay time.Duration) *Connector {
	return &Connector{
		pools:          newPoolSet(poolCapacity),
		connectTimeout: connectTimeout,
		retryAttempts:  retryAttempts,
		retryDelay:     retryDelay,
	}
}

// Dial produces a ready-to-use socket for agent, renting from the
// persistent pool when host.Persistent is set and a cached socket is
// available, otherwise performing a fresh non-blocking connect (with a
// TCP-fast-open attempt when supported, falling back transparently to a
// plain connect when the kernel or remote rejects it) wrapped in a bounded
// retry-go retry loop. wait is a Waiter private to the calling goroutine.
//
// The returned bool reports whether the socket came from the pool (the
// caller should skip the handshake state and go straight to sending a
// request).
func (c *Connector) Dial(ctx context.Context, host *dashboard.HostDescriptor, wait netio.Waiter) (*netio.Socket, bool, error) {
	key := host.Key()
	if host.Persistent {
		p := c.pools.get(key)
		if sock, ok := p.Rent(); ok {
			return sock, true, nil
		}
	}

	ip, err := netio.Resolve(host.Addr, nil)
	if err != nil {
		return nil, false, err
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(errs.Retryable),
	)

	var sock *netio.Socket
	attemptErr := r.Do(func() error {
		s, dialErr := c.dialOnce(ip, host.Port, wait)
		if dialErr != nil {
			return dialErr
		}
		sock = s
		return nil
	})
	if attemptErr != nil {
		return nil, false, attemptErr
	}
	return sock, false, nil
}

// dialOnce performs one non-blocking connect attempt, trying TCP fast open
// first and falling back to a plain connect if the fast-open socket option
// is refused by the kernel.
func (c *Connector) dialOnce(ip net.IP, port int, wait netio.Waiter) (*netio.Socket, error) {
	sock, err := netio.NewSocket(unix.AF_INET)
	if err != nil {
		return nil, err
	}
	if ferr := trySetFastOpen(sock); ferr != nil {
		// Fast open is an optimization, never a hard requirement: proceed
		// with a plain connect on the same socket.
		_ = ferr
	}

	if err := sock.Connect(ip, port); err != nil {
		sock.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrTimeoutConnect, err)
	}

	deadline := time.Now().Add(c.connectTimeout)
	ready, err := wait.WaitFD(sock.FD, true, deadline)
	if err != nil {
		sock.Close()
		return nil, err
	}
	if !ready {
		sock.Close()
		return nil, errs.ErrTimeoutConnect
	}
	if err := sock.ConnectResult(); err != nil {
		sock.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrConnectionReset, err)
	}
	return sock, nil
}

// trySetFastOpen enables TCP_FASTOPEN_CONNECT on sock where the platform
// supports it. Its error is advisory only — callers never fail a dial
// because fast open couldn't be enabled.
func trySetFastOpen(sock *netio.Socket) error {
	const tcpFastopenConnect = 30 // linux/tcp.h TCP_FASTOPEN_CONNECT
	return unix.SetsockoptInt(sock.FD, unix.IPPROTO_TCP, tcpFastopenConnect, 1)
}

// Release returns sock to host's persistent pool if host.Persistent is
// set, otherwise closes it. Call after a successful exchange; a failed
// exchange should close the socket directly instead (a socket that failed
// mid-protocol cannot be trusted for reuse).
func (c *Connector) Release(host *dashboard.HostDescriptor, sock *netio.Socket) {
	if !host.Persistent {
		sock.Close()
		return
	}
	c.pools.get(host.Key()).Return(sock)
}

// Shutdown closes every pooled socket across every host.
func (c *Connector) Shutdown() {
	c.pools.mu.Lock()
	defer c.pools.mu.Unlock()
	for _, p := range c.pools.byKey {
		p.Shutdown()
	}
}
