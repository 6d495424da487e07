// Package pool implements the persistent connection pool: a
// per-host bounded FIFO cache of live sockets. FIFO discipline matters here
// — it spreads idle time evenly across sockets so kernel-side keepalive
// catches half-open connections early, rather than favoring the most
// recently returned socket.
package pool

import (
	"sync"

	"github.com/dreamware/searchd/internal/netio"
)

// Pool is a bounded FIFO ring of rentable sockets for one host. Rent and
// Return are mutually exclusive under a single mutex; ring indices are
// always taken modulo capacity.
type Pool struct {
	mu         sync.Mutex
	ring       []*netio.Socket
	capacity   int
	readIndex  int
	writeIndex int
	freeWindow int
	shutdown   bool
}

// New creates a Pool with the given capacity. Capacity <= 0 means the pool
// never caches a socket: Rent always reports "open new" and Return always
// closes.
func New(capacity int) *Pool {
	p := &Pool{}
	p.Reinit(capacity)
	return p
}

// Reinit resets the ring to a fresh capacity, closing any sockets currently
// held.
func (p *Pool) Reinit(capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.ring {
		if s != nil {
			s.Close()
		}
	}
	if capacity < 0 {
		capacity = 0
	}
	p.ring = make([]*netio.Socket, capacity)
	p.capacity = capacity
	p.readIndex = 0
	p.writeIndex = 0
	p.freeWindow = 0
	p.shutdown = false
}

// Rent returns a cached socket if one is available, else (nil, false)
// meaning the caller should open a new connection. Never blocks — an empty
// pool is a suspension point only in the sense that the caller must then
// perform its own (separately bounded) connect, not in Rent itself;
// renting never suspends.
func (p *Pool) Rent() (*netio.Socket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown || p.freeWindow <= 0 || p.capacity == 0 {
		return nil, false
	}
	s := p.ring[p.readIndex]
	p.ring[p.readIndex] = nil
	p.readIndex = (p.readIndex + 1) % p.capacity
	p.freeWindow--
	return s, true
}

// Return enqueues sock for reuse. Under shutdown, or when the ring is
// already full, sock is closed instead of enqueued. Free-window never
// exceeds capacity.
func (p *Pool) Return(sock *netio.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown || p.capacity == 0 || p.freeWindow >= p.capacity {
		sock.Close()
		return
	}
	p.ring[p.writeIndex] = sock
	p.writeIndex = (p.writeIndex + 1) % p.capacity
	p.freeWindow++
}

// Shutdown flips the shutdown flag and closes every socket currently
// enqueued. After Shutdown, Rent always reports "open new" and Return
// always closes.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	for i, s := range p.ring {
		if s != nil {
			s.Close()
			p.ring[i] = nil
		}
	}
	p.freeWindow = 0
}

// FreeWindow reports how many sockets are currently rentable. Exposed for
// tests and dashboards; not part of the rent/return hot path.
func (p *Pool) FreeWindow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeWindow
}

// Capacity reports the configured ring size.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}
