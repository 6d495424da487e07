// Package poller implements the readiness poller: a
// level-triggered multiplexer over a set of file descriptors with
// absolute-deadline timeouts, exposing an iterator over ready events and a
// distinguished internal signalling event so another goroutine can wake a
// blocked Wait with bounded latency.
//
// It wraps Linux epoll directly (golang.org/x/sys/unix) rather than a
// portable multiplexer library: the platform split (kqueue/epoll/poll/
// select) stays hidden behind this package's contract, and this daemon
// targets Linux.
package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness a caller wants notified about.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Readiness is a bitmask of what became ready. It is a superset of
// Interest: Hup and Err are always reported regardless of what was
// requested, matching epoll's own behavior.
type Readiness uint32

const (
	ReadinessRead Readiness = 1 << iota
	ReadinessWrite
	ReadinessHup
	ReadinessErr
	ReadinessPri
)

func (r Readiness) Has(bit Readiness) bool { return r&bit != 0 }

func toEpollEvents(i Interest) uint32 {
	var e uint32
	if i&InterestRead != 0 {
		e |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) Readiness {
	var r Readiness
	if e&unix.EPOLLIN != 0 {
		r |= ReadinessRead
	}
	if e&unix.EPOLLOUT != 0 {
		r |= ReadinessWrite
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		r |= ReadinessHup
	}
	if e&unix.EPOLLERR != 0 {
		r |= ReadinessErr
	}
	if e&unix.EPOLLPRI != 0 {
		r |= ReadinessPri
	}
	return r
}

// Event pairs a ready fd with its readiness mask.
type Event struct {
	FD        int
	Readiness Readiness
}

// Poller is a single epoll instance plus a self-wakeup eventfd. It is safe
// for Add/Remove/Change to be called from any goroutine; Wait/Ready must be
// called from a single goroutine at a time (the net-loop task, or
// a dedicated per-connection goroutine using WaitFD).
type Poller struct {
	epfd   int
	wakeFD int
	events []unix.EpollEvent
	ready  []Event
}

// New creates a Poller with its wakeup event already registered.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}
	p := &Poller{epfd: epfd, wakeFD: wakeFD, events: make([]unix.EpollEvent, 256)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		p.Close()
		return nil, fmt.Errorf("poller: register wakeup: %w", err)
	}
	return p, nil
}

// Add registers fd for the given interest.
func (p *Poller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: add fd %d: %w", fd, err)
	}
	return nil
}

// Change updates the interest mask for a registered fd.
func (p *Poller) Change(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: change fd %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd. Removing an fd that is not registered is a no-op
// error from the kernel's perspective but is swallowed here since callers
// routinely remove on a socket they are about to close anyway.
func (p *Poller) Remove(fd int) error {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

// deadlineMillis converts an absolute deadline to an epoll_wait timeout in
// milliseconds. A zero deadline means "block indefinitely" (-1); a deadline
// already in the past means "return immediately" (0), which still drains
// any events that are already pending rather than erroring.
func deadlineMillis(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// Wait blocks until at least one registered fd is ready or deadline
// passes, returning the number of ready events (excluding the internal
// wakeup event, which is drained but not reported). Level-triggered: an fd
// whose readiness persists is reported again on the next Wait call.
func (p *Poller) Wait(deadline time.Time) (int, error) {
	timeout := deadlineMillis(deadline)
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		if int(ev.Fd) == p.wakeFD {
			p.drainWake()
			continue
		}
		p.ready = append(p.ready, Event{FD: int(ev.Fd), Readiness: fromEpollEvents(ev.Events)})
	}
	return len(p.ready), nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

// Ready returns the events produced by the most recent Wait call.
func (p *Poller) Ready() []Event { return p.ready }

// WakeUp causes a concurrently blocked Wait call to return promptly. Safe
// to call from any goroutine.
func (p *Poller) WakeUp() error {
	var b [8]byte
	b[0] = 1
	_, err := unix.Write(p.wakeFD, b[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("poller: wakeup write: %w", err)
	}
	return nil
}

// Close releases the epoll and wakeup file descriptors.
func (p *Poller) Close() error {
	if p.wakeFD > 0 {
		unix.Close(p.wakeFD)
	}
	if p.epfd > 0 {
		unix.Close(p.epfd)
	}
	return nil
}

// WaitFD is a convenience for a caller that owns this Poller exclusively
// (e.g. one worker task waiting on one client socket): it registers fd for
// a single interest, waits once, and unregisters it, returning whether fd
// became ready before deadline. This is the suspension point netio's
// BoundedRead/BoundedSend use.
func (p *Poller) WaitFD(fd int, writable bool, deadline time.Time) (bool, error) {
	interest := InterestRead
	if writable {
		interest = InterestWrite
	}
	if err := p.Add(fd, interest); err != nil {
		return false, err
	}
	defer p.Remove(fd)

	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, nil
		}
		if _, err := p.Wait(deadline); err != nil {
			return false, err
		}
		for _, ev := range p.Ready() {
			if ev.FD == fd {
				return true, nil
			}
		}
		// Interrupted or woken without fd becoming ready: re-wait with
		// whatever time remains.
	}
}
