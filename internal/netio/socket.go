// Package netio provides the uniform non-blocking socket operations the
// rest of the daemon is built on: setting non-blocking mode,
// deadline-bounded connect/receive/send, address resolution, and the
// bounded-read loop that turns best-effort chunk I/O into an exactly-N-bytes
// contract.
//
// It wraps raw file descriptors via golang.org/x/sys/unix rather than
// net.Conn because the bounded-read contract needs to distinguish
// would-block from interrupted from reset at the syscall level; net.Conn's
// deadline model folds all three into a single timeout error.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/errs"
)

// Socket is a non-blocking file descriptor plus the minimal bookkeeping the
// rest of the package needs (its poller registration key is just the fd).
type Socket struct {
	FD int
}

// NewSocket creates a non-blocking TCP (or unix, via family) socket.
func NewSocket(family int) (*Socket, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netio: socket: %w", err)
	}
	s := &Socket{FD: fd}
	if err := s.SetNonblock(true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// FromFD wraps an already-open fd (e.g. from Accept) as a Socket, putting
// it into non-blocking mode.
func FromFD(fd int) (*Socket, error) {
	s := &Socket{FD: fd}
	if err := s.SetNonblock(true); err != nil {
		return nil, err
	}
	return s, nil
}

// SetNonblock toggles O_NONBLOCK on the underlying fd.
func (s *Socket) SetNonblock(v bool) error {
	if err := unix.SetNonblock(s.FD, v); err != nil {
		return fmt.Errorf("netio: set nonblock: %w", err)
	}
	return nil
}

// Close closes the underlying fd. Safe to call multiple times.
func (s *Socket) Close() error {
	if s.FD < 0 {
		return nil
	}
	err := unix.Close(s.FD)
	s.FD = -1
	return err
}

// ChunkResult classifies the outcome of a best-effort chunk operation.
type ChunkResult int

const (
	// ChunkOK means n bytes (n may be 0 on EOF-not-yet-observed paths)
	// were transferred with no error.
	ChunkOK ChunkResult = iota
	ChunkWouldBlock
	ChunkInterrupted
	ChunkReset
	ChunkFatal
)

// RecvChunk attempts a single best-effort receive into buf, advancing no
// caller cursor itself — the caller advances its own cursor by n. Returns
// the byte count and a ChunkResult distinguishing would-block, interrupted,
// reset and fatal outcomes.
func (s *Socket) RecvChunk(buf []byte) (int, ChunkResult) {
	n, err := unix.Read(s.FD, buf)
	if err == nil {
		if n == 0 {
			return 0, ChunkReset
		}
		return n, ChunkOK
	}
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, ChunkWouldBlock
	case errors.Is(err, unix.EINTR):
		return 0, ChunkInterrupted
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return 0, ChunkReset
	default:
		return 0, ChunkFatal
	}
}

// SendChunk attempts a single best-effort send of buf. Same contract as
// RecvChunk.
func (s *Socket) SendChunk(buf []byte) (int, ChunkResult) {
	n, err := unix.Write(s.FD, buf)
	if err == nil {
		return n, ChunkOK
	}
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, ChunkWouldBlock
	case errors.Is(err, unix.EINTR):
		return 0, ChunkInterrupted
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return 0, ChunkReset
	default:
		return 0, ChunkFatal
	}
}

// Waiter is the minimal readiness-wait capability BoundedRead/BoundedSend
// need from a poller: block the calling goroutine until fd is ready for the
// given interest or the deadline passes. Implemented by *poller.Poller's
// WaitFD method so netio has no import-time dependency on poller's event
// bookkeeping.
type Waiter interface {
	WaitFD(fd int, writable bool, deadline time.Time) (ready bool, err error)
}

// BoundedRead reads exactly len(dst) bytes from s, honoring deadline and
// interruptible: it loops computing the
// remaining budget, waits for readiness with that budget, fails `timeout`
// on expiry, retries on a spurious interrupt when !interruptible, fails
// `reset` on a zero-byte read, and clears interruptible after any partial
// progress so a later signal cannot cause partial-buffer loss.
func BoundedRead(w Waiter, s *Socket, dst []byte, deadline time.Time, interruptible bool) error {
	got := 0
	for got < len(dst) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.ErrTimeoutQuery
		}
		ready, err := w.WaitFD(s.FD, false, deadline)
		if err != nil {
			return err
		}
		if !ready {
			return errs.ErrTimeoutQuery
		}
		n, res := s.RecvChunk(dst[got:])
		switch res {
		case ChunkOK:
			if n == 0 {
				return errs.ErrConnectionReset
			}
			got += n
			if got > 0 {
				interruptible = false
			}
		case ChunkWouldBlock:
			continue
		case ChunkInterrupted:
			if !interruptible {
				continue
			}
			return errs.ErrInterrupted
		case ChunkReset:
			return errs.ErrConnectionReset
		default:
			return errs.ErrUnexpectedEOF
		}
	}
	return nil
}

// BoundedSend is BoundedRead's write-side counterpart: it drains src
// through best-effort sends until every byte is written or the deadline
// expires.
func BoundedSend(w Waiter, s *Socket, src []byte, deadline time.Time, interruptible bool) error {
	sent := 0
	for sent < len(src) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.ErrTimeoutQuery
		}
		ready, err := w.WaitFD(s.FD, true, deadline)
		if err != nil {
			return err
		}
		if !ready {
			return errs.ErrTimeoutQuery
		}
		n, res := s.SendChunk(src[sent:])
		switch res {
		case ChunkOK:
			sent += n
			if n > 0 {
				interruptible = false
			}
		case ChunkWouldBlock:
			continue
		case ChunkInterrupted:
			if !interruptible {
				continue
			}
			return errs.ErrInterrupted
		case ChunkReset:
			return errs.ErrConnectionReset
		default:
			return errs.ErrUnexpectedEOF
		}
	}
	return nil
}

// Connect starts a non-blocking connect to addr:port. The caller must wait
// for writability (via a Waiter) and then call ConnectResult to learn
// whether the handshake actually succeeded.
func (s *Socket) Connect(ip net.IP, port int) error {
	sa := ipPortToSockaddr(ip, port)
	err := unix.Connect(s.FD, sa)
	if err == nil || errors.Is(err, unix.EINPROGRESS) {
		return nil
	}
	return fmt.Errorf("netio: connect: %w", err)
}

// ConnectResult reads SO_ERROR to determine whether a non-blocking connect
// that became writable actually succeeded.
func (s *Socket) ConnectResult() error {
	errno, err := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netio: getsockopt: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("netio: connect failed: %w", unix.Errno(errno))
	}
	return nil
}

func ipPortToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip.To16())
	return &sa
}

// Resolve resolves host to a single IPv4 address: when the
// DNS answer carries multiple A-records, the first is used and a warning is
// emitted through warn (nil-safe — pass nil to suppress).
func Resolve(host string, warn func(msg string)) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrAddressUnresolvable, host, err)
	}
	var v4 []net.IP
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			v4 = append(v4, ip4)
		}
	}
	if len(v4) == 0 {
		return nil, fmt.Errorf("%w: %s: no A records", errs.ErrAddressUnresolvable, host)
	}
	if len(v4) > 1 && warn != nil {
		warn(fmt.Sprintf("host %s resolved to %d addresses, using first (%s)", host, len(v4), v4[0]))
	}
	return v4[0], nil
}
