package listen

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/netio"
)

// bindTCP creates, binds and listens on a non-blocking IPv4 TCP socket.
// addr may be empty for "all interfaces".
func bindTCP(addr string, port int, backlog int) (*netio.Socket, error) {
	sock, err := netio.NewSocket(unix.AF_INET)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(sock.FD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen: setsockopt reuseaddr: %w", err)
	}

	ip := net.IPv4zero
	if addr != "" {
		resolved, err := netio.Resolve(addr, nil)
		if err != nil {
			sock.Close()
			return nil, err
		}
		ip = resolved
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip.To4())
	if err := unix.Bind(sock.FD, sa); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen: bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(sock.FD, backlog); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen: listen %s:%d: %w", addr, port, err)
	}
	return sock, nil
}

// bindUnix creates, binds and listens on a non-blocking unix-domain socket
// at path. Any stale socket file left at path from a previous run is
// removed first.
func bindUnix(path string, backlog int) (*netio.Socket, error) {
	sock, err := netio.NewSocket(unix.AF_UNIX)
	if err != nil {
		return nil, err
	}
	_ = unix.Unlink(path)
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(sock.FD, sa); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen: bind %s: %w", path, err)
	}
	if err := unix.Listen(sock.FD, backlog); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen: listen %s: %w", path, err)
	}
	return sock, nil
}

// acceptOne accepts a single pending connection on sock as a non-blocking
// Socket. Returns (nil, unix.EAGAIN) when nothing is pending.
func acceptOne(sock *netio.Socket) (*netio.Socket, error) {
	fd, _, err := unix.Accept4(sock.FD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &netio.Socket{FD: fd}, nil
}
