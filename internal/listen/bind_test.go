package listen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/netio"
)

func TestBindTCP_AcceptOneRoundTrip(t *testing.T) {
	sock, err := bindTCP("127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer sock.Close()

	var sa unix.Sockaddr
	sa, err = unix.Getsockname(sock.FD)
	require.NoError(t, err)
	addr, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)

	client, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(client)
	csa := &unix.SockaddrInet4{Port: addr.Port, Addr: addr.Addr}
	require.NoError(t, unix.Connect(client, csa))

	accepted, err := acceptOneRetrying(t, sock)
	require.NoError(t, err)
	defer accepted.Close()
}

func acceptOneRetrying(t *testing.T, sock *netio.Socket) (*netio.Socket, error) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		s, err := acceptOne(sock)
		if err == nil {
			return s, nil
		}
		if err == unix.EAGAIN {
			continue
		}
		return nil, err
	}
	t.Fatal("accept never became ready")
	return nil, nil
}

func TestBindUnix_RemovesStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "searchd.sock")

	sock1, err := bindUnix(path, 16)
	require.NoError(t, err)
	sock1.Close()

	sock2, err := bindUnix(path, 16)
	require.NoError(t, err)
	defer sock2.Close()
}
