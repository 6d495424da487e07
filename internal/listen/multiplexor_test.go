package listen

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/netio"
)

func TestMultiplexor_BindAndDispatchLegacyBinary(t *testing.T) {
	var handled int32
	handlers := map[config.Protocol]Handler{
		config.ProtocolLegacyBinary: func(ctx context.Context, sock *netio.Socket, proto config.Protocol) {
			atomic.AddInt32(&handled, 1)
			sock.Close()
		},
	}
	m, err := NewMultiplexor(zap.NewNop(), 4, 0, 0, handlers)
	require.NoError(t, err)

	ep := config.Endpoint{Port: 0, Protocol: config.ProtocolLegacyBinary, ProtocolExplicit: true}
	require.NoError(t, m.Bind([]config.Endpoint{ep}))
	require.Len(t, m.sockets, 1)

	addr := boundTCPAddr(t, m.sockets[0].sock)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go m.Run(ctx)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&handled) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMultiplexor_BindSkipsExplicitHTTPEndpoint(t *testing.T) {
	m, err := NewMultiplexor(zap.NewNop(), 4, 0, 0, map[config.Protocol]Handler{})
	require.NoError(t, err)

	ep := config.Endpoint{Port: 0, Protocol: config.ProtocolHTTP, ProtocolExplicit: true}
	require.NoError(t, m.Bind([]config.Endpoint{ep}))
	require.Len(t, m.sockets, 0)
}

func TestMultiplexor_BindPortRangeOpensOneSocketPerPort(t *testing.T) {
	m, err := NewMultiplexor(zap.NewNop(), 4, 0, 0, map[config.Protocol]Handler{})
	require.NoError(t, err)

	first, err := findFreeTCPPort(t)
	require.NoError(t, err)
	ep := config.Endpoint{Port: first, PortEnd: first + 1, Protocol: config.ProtocolLegacyBinary, ProtocolExplicit: true}
	require.NoError(t, m.Bind([]config.Endpoint{ep}))
	require.Len(t, m.sockets, 2)
}

func boundTCPAddr(t *testing.T, sock *netio.Socket) string {
	t.Helper()
	sa, err := unix.Getsockname(sock.FD)
	require.NoError(t, err)
	in4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return fmt.Sprintf("127.0.0.1:%d", in4.Port)
}

func findFreeTCPPort(t *testing.T) (int, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
