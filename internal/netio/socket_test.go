package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/poller"
)

func pairedSockets(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, err := FromFD(fds[0])
	require.NoError(t, err)
	b, err := FromFD(fds[1])
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func newPoller(t *testing.T) *poller.Poller {
	t.Helper()
	p, err := poller.New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewSocket_IsNonblocking(t *testing.T) {
	s, err := NewSocket(unix.AF_INET)
	require.NoError(t, err)
	defer s.Close()

	flags, err := unix.FcntlInt(uintptr(s.FD), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestSocket_CloseIsIdempotent(t *testing.T) {
	s, err := NewSocket(unix.AF_INET)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestRecvChunk_WouldBlockOnEmptyPipe(t *testing.T) {
	a, _ := pairedSockets(t)
	buf := make([]byte, 16)
	n, res := a.RecvChunk(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, ChunkWouldBlock, res)
}

func TestRecvChunk_ResetOnPeerClose(t *testing.T) {
	a, b := pairedSockets(t)
	require.NoError(t, b.Close())

	buf := make([]byte, 16)
	n, res := a.RecvChunk(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, ChunkReset, res)
}

func TestSendRecvChunk_OK(t *testing.T) {
	a, b := pairedSockets(t)
	n, res := a.SendChunk([]byte("hi"))
	require.Equal(t, ChunkOK, res)
	require.Equal(t, 2, n)

	buf := make([]byte, 16)
	got, res := b.RecvChunk(buf)
	require.Equal(t, ChunkOK, res)
	assert.Equal(t, "hi", string(buf[:got]))
}

func TestBoundedRead_FullRoundTrip(t *testing.T) {
	a, b := pairedSockets(t)
	p := newPoller(t)

	go func() {
		require.NoError(t, BoundedSend(p, a, []byte("hello world"), time.Now().Add(time.Second), false))
	}()

	dst := make([]byte, len("hello world"))
	err := BoundedRead(p, b, dst, time.Now().Add(time.Second), false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(dst))
}

func TestBoundedRead_TimesOutWithNoData(t *testing.T) {
	_, b := pairedSockets(t)
	p := newPoller(t)

	dst := make([]byte, 4)
	err := BoundedRead(p, b, dst, time.Now().Add(50*time.Millisecond), false)
	require.Error(t, err)
}

func TestBoundedRead_ResetOnPeerClose(t *testing.T) {
	a, b := pairedSockets(t)
	p := newPoller(t)
	require.NoError(t, a.Close())

	dst := make([]byte, 4)
	err := BoundedRead(p, b, dst, time.Now().Add(time.Second), false)
	require.Error(t, err)
}

func TestConnectAndConnectResult_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
		close(accepted)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := NewSocket(unix.AF_INET)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Connect(addr.IP, addr.Port))

	p := newPoller(t)
	ready, err := p.WaitFD(s.FD, true, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, s.ConnectResult())
	<-accepted
}

func TestConnectResult_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close()) // nothing listening now

	s, err := NewSocket(unix.AF_INET)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Connect(addr.IP, addr.Port))

	p := newPoller(t)
	_, _ = p.WaitFD(s.FD, true, time.Now().Add(time.Second))
	err = s.ConnectResult()
	assert.Error(t, err)
}

func TestResolve_IPLiteralShortCircuits(t *testing.T) {
	ip, err := Resolve("127.0.0.1", nil)
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.ParseIP("127.0.0.1")))
}

func TestResolve_UnknownHostFails(t *testing.T) {
	_, err := Resolve("this-host-does-not-exist.invalid", nil)
	assert.Error(t, err)
}
