package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dreamware/searchd/internal/netio"
)

func newSocket(t *testing.T) *netio.Socket {
	t.Helper()
	s, err := netio.NewSocket(unix.AF_INET)
	require.NoError(t, err)
	return s
}

func TestPool_RentEmptyReportsOpenNew(t *testing.T) {
	p := New(2)
	_, ok := p.Rent()
	assert.False(t, ok)
}

func TestPool_ReturnThenRentIsFIFO(t *testing.T) {
	p := New(2)
	first := newSocket(t)
	second := newSocket(t)

	p.Return(first)
	p.Return(second)
	assert.Equal(t, 2, p.FreeWindow())

	got, ok := p.Rent()
	require.True(t, ok)
	assert.Equal(t, first.FD, got.FD, "FIFO: oldest-returned socket should be rented first")

	got2, ok := p.Rent()
	require.True(t, ok)
	assert.Equal(t, second.FD, got2.FD)

	got.Close()
	got2.Close()
}

func TestPool_ReturnBeyondCapacityCloses(t *testing.T) {
	p := New(1)
	a := newSocket(t)
	b := newSocket(t)

	p.Return(a)
	p.Return(b) // ring full; b should be closed rather than queued
	assert.Equal(t, 1, p.FreeWindow())

	got, ok := p.Rent()
	require.True(t, ok)
	assert.Equal(t, a.FD, got.FD)
	got.Close()
}

func TestPool_ZeroCapacityNeverCaches(t *testing.T) {
	p := New(0)
	s := newSocket(t)
	p.Return(s) // should close s immediately
	_, ok := p.Rent()
	assert.False(t, ok)
}

func TestPool_ShutdownClosesQueuedAndRejectsFurther(t *testing.T) {
	p := New(2)
	p.Return(newSocket(t))
	p.Shutdown()

	assert.True(t, p.IsShutdown())
	assert.Equal(t, 0, p.FreeWindow())

	_, ok := p.Rent()
	assert.False(t, ok)

	p.Return(newSocket(t))
	assert.Equal(t, 0, p.FreeWindow())
}

func TestPool_Reinit(t *testing.T) {
	p := New(1)
	p.Return(newSocket(t))
	p.Reinit(3)
	assert.Equal(t, 3, p.Capacity())
	assert.Equal(t, 0, p.FreeWindow())
	assert.False(t, p.IsShutdown())
}
