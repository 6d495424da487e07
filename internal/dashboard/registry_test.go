package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetCreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(time.Minute, false)
	h := &HostDescriptor{Addr: "10.0.0.1", Port: 9312}

	d := r.Get(h)
	require.NotNil(t, d)
	assert.Same(t, d, h.Dashboard())
}

func TestRegistry_GetReturnsSameDashboardForSameKey(t *testing.T) {
	r := NewRegistry(time.Minute, false)
	h1 := &HostDescriptor{Addr: "10.0.0.1", Port: 9312}
	h2 := &HostDescriptor{Addr: "10.0.0.1", Port: 9312}

	d1 := r.Get(h1)
	d2 := r.Get(h2)
	assert.Same(t, d1, d2)
}

func TestRegistry_GetDistinguishesByKey(t *testing.T) {
	r := NewRegistry(time.Minute, false)
	d1 := r.Get(&HostDescriptor{Addr: "10.0.0.1", Port: 9312})
	d2 := r.Get(&HostDescriptor{Addr: "10.0.0.2", Port: 9312})
	assert.NotSame(t, d1, d2)
}

func TestRegistry_AllReturnsSnapshot(t *testing.T) {
	r := NewRegistry(time.Minute, false)
	r.Get(&HostDescriptor{Addr: "10.0.0.1", Port: 9312})
	r.Get(&HostDescriptor{Addr: "10.0.0.2", Port: 9312})

	all := r.All()
	assert.Len(t, all, 2)
}

func TestHostDescriptor_KeyUnixUsesAddrOnly(t *testing.T) {
	h := HostDescriptor{Family: FamilyUnix, Addr: "/var/run/searchd.sock"}
	assert.Equal(t, "/var/run/searchd.sock", h.Key())
}

func TestHostDescriptor_KeyInetUsesAddrPort(t *testing.T) {
	h := HostDescriptor{Family: FamilyInet, Addr: "10.0.0.1", Port: 9312}
	assert.Equal(t, "10.0.0.1:9312", h.Key())
}
