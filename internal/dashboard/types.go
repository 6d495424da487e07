// Package dashboard implements the host dashboard and mirror group:
// per-host rolling metrics used to drive retries and mirror
// selection, and the ordered, weighted group of agents that stand in for
// one logical remote index.
package dashboard

import "strconv"

// Family is the address family of a HostDescriptor.
type Family int

const (
	FamilyInet Family = iota
	FamilyUnix
)

// HostDescriptor identifies one remote endpoint. The dashboard
// itself is the canonical owner of host identity (keyed by Key()); a
// descriptor holds only a non-owning reference back to it, breaking the
// cyclic-ownership problem between descriptor and dashboard.
type HostDescriptor struct {
	Family       Family
	Addr         string
	Port         int
	ResolvedIP   string
	NeedsResolve bool
	Blackhole    bool
	Persistent   bool

	dash *Dashboard
}

// Key returns the stable "addr:port" identity used to look up this host's
// Dashboard in a Registry.
func (h *HostDescriptor) Key() string {
	if h.Family == FamilyUnix {
		return h.Addr
	}
	return hostPortKey(h.Addr, h.Port)
}

// Dashboard returns the dashboard bound to this descriptor, if any.
func (h *HostDescriptor) Dashboard() *Dashboard { return h.dash }

// bindDashboard attaches d as this descriptor's dashboard. Called once by
// Registry.Get when a descriptor is first resolved to its canonical
// Dashboard.
func (h *HostDescriptor) bindDashboard(d *Dashboard) { h.dash = d }

func hostPortKey(addr string, port int) string {
	return addr + ":" + strconv.Itoa(port)
}

// AgentDescriptor is a HostDescriptor extended with the ordered list of
// index names it serves.
type AgentDescriptor struct {
	HostDescriptor
	Indexes []string
}
