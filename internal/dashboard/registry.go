package dashboard

import (
	"sync"
	"time"
)

// Registry is the dashboard registry, keyed by addr:port. It breaks the
// dashboard/host-descriptor/mirror-group ownership cycle: it is the single
// canonical owner of every Dashboard in the process, and HostDescriptors
// carry only a non-owning reference obtained through Get.
type Registry struct {
	mu          sync.RWMutex
	byKey       map[string]*Dashboard
	karmaPeriod time.Duration
	metrics     *metricsSet
}

// NewRegistry creates an empty dashboard Registry. If metricsEnabled is
// true, every dashboard created through it also exports Prometheus series.
func NewRegistry(karmaPeriod time.Duration, metricsEnabled bool) *Registry {
	r := &Registry{byKey: make(map[string]*Dashboard), karmaPeriod: karmaPeriod}
	if metricsEnabled {
		r.metrics = newMetricsSet()
	}
	return r
}

// Get returns the canonical Dashboard for host, creating one on first use,
// and binds host.dash to it so the caller's descriptor can reach it
// directly afterward.
func (r *Registry) Get(host *HostDescriptor) *Dashboard {
	key := host.Key()

	r.mu.RLock()
	d, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		host.bindDashboard(d)
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok = r.byKey[key]; ok {
		host.bindDashboard(d)
		return d
	}
	d = newDashboard(*host, r.karmaPeriod)
	if r.metrics != nil {
		d.metrics = r.metrics.forHost(key)
	}
	r.byKey[key] = d
	host.bindDashboard(d)
	return d
}

// All returns every dashboard currently tracked, for admin/status reporting.
func (r *Registry) All() map[string]*Dashboard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Dashboard, len(r.byKey))
	for k, v := range r.byKey {
		out[k] = v
	}
	return out
}
