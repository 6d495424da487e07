package registry

import (
	"sync"

	"github.com/dreamware/searchd/internal/errs"
)

// IndexType classifies a served index. Only rt and percolate indexes are
// mutable; only mutable indexes grant write locks for insert/replace.
type IndexType int

const (
	IndexPlain IndexType = iota
	IndexTemplate
	IndexRT
	IndexPercolate
	IndexDistributed
)

func (t IndexType) String() string {
	switch t {
	case IndexPlain:
		return "plain"
	case IndexTemplate:
		return "template"
	case IndexRT:
		return "rt"
	case IndexPercolate:
		return "percolate"
	case IndexDistributed:
		return "distributed"
	default:
		return "unknown"
	}
}

// Mutable reports whether indexes of this type accept insert/replace.
func (t IndexType) Mutable() bool {
	return t == IndexRT || t == IndexPercolate
}

// FileAccess selects how each class of index artifact is opened (mmap,
// mlock, or plain file reads). The strings are passed through to the index
// implementation opaquely.
type FileAccess struct {
	Attrs    string
	Blobs    string
	DocLists string
	HitLists string
}

// ServedIndexHandle is one named index entry in the Registry.
// It owns its own reader/writer lock so that a read-locked iteration over
// the Registry does not block a concurrent update to a single index's
// payload, and vice versa.
type ServedIndexHandle struct {
	mu sync.RWMutex

	name    string
	typ     IndexType
	payload interface{}
	stats   *Stats

	path    string
	newPath string // set when a reload is pending; swapped in by the rotation pass

	preopen          bool
	killListTargets  []string
	mass             float64 // relative access cost, used to order rotation
	rotationPriority int
	fileAccess       FileAccess
}

// NewServedIndexHandle wraps payload under name with a fresh Stats
// container.
func NewServedIndexHandle(name string, typ IndexType, payload interface{}) *ServedIndexHandle {
	return &ServedIndexHandle{name: name, typ: typ, payload: payload, stats: NewStats()}
}

// Name returns the index's registry key. Immutable for the handle's
// lifetime.
func (h *ServedIndexHandle) Name() string { return h.name }

// Type returns the index type. Immutable for the handle's lifetime.
func (h *ServedIndexHandle) Type() IndexType { return h.typ }

// Mutable reports whether this handle accepts insert/replace.
func (h *ServedIndexHandle) Mutable() bool { return h.typ.Mutable() }

// Payload returns the current payload under a read lock.
func (h *ServedIndexHandle) Payload() interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.payload
}

// SetPayload swaps the handle's payload under a write lock, for in-place
// index reload. Reload is permitted for every index type; the mutability
// gate below covers data writes only.
func (h *ServedIndexHandle) SetPayload(payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payload = payload
}

// Path returns the index's current on-disk path.
func (h *ServedIndexHandle) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path
}

// SetPath records the index's on-disk path.
func (h *ServedIndexHandle) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// NewPath returns the pending reload path, or empty when no reload is
// staged.
func (h *ServedIndexHandle) NewPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.newPath
}

// StageNewPath records the path a pending reload will swap in.
func (h *ServedIndexHandle) StageNewPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newPath = path
}

// CommitNewPath promotes the staged reload path to the current path.
func (h *ServedIndexHandle) CommitNewPath() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.newPath != "" {
		h.path = h.newPath
		h.newPath = ""
	}
}

// Preopen reports whether the index's files are opened at load time rather
// than on first query.
func (h *ServedIndexHandle) Preopen() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.preopen
}

// SetPreopen sets the preopen flag.
func (h *ServedIndexHandle) SetPreopen(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preopen = v
}

// KillListTargets returns a copy of the indexes this index's kill-list
// applies to.
func (h *ServedIndexHandle) KillListTargets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.killListTargets...)
}

// SetKillListTargets replaces the kill-list target set.
func (h *ServedIndexHandle) SetKillListTargets(targets []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killListTargets = append([]string(nil), targets...)
}

// Mass returns the index's relative access cost.
func (h *ServedIndexHandle) Mass() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mass
}

// SetMass records the index's relative access cost.
func (h *ServedIndexHandle) SetMass(mass float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mass = mass
}

// RotationPriority returns the index's rotation ordering priority; lower
// values rotate first so kill-list chains rotate in dependency order.
func (h *ServedIndexHandle) RotationPriority() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rotationPriority
}

// SetRotationPriority sets the rotation ordering priority.
func (h *ServedIndexHandle) SetRotationPriority(p int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotationPriority = p
}

// FileAccess returns the index's file-access settings.
func (h *ServedIndexHandle) FileAccess() FileAccess {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fileAccess
}

// SetFileAccess replaces the file-access settings.
func (h *ServedIndexHandle) SetFileAccess(fa FileAccess) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fileAccess = fa
}

// Stats returns the handle's query-stats container. Stats has its own
// internal locking; callers do not need the handle's lock to use it.
func (h *ServedIndexHandle) Stats() *Stats { return h.stats }

// WithReadLock runs fn with the handle's payload protected against
// concurrent SetPayload calls, for callers that need more than one
// Payload() read to be consistent (e.g. reading several fields off a
// non-atomic payload type).
func (h *ServedIndexHandle) WithReadLock(fn func(payload interface{})) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(h.payload)
}

// WithWriteLock runs fn with exclusive access to the handle's payload, for
// insert/replace paths that read-modify-write it atomically. Only mutable
// handles (rt, percolate) grant the write lock; every other type fails
// with ErrIndexTypeMismatch.
func (h *ServedIndexHandle) WithWriteLock(fn func(payload interface{}) interface{}) error {
	if !h.typ.Mutable() {
		return errs.ErrIndexTypeMismatch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payload = fn(h.payload)
	return nil
}
