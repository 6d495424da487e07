package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/searchd/internal/errs"
)

func TestRegistry_AddUniqueRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUnique(NewServedIndexHandle("products", IndexPlain, nil)))

	err := r.AddUnique(NewServedIndexHandle("products", IndexPlain, nil))
	require.Error(t, err)
	var dup *ErrAlreadyExists
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "products", dup.Name)
}

func TestRegistry_AddOrReplaceCallsPostHook(t *testing.T) {
	r := NewRegistry()
	first := NewServedIndexHandle("products", IndexPlain, "v1")
	r.AddOrReplace(first, nil)

	var displaced *ServedIndexHandle
	second := NewServedIndexHandle("products", IndexPlain, "v2")
	r.AddOrReplace(second, func(old *ServedIndexHandle) { displaced = old })

	require.NotNil(t, displaced)
	assert.Equal(t, "v1", displaced.Payload())
	assert.Equal(t, "v2", r.Get("products").Payload())
}

func TestRegistry_DeleteIfNil(t *testing.T) {
	r := NewRegistry()
	r.AddOrReplace(NewServedIndexHandle("empty", IndexPlain, nil), nil)
	r.AddOrReplace(NewServedIndexHandle("full", IndexPlain, "payload"), nil)

	assert.True(t, r.DeleteIfNil("empty"))
	assert.False(t, r.Contains("empty"))

	assert.False(t, r.DeleteIfNil("full"))
	assert.True(t, r.Contains("full"))
}

func TestRegistry_Delete(t *testing.T) {
	r := NewRegistry()
	r.AddOrReplace(NewServedIndexHandle("a", IndexPlain, nil), nil)
	assert.Equal(t, 1, r.Len())

	removed := r.Delete("a")
	require.NotNil(t, removed)
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Delete("a"))
}

func TestRegistry_EachWriteLockedPrunes(t *testing.T) {
	r := NewRegistry()
	r.AddOrReplace(NewServedIndexHandle("keep", IndexPlain, "x"), nil)
	r.AddOrReplace(NewServedIndexHandle("drop", IndexPlain, nil), nil)

	r.EachWriteLocked(func(name string, h *ServedIndexHandle) bool {
		return h.Payload() != nil
	})

	assert.True(t, r.Contains("keep"))
	assert.False(t, r.Contains("drop"))
}

func TestRegistry_NamesSnapshot(t *testing.T) {
	r := NewRegistry()
	r.AddOrReplace(NewServedIndexHandle("a", IndexPlain, nil), nil)
	r.AddOrReplace(NewServedIndexHandle("b", IndexPlain, nil), nil)
	names := r.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestServedIndexHandle_WithWriteLock(t *testing.T) {
	h := NewServedIndexHandle("counter", IndexRT, 0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, h.WithWriteLock(func(payload interface{}) interface{} {
				return payload.(int) + 1
			}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, h.Payload())
}

func TestServedIndexHandle_WriteLockRequiresMutableType(t *testing.T) {
	for typ, mutable := range map[IndexType]bool{
		IndexPlain:       false,
		IndexTemplate:    false,
		IndexRT:          true,
		IndexPercolate:   true,
		IndexDistributed: false,
	} {
		h := NewServedIndexHandle("idx", typ, 0)
		assert.Equal(t, mutable, h.Mutable(), typ.String())
		err := h.WithWriteLock(func(payload interface{}) interface{} { return payload })
		if mutable {
			assert.NoError(t, err, typ.String())
		} else {
			assert.ErrorIs(t, err, errs.ErrIndexTypeMismatch, typ.String())
		}
	}
}

func TestServedIndexHandle_ReloadPathStaging(t *testing.T) {
	h := NewServedIndexHandle("products", IndexPlain, nil)
	h.SetPath("/data/products")
	h.StageNewPath("/data/products.new")
	assert.Equal(t, "/data/products", h.Path())
	assert.Equal(t, "/data/products.new", h.NewPath())

	h.CommitNewPath()
	assert.Equal(t, "/data/products.new", h.Path())
	assert.Equal(t, "", h.NewPath())
}

func TestServedIndexHandle_DescriptorFields(t *testing.T) {
	h := NewServedIndexHandle("rt", IndexRT, nil)
	h.SetPreopen(true)
	h.SetKillListTargets([]string{"main", "delta"})
	h.SetMass(1.5)
	h.SetRotationPriority(2)
	h.SetFileAccess(FileAccess{Attrs: "mmap", Blobs: "mmap", DocLists: "file", HitLists: "file"})

	assert.True(t, h.Preopen())
	assert.Equal(t, []string{"main", "delta"}, h.KillListTargets())
	assert.Equal(t, 1.5, h.Mass())
	assert.Equal(t, 2, h.RotationPriority())
	assert.Equal(t, "mmap", h.FileAccess().Attrs)
}
