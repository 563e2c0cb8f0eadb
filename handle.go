package cratefs

import (
	"sync"

	"github.com/AL68-co/fuse-crates/cache"
	"github.com/AL68-co/fuse-crates/internal/tarindex"
	"github.com/AL68-co/fuse-crates/registry"
)

// Handle is an open file. It pins the cache blocks of its most recent read
// until the next read or until it is released.
type Handle struct {
	path    string
	archive *registry.Archive
	entry   *tarindex.Entry

	mu       sync.Mutex
	lease    *cache.Lease
	released bool
}

// Path returns the path the handle was opened with.
func (h *Handle) Path() string { return h.path }

// Archive returns the ID of the archive holding the file.
func (h *Handle) Archive() string { return h.archive.ID() }

// Size returns the file size.
func (h *Handle) Size() int64 { return h.entry.Size }

func (h *Handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// keep swaps in l as the handle's lease. It reports false and releases l
// if the handle was released while the read was in flight.
func (h *Handle) keep(l *cache.Lease) bool {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		l.Release()
		return false
	}
	old := h.lease
	h.lease = l
	h.mu.Unlock()

	if old != nil {
		old.Release()
	}
	return true
}

// release marks the handle released and drops its lease. It reports
// whether this call did so.
func (h *Handle) release() bool {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return false
	}
	h.released = true
	l := h.lease
	h.lease = nil
	h.mu.Unlock()

	if l != nil {
		l.Release()
	}
	return true
}
