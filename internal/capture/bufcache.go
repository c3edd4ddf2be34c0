package capture

import (
	"sync"

	"golang.org/x/sys/unix"
)

// BufferCache maps a GPU-exportable buffer descriptor's identity (device +
// inode, read via fstat the way api/pkg/drm's ioctl_linux.go reads DRM
// resource identities) to its already-mapped bytes, so repeated capture of
// the same backing allocation does not incur a remap. Entries are weak in
// the sense that Release must be called when the producer is done with a
// descriptor; the cache never extends a descriptor's lifetime past that.
type BufferCache struct {
	mu      sync.Mutex
	entries map[descriptorKey]*cacheEntry
}

type descriptorKey struct {
	dev uint64
	ino uint64
}

type cacheEntry struct {
	refs int
	data []byte
}

// NewBufferCache returns an empty cache.
func NewBufferCache() *BufferCache {
	return &BufferCache{entries: make(map[descriptorKey]*cacheEntry)}
}

// Identity computes the stable cache key for an open file descriptor
// backing a GPU-exportable buffer.
func Identity(fd int) (uint64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return 0, err
	}
	// Fold device+inode into a single key; collisions across devices are
	// astronomically unlikely for the lifetime of one process and the
	// consequence of one (a spurious cache hit) is bounded by the producer
	// re-validating size on use.
	return uint64(stat.Dev)<<32 ^ uint64(stat.Ino), nil
}

// Lookup returns previously-mapped bytes for fd's descriptor identity, if
// cached, incrementing its reference count.
func (c *BufferCache) Lookup(fd int) ([]byte, bool) {
	id, err := Identity(fd)
	if err != nil {
		return nil, false
	}
	key := descriptorKey{dev: id >> 32, ino: id & 0xffffffff}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry.refs++
	return entry.data, true
}

// Store caches mapped bytes for fd's descriptor identity.
func (c *BufferCache) Store(fd int, data []byte) {
	id, err := Identity(fd)
	if err != nil {
		return
	}
	key := descriptorKey{dev: id >> 32, ino: id & 0xffffffff}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = &cacheEntry{refs: 1, data: data}
}

// Release drops a reference to fd's cached mapping, invalidating the
// entry once no one holds it (spec §4.1: "invalidates on buffer release").
func (c *BufferCache) Release(fd int) {
	id, err := Identity(fd)
	if err != nil {
		return
	}
	key := descriptorKey{dev: id >> 32, ino: id & 0xffffffff}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.entries, key)
	}
}

// Clear empties the cache unconditionally, used on adapter Stop.
func (c *BufferCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[descriptorKey]*cacheEntry)
}
