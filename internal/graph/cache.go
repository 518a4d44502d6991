package graph

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/starford/magic/internal/models"
)

// Local is the in-memory side of a read-through lookup.
type Local interface {
	// TryLocal returns the cached block for id, if any.
	TryLocal(id models.BlockID) (*models.Block, bool)
	// Epoch returns the invalidation count of id.
	Epoch(id models.BlockID) uint64
	// PutAt caches b unless its id was invalidated after epoch was read.
	// An already cached id keeps its first value.
	PutAt(b *models.Block, epoch uint64) bool
}

// Remote is the backing side of a read-through lookup.
type Remote interface {
	FetchRemote(ctx context.Context, id models.BlockID) (*models.Block, error)
}

// Cache is a concurrency-safe block cache implementing Local.
type Cache struct {
	mu     sync.RWMutex
	blocks map[models.BlockID]*models.Block
	epochs map[models.BlockID]uint64
}

// NewCache creates an empty block cache.
func NewCache() *Cache {
	return &Cache{
		blocks: make(map[models.BlockID]*models.Block),
		epochs: make(map[models.BlockID]uint64),
	}
}

// TryLocal implements Local.
func (c *Cache) TryLocal(id models.BlockID) (*models.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[id]
	return b, ok
}

// Epoch implements Local.
func (c *Cache) Epoch(id models.BlockID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[id]
}

// PutAt implements Local.
func (c *Cache) PutAt(b *models.Block, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[b.ID] != epoch {
		return false
	}
	if _, ok := c.blocks[b.ID]; !ok {
		c.blocks[b.ID] = b
	}
	return true
}

// Invalidate drops id so the next lookup goes to the backing store. Fetches
// already in flight for id will not populate the cache.
func (c *Cache) Invalidate(id models.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocks, id)
	c.epochs[id]++
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// ReadThrough resolves blocks from a Local cache first and falls back to a
// Remote fetch on a miss, populating the cache with the result. Concurrent
// misses for the same id and epoch share one remote fetch; a fetch that
// straddles an invalidation is returned to its callers but not cached.
type ReadThrough struct {
	local  Local
	remote Remote
	group  singleflight.Group
}

// NewReadThrough joins a cache and a backing store.
func NewReadThrough(local Local, remote Remote) *ReadThrough {
	return &ReadThrough{local: local, remote: remote}
}

// Lookup returns the block for id.
func (r *ReadThrough) Lookup(ctx context.Context, id models.BlockID) (*models.Block, error) {
	epoch := r.local.Epoch(id)
	if b, ok := r.local.TryLocal(id); ok {
		return b, nil
	}
	key := strconv.FormatInt(int64(id), 10) + "@" + strconv.FormatUint(epoch, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		if b, ok := r.local.TryLocal(id); ok {
			return b, nil
		}
		b, err := r.remote.FetchRemote(ctx, id)
		if err != nil {
			return nil, err
		}
		r.local.PutAt(b, epoch)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Block), nil
}
