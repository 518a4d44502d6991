package graph

import (
	"context"

	"github.com/starford/magic/internal/models"
)

// Accessor is the block graph as seen by the generation pipeline.
type Accessor interface {
	// GetBlock returns a block only if it is already cached.
	GetBlock(id models.BlockID) (*models.Block, bool)
	// FetchBlock loads a block from the store, bypassing the cache.
	FetchBlock(ctx context.Context, id models.BlockID) (*models.Block, error)
	// Lookup returns a block from the cache, fetching it on a miss.
	Lookup(ctx context.Context, id models.BlockID) (*models.Block, error)
	RootIDByAlias(ctx context.Context, name string) (models.BlockID, bool, error)
	ResolveMirror(ctx context.Context, id models.BlockID) (models.BlockID, error)
}

// Graph joins the SQLite store and the in-memory cache.
type Graph struct {
	store *Store
	cache *Cache
	rt    *ReadThrough
}

// Verify *Graph satisfies Accessor at compile time.
var _ Accessor = (*Graph)(nil)

// New creates a Graph over store with an empty cache.
func New(store *Store) *Graph {
	cache := NewCache()
	return &Graph{
		store: store,
		cache: cache,
		rt:    NewReadThrough(cache, store),
	}
}

// Store returns the backing store.
func (g *Graph) Store() *Store { return g.store }

// GetBlock implements Accessor.
func (g *Graph) GetBlock(id models.BlockID) (*models.Block, bool) {
	return g.cache.TryLocal(id)
}

// FetchBlock implements Accessor.
func (g *Graph) FetchBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	return g.store.FetchRemote(ctx, id)
}

// Lookup implements Accessor.
func (g *Graph) Lookup(ctx context.Context, id models.BlockID) (*models.Block, error) {
	return g.rt.Lookup(ctx, id)
}

// RootIDByAlias implements Accessor.
func (g *Graph) RootIDByAlias(ctx context.Context, name string) (models.BlockID, bool, error) {
	return g.store.RootIDByAlias(ctx, name)
}

// ResolveMirror implements Accessor.
func (g *Graph) ResolveMirror(ctx context.Context, id models.BlockID) (models.BlockID, error) {
	return g.store.ResolveMirror(ctx, id)
}

// PutBlock writes b to the store and drops any cached copy.
func (g *Graph) PutBlock(ctx context.Context, b *models.Block) error {
	if err := g.store.UpsertBlock(ctx, b); err != nil {
		return err
	}
	g.cache.Invalidate(b.ID)
	return nil
}

// ApplySeed loads seed into the store and drops every seeded block from the cache.
func (g *Graph) ApplySeed(ctx context.Context, seed *Seed) error {
	if err := g.store.ApplySeed(ctx, seed); err != nil {
		return err
	}
	for _, b := range seed.Blocks {
		g.cache.Invalidate(b.ID)
	}
	return nil
}
