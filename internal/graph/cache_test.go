package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
)

type countingRemote struct {
	blocks map[models.BlockID]*models.Block
	delay  time.Duration
	calls  atomic.Int32
}

func (r *countingRemote) FetchRemote(_ context.Context, id models.BlockID) (*models.Block, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	b, ok := r.blocks[id]
	if !ok {
		return nil, apperr.ErrBlockNotFound
	}
	return b, nil
}

func TestReadThrough_FetchesOnceAndCaches(t *testing.T) {
	remote := &countingRemote{blocks: map[models.BlockID]*models.Block{7: {ID: 7, Text: "seven"}}}
	cache := NewCache()
	rt := NewReadThrough(cache, remote)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b, err := rt.Lookup(ctx, 7)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if b.Text != "seven" {
			t.Errorf("text = %q", b.Text)
		}
	}
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
	if _, ok := cache.TryLocal(7); !ok {
		t.Error("block should be cached after lookup")
	}
}

func TestReadThrough_MissIsNotCached(t *testing.T) {
	remote := &countingRemote{blocks: map[models.BlockID]*models.Block{}}
	cache := NewCache()
	rt := NewReadThrough(cache, remote)

	_, err := rt.Lookup(context.Background(), 9)
	if !errors.Is(err, apperr.ErrBlockNotFound) {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache len = %d, want 0", cache.Len())
	}
}

func TestReadThrough_ConcurrentMissesShareFetch(t *testing.T) {
	remote := &countingRemote{
		blocks: map[models.BlockID]*models.Block{3: {ID: 3}},
		delay:  50 * time.Millisecond,
	}
	rt := NewReadThrough(NewCache(), remote)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Lookup(context.Background(), 3); err != nil {
				t.Errorf("Lookup: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
}

func TestCache_PutKeepsFirstValue(t *testing.T) {
	c := NewCache()
	c.PutAt(&models.Block{ID: 1, Text: "first"}, c.Epoch(1))
	c.PutAt(&models.Block{ID: 1, Text: "second"}, c.Epoch(1))
	b, _ := c.TryLocal(1)
	if b.Text != "first" {
		t.Errorf("text = %q, want first", b.Text)
	}
	c.Invalidate(1)
	if _, ok := c.TryLocal(1); ok {
		t.Error("invalidated block still cached")
	}
}

// gatedRemote returns the block text held at call time, after gate is closed.
type gatedRemote struct {
	mu      sync.Mutex
	text    string
	entered chan struct{}
	gate    chan struct{}
}

func (r *gatedRemote) FetchRemote(_ context.Context, id models.BlockID) (*models.Block, error) {
	r.mu.Lock()
	text := r.text
	r.mu.Unlock()
	r.entered <- struct{}{}
	<-r.gate
	return &models.Block{ID: id, Text: text}, nil
}

func (r *gatedRemote) set(text string) {
	r.mu.Lock()
	r.text = text
	r.mu.Unlock()
}

func TestReadThrough_InvalidateDuringFetchIsNotCached(t *testing.T) {
	remote := &gatedRemote{text: "old", entered: make(chan struct{}, 2), gate: make(chan struct{})}
	cache := NewCache()
	rt := NewReadThrough(cache, remote)
	ctx := context.Background()

	done := make(chan *models.Block)
	go func() {
		b, err := rt.Lookup(ctx, 7)
		if err != nil {
			t.Errorf("Lookup: %v", err)
		}
		done <- b
	}()
	<-remote.entered

	remote.set("new")
	cache.Invalidate(7)
	close(remote.gate)

	if b := <-done; b == nil || b.Text != "old" {
		t.Fatalf("in-flight lookup = %+v, want the old block", b)
	}
	if b, ok := cache.TryLocal(7); ok {
		t.Fatalf("stale block cached after invalidate: %q", b.Text)
	}

	b, err := rt.Lookup(ctx, 7)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if b.Text != "new" {
		t.Errorf("text = %q, want new", b.Text)
	}
}

func TestCache_PutAtRejectsStaleEpoch(t *testing.T) {
	c := NewCache()
	epoch := c.Epoch(5)
	c.Invalidate(5)
	if c.PutAt(&models.Block{ID: 5, Text: "stale"}, epoch) {
		t.Error("PutAt accepted a block read before invalidation")
	}
	if !c.PutAt(&models.Block{ID: 5, Text: "fresh"}, c.Epoch(5)) {
		t.Error("PutAt rejected a current epoch")
	}
	if b, _ := c.TryLocal(5); b == nil || b.Text != "fresh" {
		t.Errorf("cached = %+v", b)
	}
}
