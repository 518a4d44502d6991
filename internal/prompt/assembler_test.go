package prompt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/models"
)

type fakeRemote struct {
	blocks map[models.BlockID]*models.Block
	calls  atomic.Int32
}

func (f *fakeRemote) FetchRemote(_ context.Context, id models.BlockID) (*models.Block, error) {
	f.calls.Add(1)
	b, ok := f.blocks[id]
	if !ok {
		return nil, apperr.ErrBlockNotFound
	}
	return b, nil
}

func newReader(blocks ...*models.Block) (*graph.ReadThrough, *fakeRemote) {
	remote := &fakeRemote{blocks: make(map[models.BlockID]*models.Block)}
	for _, b := range blocks {
		remote.blocks[b.ID] = b
	}
	return graph.NewReadThrough(graph.NewCache(), remote), remote
}

func TestSystemPrompt_ConcatenatesWithoutSeparator(t *testing.T) {
	r, _ := newReader(
		&models.Block{ID: 21, Text: "You are helpful. "},
		&models.Block{ID: 22, Text: "Be concise."},
	)
	tmpl := &models.Block{ID: 20, Children: []models.BlockID{21, 22}}

	got, err := NewAssembler(r).SystemPrompt(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if got != "You are helpful. Be concise." {
		t.Errorf("system = %q", got)
	}
}

func TestUserPrompt_NewlineAfterEachChild(t *testing.T) {
	r, _ := newReader(
		&models.Block{ID: 31, Text: "Hi"},
		&models.Block{ID: 32, Text: "there"},
	)
	target := &models.Block{ID: 30, Children: []models.BlockID{31, 32}}

	got, err := NewAssembler(r).UserPrompt(context.Background(), target)
	if err != nil {
		t.Fatalf("UserPrompt: %v", err)
	}
	if got != "Hi\nthere\n" {
		t.Errorf("user = %q", got)
	}
}

func TestPrompts_FollowChildOrder(t *testing.T) {
	r, _ := newReader(&models.Block{ID: 1, Text: "a"}, &models.Block{ID: 2, Text: "b"})
	a := NewAssembler(r)
	ctx := context.Background()

	got, _ := a.SystemPrompt(ctx, &models.Block{Children: []models.BlockID{2, 1}})
	if got != "ba" {
		t.Errorf("reordered system = %q, want ba", got)
	}
	got, _ = a.UserPrompt(ctx, &models.Block{Children: []models.BlockID{2, 1}})
	if got != "b\na\n" {
		t.Errorf("reordered user = %q", got)
	}
}

func TestPrompts_NoChildren(t *testing.T) {
	r, remote := newReader()
	a := NewAssembler(r)
	ctx := context.Background()

	if got, err := a.SystemPrompt(ctx, &models.Block{ID: 1}); err != nil || got != "" {
		t.Errorf("system = %q, %v", got, err)
	}
	if got, err := a.UserPrompt(ctx, &models.Block{ID: 1, Children: []models.BlockID{}}); err != nil || got != "" {
		t.Errorf("user = %q, %v", got, err)
	}
	if n := remote.calls.Load(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
}

func TestPrompts_FetchEachChildOnce(t *testing.T) {
	r, remote := newReader(&models.Block{ID: 5, Text: "x"})
	a := NewAssembler(r)
	ctx := context.Background()
	parent := &models.Block{Children: []models.BlockID{5, 5}}

	_, _ = a.SystemPrompt(ctx, parent)
	_, _ = a.UserPrompt(ctx, parent)
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
}

func TestPrompts_MissingChild(t *testing.T) {
	r, _ := newReader()
	_, err := NewAssembler(r).UserPrompt(context.Background(), &models.Block{ID: 1, Children: []models.BlockID{99}})
	if !errors.Is(err, apperr.ErrBlockNotFound) {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
}
