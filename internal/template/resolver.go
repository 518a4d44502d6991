// Package template finds the prompt template a block is tagged with.
package template

import (
	"context"
	"fmt"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
)

// DefaultLinkProperty is the tag property that links a block to its template.
const DefaultLinkProperty = "magic"

// Graph is the subset of the block graph the resolver reads.
type Graph interface {
	Lookup(ctx context.Context, id models.BlockID) (*models.Block, error)
	ResolveMirror(ctx context.Context, id models.BlockID) (models.BlockID, error)
}

// Resolver resolves the single template block linked from a target block.
type Resolver struct {
	graph    Graph
	linkProp string
}

// NewResolver creates a Resolver that follows the linkProp tag property.
// An empty linkProp selects DefaultLinkProperty.
func NewResolver(g Graph, linkProp string) *Resolver {
	if linkProp == "" {
		linkProp = DefaultLinkProperty
	}
	return &Resolver{graph: g, linkProp: linkProp}
}

// Resolve returns the canonical template block for block.
func (r *Resolver) Resolve(ctx context.Context, block *models.Block) (*models.Block, error) {
	link, err := r.linkedRef(block)
	if err != nil {
		return nil, err
	}

	var target models.BlockID
	found := false
	for _, ref := range block.Refs {
		if ref.RefID() == link {
			target, found = ref.Target(), true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("template: block %d: reference %d: %w", block.ID, link, apperr.ErrTemplateBlockMissing)
	}

	canonical, err := r.graph.ResolveMirror(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("template: resolve mirror %d: %w", target, err)
	}

	tmpl, err := r.graph.Lookup(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("template: block %d: %w: %w", canonical, apperr.ErrTemplateBlockMissing, err)
	}
	return tmpl, nil
}

// linkedRef returns the id of the single reference named by the link
// property of the block's single qualifying tag reference.
func (r *Resolver) linkedRef(block *models.Block) (models.RefID, error) {
	var (
		set   models.ReferenceSet
		count int
	)
	for _, ref := range block.Refs {
		tag, ok := ref.(*models.TagRef)
		if !ok {
			continue
		}
		if s, ok := tag.Property(r.linkProp).(models.ReferenceSet); ok {
			set = s
			count++
		}
	}

	switch {
	case count == 0:
		return 0, fmt.Errorf("template: block %d: %w", block.ID, apperr.ErrNoTemplateFound)
	case count > 1:
		return 0, fmt.Errorf("template: block %d has %d tags with %q: %w", block.ID, count, r.linkProp, apperr.ErrAmbiguousTemplate)
	case len(set.IDs) != 1:
		return 0, fmt.Errorf("template: block %d links %d templates: %w", block.ID, len(set.IDs), apperr.ErrAmbiguousTemplate)
	}
	return set.IDs[0], nil
}
