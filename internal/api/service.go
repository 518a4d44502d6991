package api

import (
	"context"
	"fmt"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
)

// Service coordinates the block graph and the generate command for the API layer.
type Service struct {
	graph *graph.Graph
	cmd   *magic.Command
}

// NewService creates a new API service.
func NewService(g *graph.Graph, cmd *magic.Command) *Service {
	return &Service{graph: g, cmd: cmd}
}

// GetBlock returns a block with its references flattened for JSON.
func (s *Service) GetBlock(ctx context.Context, id models.BlockID) (*BlockDTO, error) {
	b, err := s.graph.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := graph.SeedBlockOf(b)
	return &dto, nil
}

// PutBlock creates or replaces a block. The id in the path wins over the body.
func (s *Service) PutBlock(ctx context.Context, id models.BlockID, dto BlockDTO) (*BlockDTO, error) {
	dto.ID = id
	seen := make(map[models.RefID]struct{}, len(dto.Refs))
	for _, r := range dto.Refs {
		if r.ID <= 0 {
			return nil, fmt.Errorf("%w: ref id must be positive", errInvalidInput)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate ref id %d", errInvalidInput, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Kind != "" && r.Kind != "tag" && r.Kind != "plain" {
			return nil, fmt.Errorf("%w: unknown ref kind %q", errInvalidInput, r.Kind)
		}
	}
	if err := s.graph.PutBlock(ctx, dto.Block()); err != nil {
		return nil, err
	}
	return s.GetBlock(ctx, id)
}

// Alias resolves a root alias to its block.
func (s *Service) Alias(ctx context.Context, name string) (*AliasResponse, error) {
	id, ok, err := s.graph.RootIDByAlias(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("alias %q: %w", name, apperr.ErrNotFound)
	}
	return &AliasResponse{Name: name, BlockID: id}, nil
}

// Preview resolves the template and assembles the prompts without calling
// the provider.
func (s *Service) Preview(ctx context.Context, inv magic.Invocation) (*magic.Prepared, error) {
	return s.cmd.Prepare(ctx, inv)
}

// Generate runs the generate command.
func (s *Service) Generate(ctx context.Context, inv magic.Invocation) magic.Outcome {
	return s.cmd.Execute(ctx, inv)
}
