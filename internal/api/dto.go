package api

import (
	"errors"

	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
)

var errInvalidInput = errors.New("invalid input")

// BlockDTO is the JSON form of a block. Refs carry kind "tag" or "plain".
type BlockDTO = graph.SeedBlock

// AliasResponse is returned by alias lookups.
type AliasResponse struct {
	Name    string         `json:"name" example:"Magic" validate:"required"`
	BlockID models.BlockID `json:"block_id" example:"1" validate:"required"`
}

// GenerateRequest selects the target block of a generate or preview call.
type GenerateRequest = magic.Invocation

// PreviewResponse is the resolved template and assembled prompts.
type PreviewResponse = magic.Prepared

// GenerateResponse is the outcome of a generate call.
type GenerateResponse = magic.Outcome
