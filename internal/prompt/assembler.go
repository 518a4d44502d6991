// Package prompt builds system and user prompts from block children.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/magic/internal/models"
)

// BlockReader resolves blocks cache-first.
type BlockReader interface {
	Lookup(ctx context.Context, id models.BlockID) (*models.Block, error)
}

// Assembler concatenates the text of a block's direct children.
type Assembler struct {
	blocks BlockReader
}

// NewAssembler creates an Assembler reading children through blocks.
func NewAssembler(blocks BlockReader) *Assembler {
	return &Assembler{blocks: blocks}
}

// SystemPrompt joins the template's children text in order with no separator.
func (a *Assembler) SystemPrompt(ctx context.Context, tmpl *models.Block) (string, error) {
	return a.join(ctx, tmpl, "")
}

// UserPrompt joins the target's children text in order, each followed by a newline.
func (a *Assembler) UserPrompt(ctx context.Context, target *models.Block) (string, error) {
	return a.join(ctx, target, "\n")
}

func (a *Assembler) join(ctx context.Context, parent *models.Block, suffix string) (string, error) {
	var sb strings.Builder
	for _, id := range parent.Children {
		child, err := a.blocks.Lookup(ctx, id)
		if err != nil {
			return "", fmt.Errorf("prompt: child %d of block %d: %w", id, parent.ID, err)
		}
		sb.WriteString(child.Text)
		sb.WriteString(suffix)
	}
	return sb.String(), nil
}
