package graph

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starford/magic/internal/models"
)

// Seed is a YAML description of a block graph fragment.
//
//	blocks:
//	  - id: 1
//	    text: Magic
//	    tag_schema:
//	      - {name: ai, kind: 6, sub_type: single, choices: [template, reference]}
//	  - id: 10
//	    text: Summarize
//	    children: [11, 12]
//	    refs:
//	      - {id: 100, to: 1, kind: tag, properties: [{name: magic, ids: [101]}]}
//	      - {id: 101, to: 20}
//	aliases:
//	  Magic: 1
//	mirrors:
//	  20: 21
type Seed struct {
	Blocks  []SeedBlock                       `yaml:"blocks"`
	Aliases map[string]models.BlockID         `yaml:"aliases"`
	Mirrors map[models.BlockID]models.BlockID `yaml:"mirrors"`
}

// SeedBlock is one block in a Seed.
type SeedBlock struct {
	ID        models.BlockID          `yaml:"id" json:"id"`
	Text      string                  `yaml:"text" json:"text"`
	Children  []models.BlockID        `yaml:"children" json:"children"`
	Refs      []SeedRef               `yaml:"refs" json:"refs"`
	TagSchema []models.PropertySchema `yaml:"tag_schema" json:"tag_schema,omitempty"`
}

// SeedRef is one outbound reference of a SeedBlock. Kind is "tag" or
// "plain" (the default).
type SeedRef struct {
	ID         models.RefID   `yaml:"id" json:"id"`
	To         models.BlockID `yaml:"to" json:"to"`
	Kind       string         `yaml:"kind" json:"kind"`
	Properties []SeedProperty `yaml:"properties" json:"properties,omitempty"`
}

// SeedProperty is a tag property. A property with ids is a reference set,
// anything else is a scalar.
type SeedProperty struct {
	Name  string         `yaml:"name" json:"name"`
	IDs   []models.RefID `yaml:"ids" json:"ids,omitempty"`
	Value string         `yaml:"value" json:"value,omitempty"`
}

// ParseSeed decodes and checks a YAML seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("graph: parse seed: %w", err)
	}
	seen := make(map[models.BlockID]struct{}, len(seed.Blocks))
	refOwner := make(map[models.RefID]models.BlockID)
	for _, b := range seed.Blocks {
		if b.ID <= 0 {
			return nil, fmt.Errorf("graph: seed block id must be positive, got %d", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("graph: duplicate seed block %d", b.ID)
		}
		seen[b.ID] = struct{}{}
		for _, r := range b.Refs {
			if r.ID <= 0 {
				return nil, fmt.Errorf("graph: block %d: ref id must be positive, got %d", b.ID, r.ID)
			}
			if owner, dup := refOwner[r.ID]; dup {
				return nil, fmt.Errorf("graph: block %d: ref %d already used by block %d", b.ID, r.ID, owner)
			}
			refOwner[r.ID] = b.ID
			if r.Kind != "" && r.Kind != "tag" && r.Kind != "plain" {
				return nil, fmt.Errorf("graph: block %d: unknown ref kind %q", b.ID, r.Kind)
			}
			if r.Kind != "tag" && len(r.Properties) > 0 {
				return nil, fmt.Errorf("graph: block %d: plain ref %d cannot carry properties", b.ID, r.ID)
			}
		}
	}
	return &seed, nil
}

// LoadSeedFile reads a YAML seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// Block converts a SeedBlock into a models.Block.
func (sb SeedBlock) Block() *models.Block {
	b := &models.Block{
		ID:       sb.ID,
		Text:     sb.Text,
		Children: sb.Children,
	}
	if b.Children == nil {
		b.Children = []models.BlockID{}
	}
	for _, r := range sb.Refs {
		if r.Kind != "tag" {
			b.Refs = append(b.Refs, models.PlainRef{ID: r.ID, To: r.To})
			continue
		}
		tag := &models.TagRef{ID: r.ID, To: r.To}
		for _, p := range r.Properties {
			if p.IDs != nil {
				tag.Properties = append(tag.Properties, models.ReferenceSet{Name: p.Name, IDs: p.IDs})
			} else {
				tag.Properties = append(tag.Properties, models.Scalar{Name: p.Name, Value: p.Value})
			}
		}
		b.Refs = append(b.Refs, tag)
	}
	return b
}

// SeedBlockOf is the inverse of SeedBlock.Block.
func SeedBlockOf(b *models.Block) SeedBlock {
	sb := SeedBlock{ID: b.ID, Text: b.Text, Children: b.Children, Refs: []SeedRef{}}
	if sb.Children == nil {
		sb.Children = []models.BlockID{}
	}
	for _, ref := range b.Refs {
		switch r := ref.(type) {
		case models.PlainRef:
			sb.Refs = append(sb.Refs, SeedRef{ID: r.ID, To: r.To, Kind: "plain"})
		case *models.TagRef:
			sr := SeedRef{ID: r.ID, To: r.To, Kind: "tag"}
			for _, prop := range r.Properties {
				switch p := prop.(type) {
				case models.ReferenceSet:
					ids := p.IDs
					if ids == nil {
						ids = []models.RefID{}
					}
					sr.Properties = append(sr.Properties, SeedProperty{Name: p.Name, IDs: ids})
				case models.Scalar:
					sr.Properties = append(sr.Properties, SeedProperty{Name: p.Name, Value: p.Value})
				}
			}
			sb.Refs = append(sb.Refs, sr)
		}
	}
	return sb
}

// ApplySeed writes every block, alias and mirror of seed in one transaction.
// Existing aliases with the same name are rebound.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sb := range seed.Blocks {
		if err := upsertBlock(ctx, tx, sb.Block()); err != nil {
			return err
		}
		if len(sb.TagSchema) > 0 {
			if err := setTagSchema(ctx, tx, sb.ID, sb.TagSchema); err != nil {
				return err
			}
		}
	}
	for name, id := range seed.Aliases {
		_, _ = tx.ExecContext(ctx, `DELETE FROM aliases WHERE name = ?`, name)
		if err := createAlias(ctx, tx, name, id); err != nil {
			return err
		}
	}
	for mirror, canonical := range seed.Mirrors {
		if err := setMirror(ctx, tx, mirror, canonical); err != nil {
			return err
		}
	}
	return tx.Commit()
}
