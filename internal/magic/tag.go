package magic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
	"github.com/starford/magic/internal/provider"
)

// DefaultTagAlias is the alias of the tag block that marks templates.
const DefaultTagAlias = "Magic"

// TagProperties is the property schema set on the tag block.
var TagProperties = []models.PropertySchema{{
	Name:    "ai",
	Kind:    models.PropertyTextChoices,
	SubType: "single",
	Choices: []string{"template", "reference"},
}}

// TagStore is the part of the graph store the tag bootstrap writes to.
type TagStore interface {
	RootIDByAlias(ctx context.Context, name string) (models.BlockID, bool, error)
	CreateAliasedRoot(ctx context.Context, name string) (models.BlockID, error)
	SetTagSchema(ctx context.Context, id models.BlockID, props []models.PropertySchema) error
}

// Tagger makes sure the template tag block exists and carries its schema.
type Tagger struct {
	store  TagStore
	alias  string
	logger *slog.Logger
}

// NewTagger creates a Tagger for alias. An empty alias selects DefaultTagAlias.
func NewTagger(store TagStore, alias string, logger *slog.Logger) *Tagger {
	if alias == "" {
		alias = DefaultTagAlias
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tagger{store: store, alias: alias, logger: logger}
}

// Ensure creates the tag block and its alias when missing. The property
// schema is written when the block was created or when update is set.
func (t *Tagger) Ensure(ctx context.Context, update bool) (models.BlockID, error) {
	id, ok, err := t.store.RootIDByAlias(ctx, t.alias)
	if err != nil {
		return 0, fmt.Errorf("magic: lookup tag %q: %w", t.alias, err)
	}

	created := false
	if !ok {
		id, created, err = t.create(ctx)
		if err != nil {
			return 0, err
		}
	}

	if created || update {
		if err := t.store.SetTagSchema(ctx, id, TagProperties); err != nil {
			return 0, fmt.Errorf("magic: set tag properties: %w", err)
		}
		t.logger.Info("tag properties set",
			slog.String("alias", t.alias),
			slog.Int64("block_id", int64(id)),
			slog.Bool("created", created))
	}
	return id, nil
}

func (t *Tagger) create(ctx context.Context) (models.BlockID, bool, error) {
	id, err := t.store.CreateAliasedRoot(ctx, t.alias)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		// Another caller won the race; use its block.
		existing, ok, lookupErr := t.store.RootIDByAlias(ctx, t.alias)
		if lookupErr != nil || !ok {
			return 0, false, fmt.Errorf("magic: lookup tag %q after conflict: %w", t.alias, err)
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("magic: create tag block: %w", err)
	}
	return id, true, nil
}

// OnSettingsChanged rewrites the tag properties after a settings reload.
func (t *Tagger) OnSettingsChanged(ctx context.Context, _ provider.Settings) {
	if _, err := t.Ensure(ctx, true); err != nil {
		t.logger.Warn("tag refresh failed", slog.String("error", err.Error()))
	}
}
