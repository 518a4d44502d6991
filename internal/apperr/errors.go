// Package apperr holds the sentinel errors shared across the generation pipeline.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrBlockNotFound             = errors.New("block not found")
	ErrNoTemplateFound           = errors.New("no AI template found")
	ErrAmbiguousTemplate         = errors.New("too many AI templates found")
	ErrTemplateBlockMissing      = errors.New("template block not found")
	ErrProviderRequestFailed     = errors.New("AI generation failed")
	ErrProviderResponseMalformed = errors.New("AI response malformed")
)
