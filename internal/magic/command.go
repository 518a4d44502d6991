// Package magic wires template resolution, prompt assembly and provider
// dispatch into the user-invoked generate command.
package magic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
	"github.com/starford/magic/internal/prompt"
	"github.com/starford/magic/internal/provider"
	"github.com/starford/magic/internal/template"
)

// ProgressMessage is the notification sent right before the provider call.
const ProgressMessage = "Generating AI response..."

// Graph is the block graph as read by the command.
type Graph interface {
	template.Graph
}

// Generator produces text from assembled prompts.
type Generator interface {
	Generate(ctx context.Context, system, user string, settings provider.Settings) (string, error)
}

// SettingsSource returns the provider settings in effect right now.
type SettingsSource interface {
	Snapshot() provider.Settings
}

// Invocation selects the target block. BlockID wins when set, otherwise
// CursorBlockID (the block being edited) is used.
type Invocation struct {
	BlockID       models.BlockID `json:"block_id,omitempty"`
	CursorBlockID models.BlockID `json:"cursor_block_id,omitempty"`
}

// Target returns the block the invocation applies to, or 0 if none.
func (inv Invocation) Target() models.BlockID {
	if inv.BlockID != 0 {
		return inv.BlockID
	}
	return inv.CursorBlockID
}

// Prepared holds everything resolved before the provider call.
type Prepared struct {
	Target     *models.Block  `json:"-"`
	Template   *models.Block  `json:"-"`
	TargetID   models.BlockID `json:"target_id"`
	TemplateID models.BlockID `json:"template_id"`
	System     string         `json:"system"`
	User       string         `json:"user"`
}

// Outcome is the result of one Execute call.
type Outcome struct {
	InvocationID string         `json:"invocation_id"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	Text         string         `json:"text,omitempty"`
	TemplateID   models.BlockID `json:"template_id,omitempty"`
	Err          error          `json:"-"`
}

// Command runs the generate action.
type Command struct {
	graph     Graph
	resolver  *template.Resolver
	assembler *prompt.Assembler
	generator Generator
	settings  SettingsSource
	notifier  Notifier
	logger    *slog.Logger
}

// Config collects the collaborators of a Command.
type Config struct {
	Graph        Graph
	Generator    Generator
	Settings     SettingsSource
	Notifier     Notifier
	Logger       *slog.Logger
	LinkProperty string
}

// NewCommand creates a Command from cfg.
func NewCommand(cfg Config) *Command {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Command{
		graph:     cfg.Graph,
		resolver:  template.NewResolver(cfg.Graph, cfg.LinkProperty),
		assembler: prompt.NewAssembler(cfg.Graph),
		generator: cfg.Generator,
		settings:  cfg.Settings,
		notifier:  notifier,
		logger:    logger,
	}
}

// Prepare resolves the target and its template and assembles both prompts.
func (c *Command) Prepare(ctx context.Context, inv Invocation) (*Prepared, error) {
	id := inv.Target()
	if id == 0 {
		return nil, fmt.Errorf("magic: no block selected: %w", apperr.ErrBlockNotFound)
	}
	target, err := c.graph.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	tmpl, err := c.resolver.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	system, err := c.assembler.SystemPrompt(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	user, err := c.assembler.UserPrompt(ctx, target)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Target:     target,
		Template:   tmpl,
		TargetID:   target.ID,
		TemplateID: tmpl.ID,
		System:     system,
		User:       user,
	}, nil
}

// Execute runs the whole command. Failures never escape: each one ends
// the run with a single error notification and is reported in the Outcome.
func (c *Command) Execute(ctx context.Context, inv Invocation) Outcome {
	out := Outcome{InvocationID: uuid.NewString()}
	logger := c.logger.With(
		slog.String("invocation_id", out.InvocationID),
		slog.Int64("block_id", int64(inv.Target())))

	fail := func(err error) Outcome {
		out.Level = models.LevelError
		out.Message = UserMessage(err)
		out.Err = err
		logger.Warn("generate failed", slog.String("error", err.Error()))
		c.notify(ctx, out.Level, out.Message, out.InvocationID)
		return out
	}

	prep, err := c.Prepare(ctx, inv)
	if err != nil {
		return fail(err)
	}
	out.TemplateID = prep.TemplateID
	logger.Debug("prompts assembled",
		slog.Int64("template_id", int64(prep.TemplateID)),
		slog.Int("system_len", len(prep.System)),
		slog.Int("user_len", len(prep.User)))

	settings := c.settings.Snapshot()
	c.notify(ctx, models.LevelSuccess, ProgressMessage, out.InvocationID)

	text, err := c.generator.Generate(ctx, prep.System, prep.User, settings)
	if err != nil {
		return fail(err)
	}

	out.Level = models.LevelSuccess
	out.Message = text
	out.Text = text
	logger.Info("generate succeeded",
		slog.String("provider", settings.Provider),
		slog.Int("text_len", len(text)))
	c.notify(ctx, out.Level, out.Message, out.InvocationID)
	return out
}

func (c *Command) notify(ctx context.Context, level, msg, invocationID string) {
	c.notifier.Notify(ctx, models.Notification{
		Level:        level,
		Message:      msg,
		InvocationID: invocationID,
	})
}

// UserMessage converts a pipeline error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperr.ErrNoTemplateFound):
		return "No AI template found"
	case errors.Is(err, apperr.ErrAmbiguousTemplate):
		return "Too many AI templates found"
	case errors.Is(err, apperr.ErrTemplateBlockMissing):
		return "Template block not found"
	case errors.Is(err, apperr.ErrBlockNotFound):
		return "Block not found"
	case errors.Is(err, apperr.ErrProviderRequestFailed),
		errors.Is(err, apperr.ErrProviderResponseMalformed):
		return err.Error()
	default:
		return "Unknown error: " + err.Error()
	}
}
