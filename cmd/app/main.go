package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/magic/internal"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
	pkgconfig "github.com/starford/magic/pkg/config"
)

// loadOptions reads the config file named by --config. A missing file
// falls back to the defaults.
func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{internal.WithConfig(cfg)}
	if found {
		opts = append(opts, internal.WithConfigPath(configPath))
	} else {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return opts, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// Keep stdout for the result.
	opts = append(opts, internal.WithLogOutput(os.Stderr))

	inv := magic.Invocation{
		BlockID:       models.BlockID(cmd.Int("block")),
		CursorBlockID: models.BlockID(cmd.Int("cursor")),
	}
	out, err := internal.Generate(ctx, inv, opts...)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else if out.Err == nil {
		fmt.Println(out.Text)
	}
	if out.Err != nil {
		return errors.New(out.Message)
	}
	return nil
}

func seed(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Seed(ctx, cmd.String("file"), opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "magic",
		Usage:  "Generate block content from tagged prompt templates over a block graph",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and event stream",
				Action: serve,
			},
			{
				Name:   "generate",
				Usage:  "Run the generate command on one block and print the result",
				Action: generate,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "block", Aliases: []string{"b"}, Usage: "Target block id"},
					&cli.IntFlag{Name: "cursor", Usage: "Block being edited, used when --block is not set"},
					&cli.BoolFlag{Name: "json", Usage: "Print the full outcome as JSON"},
				},
			},
			{
				Name:   "seed",
				Usage:  "Load a YAML graph fixture into the store",
				Action: seed,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Seed file", Required: true},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
