package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/obiverse/nine-s/internal"
	"github.com/obiverse/nine-s/internal/filens"
	"github.com/obiverse/nine-s/internal/kernel"
	"github.com/obiverse/nine-s/internal/mcpserver"
	"github.com/obiverse/nine-s/internal/memns"
	"github.com/obiverse/nine-s/internal/ns"
	pkgconfig "github.com/obiverse/nine-s/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.Bool("mcp") {
		return runMCP(cfg)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// runMCP serves the scroll tools over stdio against an in-process
// kernel built from the configured mounts.
func runMCP(cfg *internal.Config) error {
	k := kernel.New()
	defer k.Close()
	for _, m := range cfg.Mounts {
		var target ns.Namespace
		switch m.Backend {
		case internal.BackendFile:
			if err := os.MkdirAll(m.Root, 0o755); err != nil {
				return fmt.Errorf("mount %q: create root: %w", m.Path, err)
			}
			f, err := filens.New(m.Root)
			if err != nil {
				return fmt.Errorf("mount %q: %w", m.Path, err)
			}
			target = f
		default:
			// Stdio sessions are ephemeral; other backends degrade to
			// memory so the tools always work.
			target = memns.New()
		}
		if err := k.Mount(m.Path, target); err != nil {
			return fmt.Errorf("mount %q: %w", m.Path, err)
		}
	}
	return mcpserver.New(k).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "nine-s",
		Usage:  "Hierarchical scroll store with mounts, versioned history, encryption, and a wire protocol",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:    "mcp",
				Usage:   "Serve MCP tools on stdio instead of the daemon",
				Sources: cli.EnvVars("APP_MCP"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
