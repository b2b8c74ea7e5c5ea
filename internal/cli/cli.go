// Package cli implements the trustvoice command line.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"trustvoice/internal/config"
	"trustvoice/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// Run executes the command line with args. Output is written to stdout.
func Run(ctx context.Context, args []string, version string) error {
	return run(ctx, args, version, os.Stdout)
}

func run(ctx context.Context, args []string, version string, stdout io.Writer) error {
	var (
		flags globalFlags
		cfg   = new(config.AppConfig)
	)

	app := &cli.Command{
		Name:    "trustvoice",
		Usage:   "Search and question financial complaints with retrieval-augmented answers",
		Version: version,
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to YAML config file (default ./config.yaml, then ~/.config/trustvoice/config.yaml)",
				Sources:     cli.EnvVars("TRUSTVOICE_CONFIG"),
				Destination: &flags.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("TRUSTVOICE_LOG_LEVEL"),
				Destination: &flags.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Sources:     cli.EnvVars("TRUSTVOICE_LOG_FORMAT"),
				Destination: &flags.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			loaded, err := loadConfig(flags.configPath)
			if err != nil {
				return ctx, err
			}
			*cfg = *loaded

			if err := configureLogger(cfg, flags); err != nil {
				return ctx, err
			}
			logging.Default().Debug("configuration loaded", "config", cfg)
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdBuild(cfg),
			cmdSearch(cfg),
			cmdAsk(cfg),
			cmdInfo(cfg),
			cmdServe(cfg),
			cmdChat(cfg),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run trustvoice", "error", err)
		return err
	}
	return nil
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load default config")
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load config", goerr.V("path", path))
	}
	return cfg, nil
}

func configureLogger(cfg *config.AppConfig, flags globalFlags) error {
	levelName := cfg.Logging.Level
	if flags.logLevel != "" {
		levelName = flags.logLevel
	}
	format := cfg.Logging.Format
	if flags.logFormat != "" {
		format = flags.logFormat
	}

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	color := term.IsTerminal(int(os.Stderr.Fd()))
	logger, err := logging.New(os.Stderr, level, logging.Format(format), color)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	return nil
}
