package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/version"
)

// fileConfig holds the config file loaded by the root command.
var fileConfig Config

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "zeroshot",
		Usage:   "Zero-shot text classification with NLI models",
		Version: version.String(),
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to config file",
				Value:       configPath(),
				Destination: &configFile,
			},
		),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			classifyCmd(),
			serveCmd(),
			inspectCmd(),
			modelsCmd(),
			versionCmd(),
		},
	}
}

// setup loads the config file and installs the logger every command reads
// from its context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log := logger.ForFormat(logFormat, level, os.Stderr)
	return logger.WithContext(ctx, log), nil
}
