package main

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

var (
	modelDir   string
	modelType  string
	deviceName string
	modelsPath string
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model directory (config.json, weights, tokenizer files); defaults to bart-large-mnli from the hub",
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "model-type",
			Usage:       "architecture family; detected from config.json when empty",
			Destination: &modelType,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "execution device (auto, cpu, cuda)",
			Value:       string(device.Auto),
			Destination: &deviceName,
		},
	}
}

func modelsPathFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "models-path",
		Aliases:     []string{"path"},
		Usage:       "directory containing one sub-directory per model",
		Destination: &modelsPath,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// buildConfig turns the model flags into a zeroshot.Config.
func buildConfig(dir, typ, dev string) (zeroshot.Config, error) {
	d, err := device.Normalize(dev)
	if err != nil {
		return zeroshot.Config{}, err
	}
	var t model.ModelType
	if strings.TrimSpace(typ) != "" {
		if t, err = model.ParseModelType(typ); err != nil {
			return zeroshot.Config{}, err
		}
	}

	var cfg zeroshot.Config
	if strings.TrimSpace(dir) == "" {
		if t != "" && t != model.Bart {
			return zeroshot.Config{}, cli.Exit("--model is required for --model-type "+string(t), 1)
		}
		cfg = zeroshot.DefaultConfig()
	} else if cfg, err = zeroshot.ConfigFromDir(strings.TrimSpace(dir), t); err != nil {
		return zeroshot.Config{}, err
	}
	cfg.Device = d
	return cfg, nil
}
