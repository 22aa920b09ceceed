package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/api"
	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

const envModelsDir = "ZEROSHOT_MODELS_DIR"

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls"},
		Usage:   "List model directories and their detected types",
		Flags:   []cli.Flag{modelsPathFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if fileConfig.ModelsDir != "" && !cmd.IsSet("models-path") {
				modelsPath = fileConfig.ModelsDir
			}

			dir := strings.TrimSpace(modelsPath)
			if dir == "" {
				dir = strings.TrimSpace(os.Getenv(envModelsDir))
			}
			if dir == "" {
				return cli.Exit("error: --models-path is required unless "+envModelsDir+" is set", 1)
			}

			models, err := api.DiscoverModels(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}
			printModels(os.Stdout, dir, models)
			return nil
		},
	}
}

func printModels(w io.Writer, dir string, models []api.ModelInfo) {
	_, _ = fmt.Fprintf(w, "Models in %s:\n\n", dir)
	for _, m := range models {
		status := "unsupported"
		if m.ModelType == "" {
			status = "unknown type"
		} else if zeroshot.Supported(model.ModelType(m.ModelType)) {
			status = "ok"
		}
		_, _ = fmt.Fprintf(w, "  %-40s %-12s %s\n", m.ID, m.ModelType, status)
	}
	_, _ = fmt.Fprintf(w, "\n%d model(s) found\n", len(models))
}
