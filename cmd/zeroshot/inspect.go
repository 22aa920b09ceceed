package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a model directory without running it",
		ArgsUsage: "<model-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model-type",
				Usage:       "architecture family; detected from config.json when empty",
				Destination: &modelType,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				return cli.Exit("error: inspect needs a model directory", 1)
			}
			cfg, err := buildConfig(dir, modelType, "")
			if err != nil {
				return err
			}
			s, err := zeroshot.Inspect(ctx, cfg)
			if err != nil {
				return err
			}
			printSummary(os.Stdout, dir, s)
			return nil
		},
	}
}

func printSummary(w io.Writer, dir string, s *zeroshot.Summary) {
	_, _ = fmt.Fprintf(w, "model:       %s\n", dir)
	_, _ = fmt.Fprintf(w, "type:        %s (%s)\n", s.ModelType, s.ConfigShape)
	if len(s.Labels) > 0 {
		_, _ = fmt.Fprintf(w, "labels:      %s\n", strings.Join(s.Labels, ", "))
	}
	dtypes := make([]string, 0, len(s.DTypes))
	for _, dt := range s.SortedDTypes() {
		dtypes = append(dtypes, fmt.Sprintf("%s=%d", dt, s.DTypes[dt]))
	}
	_, _ = fmt.Fprintf(w, "tensors:     %d [%s]\n", s.Tensors, strings.Join(dtypes, " "))
	_, _ = fmt.Fprintf(w, "parameters:  %s\n", formatCount(s.Parameters))
	_, _ = fmt.Fprintf(w, "vocab size:  %d\n", s.VocabSize)
	if s.HasPad {
		_, _ = fmt.Fprintf(w, "pad id:      %d\n", s.PadID)
	} else {
		_, _ = fmt.Fprintln(w, "pad id:      missing (zero-shot classification will fail)")
	}
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
