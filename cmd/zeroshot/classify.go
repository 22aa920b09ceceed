package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

// checkThreshold mirrors the API: an explicit threshold only applies to
// multi-label runs and must lie in [0, 1].
func checkThreshold(explicit, multiLabel bool, threshold float64) error {
	if explicit && !multiLabel {
		return fmt.Errorf("--threshold requires --multi-label")
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("--threshold must be within [0, 1], got %g", threshold)
	}
	return nil
}

// classification is one input with its ranked labels.
type classification struct {
	Input  string           `json:"input"`
	Labels []zeroshot.Label `json:"labels"`
}

func classifyCmd() *cli.Command {
	var (
		inputs     []string
		inputsFile string
		labels     []string
		template   string
		multiLabel bool
		maxLength  int64
		threshold  float64
		asJSON     bool
	)

	return &cli.Command{
		Name:      "classify",
		Usage:     "Score texts against candidate labels",
		ArgsUsage: "[text...]",
		Flags: append(modelFlags(),
			&cli.StringSliceFlag{
				Name:        "label",
				Aliases:     []string{"l"},
				Usage:       "candidate label (repeat or comma separate)",
				Required:    true,
				Destination: &labels,
			},
			&cli.StringSliceFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "text to classify (repeatable); positional arguments are added too",
				Destination: &inputs,
			},
			&cli.StringFlag{
				Name:        "inputs-file",
				Usage:       "read one input per line (- for stdin)",
				Destination: &inputsFile,
			},
			&cli.StringFlag{
				Name:        "template",
				Usage:       "hypothesis template; {} is replaced by the label",
				Value:       zeroshot.DefaultFormat,
				Destination: &template,
			},
			&cli.BoolFlag{
				Name:        "multi-label",
				Usage:       "score each label independently",
				Destination: &multiLabel,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Usage:       "maximum tokens per premise/hypothesis pair",
				Value:       128,
				Destination: &maxLength,
			},
			&cli.FloatFlag{
				Name:        "threshold",
				Usage:       "hide multi-label scores below this value",
				Destination: &threshold,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print results as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyClassifyConfig(cmd, fileConfig, &maxLength, &template, &threshold)

			texts := append(slices.Clone(inputs), cmd.Args().Slice()...)
			if inputsFile != "" {
				more, err := readInputs(inputsFile, os.Stdin)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				texts = append(texts, more...)
			}
			if len(texts) == 0 {
				return cli.Exit("error: no inputs; pass text arguments, --input or --inputs-file", 1)
			}
			if maxLength <= 0 {
				return cli.Exit("error: --max-length must be positive", 1)
			}
			if err := checkThreshold(cmd.IsSet("threshold"), multiLabel, threshold); err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			tmpl, err := zeroshot.TemplateFromFormat(template)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --template: %v", err), 1)
			}

			cfg, err := buildConfig(modelDir, modelType, deviceName)
			if err != nil {
				return err
			}
			engine, err := zeroshot.New(ctx, cfg)
			if err != nil {
				return err
			}

			start := time.Now()
			var rows [][]zeroshot.Label
			if multiLabel {
				scored, err := engine.PredictMultiLabel(texts, labels, tmpl, int(maxLength))
				if err != nil {
					return err
				}
				rows = zeroshot.RankLabels(scored, threshold)
			} else {
				scores, err := engine.PredictScores(texts, labels, tmpl, int(maxLength))
				if err != nil {
					return err
				}
				if rows, err = zeroshot.RankScores(scores, labels); err != nil {
					return err
				}
			}
			log.Debug("classified", "inputs", len(texts), "labels", len(labels), "multi_label", multiLabel, "elapsed", time.Since(start))

			results := make([]classification, len(texts))
			for i, text := range texts {
				results[i] = classification{Input: text, Labels: rows[i]}
			}
			if asJSON {
				return writeJSON(os.Stdout, results)
			}
			return writeText(os.Stdout, results)
		},
	}
}

// readInputs reads one input per non-blank line from path, or from stdin
// when path is "-".
func readInputs(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var out []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func writeJSON(w io.Writer, results []classification) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeText(w io.Writer, results []classification) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, r := range results {
		if i > 0 {
			_, _ = fmt.Fprintln(tw)
		}
		_, _ = fmt.Fprintf(tw, "[%d] %s\n", i, r.Input)
		if len(r.Labels) == 0 {
			_, _ = fmt.Fprintln(tw, "  (no label above threshold)")
			continue
		}
		for _, l := range r.Labels {
			_, _ = fmt.Fprintf(tw, "  %s\t%.4f\n", l.Text, l.Score)
		}
	}
	return tw.Flush()
}
