package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/version"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and runtime information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s\n", info.GoVersion)
			fmt.Printf("devices:    %s\n", device.Available())
			fmt.Printf("cpu:        %s\n", device.Features())
			fmt.Printf("families:   %v\n", zeroshot.SupportedModels())
			return nil
		},
	}
}
