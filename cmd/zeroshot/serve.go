package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/zeroshot/internal/api"
	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/metrics"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		maxConcurrent int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the classification REST API",
		Flags: append(modelFlags(),
			modelsPathFlag(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-concurrent",
				Usage:       "classifications allowed to run at once",
				Value:       1,
				Destination: &maxConcurrent,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr, &maxConcurrent)

			dev, err := device.Normalize(deviceName)
			if err != nil {
				return err
			}
			if strings.TrimSpace(modelDir) == "" && strings.TrimSpace(modelsPath) == "" {
				log.Warn("no --model or --models-path set; requests must name a model directory or ZEROSHOT_MODELS_DIR must be set")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			provider := api.NewCachedModelProvider(api.ProviderConfig{
				DefaultModelPath: modelDir,
				ModelsPath:       modelsPath,
				MaxConcurrent:    maxConcurrent,
				Loader:           api.DirLoader(dev),
				Metrics:          m,
			})
			service := api.NewClassifyService(provider, m)
			server := api.NewServer(service, reg)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "device", dev, "max_concurrent", maxConcurrent)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, m.InstrumentHandler(e))
		},
	}
}
