package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/drift/internal/api"
	"github.com/samcharles93/drift/internal/runstore"
)

func serveCmd() *cli.Command {
	var (
		addr         string
		readTimeout  time.Duration
		rateLimit    float64
		rateBurst    int64
		guidedTarget int64
	)

	flags := []cli.Flag{
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
		&cli.Float64Flag{
			Name:        "rate",
			Usage:       "sampling runs allowed per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.Int64Flag{
			Name:        "burst",
			Usage:       "rate limiter burst size",
			Value:       4,
			Destination: &rateBurst,
		},
		&cli.Int64Flag{
			Name:        "guided-target",
			Usage:       "also register a guided mixture aimed at this component (-1 = off)",
			Value:       -1,
			Destination: &guidedTarget,
		},
	}
	flags = append(flags, mixtureFlags()...)
	flags = append(flags, storeFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sampling REST API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			fileCfg := LoadConfig()
			applyLoggingConfig(c, fileCfg)
			applyServeConfig(c, fileCfg, &addr, &rateLimit)
			log := newLogger()

			mix, err := buildMixture(meansSpec, weightsSpec)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			dbPath := resolveDBPath(fileCfg)
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return cli.Exit(fmt.Sprintf("error: create database directory: %v", err), 1)
			}
			store, err := runstore.Open(dbPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open run database: %v", err), 1)
			}
			defer func() { _ = store.Close() }()

			service := api.NewSampleService(store, log)
			service.RegisterAdapter("mixture", mix)
			if guidedTarget >= 0 {
				guided, err := buildMixture(meansSpec, weightsSpec)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				guided.Guidance = true
				guided.Target = int(guidedTarget)
				service.RegisterAdapter("mixture-guided", guided)
			}

			server := api.NewServer(service)
			server.SetRateLimit(rateLimit, int(rateBurst))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "db", dbPath)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
