package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/drift/internal/runstore"
	"github.com/samcharles93/drift/internal/sampler"
	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
	"github.com/samcharles93/drift/internal/toy"
)

// sampleParams carries the sampling settings of the sample command so the
// config file overlay can treat them as one unit.
type sampleParams struct {
	steps      int64
	batch      int64
	seed       int64
	sigmaMax   float64
	rho        float64
	clsScaling float64
	heun       bool
	langevin   bool
	sChurn     float64
	sMin       float64
	sMax       float64
	sNoise     float64
}

type sampleOutput struct {
	Adapter  string      `json:"adapter"`
	Steps    int         `json:"steps"`
	Batch    int         `json:"batch"`
	Seed     int64       `json:"seed"`
	Schedule []float64   `json:"schedule"`
	Shape    []int       `json:"shape"`
	Samples  [][]float32 `json:"samples"`
	RunID    string      `json:"run_id,omitempty"`
}

func sampleCmd() *cli.Command {
	var (
		p        sampleParams
		target   int64
		outPath  string
		trace    bool
		storeRun bool
	)

	flags := []cli.Flag{
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of integration steps",
			Value:       18,
			Destination: &p.steps,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "number of samples to draw at once",
			Value:       1,
			Destination: &p.batch,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "noise RNG seed (default -1 = random)",
			Value:       -1,
			Destination: &p.seed,
		},
		&cli.Float64Flag{
			Name:        "sigma-max",
			Usage:       "starting noise level (clamped to the model range)",
			Value:       80,
			Destination: &p.sigmaMax,
		},
		&cli.Float64Flag{
			Name:        "rho",
			Usage:       "schedule spacing exponent",
			Value:       7,
			Destination: &p.rho,
		},
		&cli.Float64Flag{
			Name:        "cls-scaling",
			Usage:       "classifier guidance strength",
			Value:       1,
			Destination: &p.clsScaling,
		},
		&cli.BoolFlag{
			Name:        "heun",
			Usage:       "second-order correction",
			Value:       true,
			Destination: &p.heun,
		},
		&cli.BoolFlag{
			Name:        "langevin",
			Usage:       "stochastic churn between steps",
			Destination: &p.langevin,
		},
		&cli.Float64Flag{
			Name:        "s-churn",
			Usage:       "total churn budget across the run",
			Value:       80,
			Destination: &p.sChurn,
		},
		&cli.Float64Flag{
			Name:        "s-min",
			Usage:       "lowest noise level that still churns",
			Value:       0.05,
			Destination: &p.sMin,
		},
		&cli.Float64Flag{
			Name:        "s-max",
			Usage:       "highest noise level that still churns",
			Value:       50,
			Destination: &p.sMax,
		},
		&cli.Float64Flag{
			Name:        "s-noise",
			Usage:       "churn noise inflation factor",
			Value:       1.003,
			Destination: &p.sNoise,
		},
		&cli.Int64Flag{
			Name:        "target",
			Usage:       "guide samples toward this mixture component (-1 = off)",
			Value:       -1,
			Destination: &target,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "write the JSON result to a file instead of stdout",
			Destination: &outPath,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Usage:       "log every integration step",
			Destination: &trace,
		},
		&cli.BoolFlag{
			Name:        "store",
			Usage:       "persist the run to the run database",
			Destination: &storeRun,
		},
	}
	flags = append(flags, mixtureFlags()...)
	flags = append(flags, storeFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "sample",
		Usage: "Draw samples from the demo mixture model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			fileCfg := LoadConfig()
			applyLoggingConfig(c, fileCfg)
			applySampleConfig(c, fileCfg, &p)
			log := newLogger()

			mix, err := buildMixture(meansSpec, weightsSpec)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if target >= 0 {
				mix.Guidance = true
				mix.Target = int(target)
			}

			seed := p.seed
			if seed < 0 {
				seed = time.Now().UnixNano()
			}
			cfg := sampler.DefaultConfig()
			cfg.Steps = int(p.steps)
			cfg.Batch = int(p.batch)
			cfg.Seed = seed
			cfg.SigmaMax = p.sigmaMax
			cfg.Rho = p.rho
			cfg.ClsScaling = p.clsScaling
			cfg.Heun = p.heun
			cfg.Langevin = p.langevin
			cfg.SChurn = p.sChurn
			cfg.SMin = p.sMin
			cfg.SMax = p.sMax
			cfg.SNoise = p.sNoise

			run, err := sampler.New(mix, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			log.Info("sampling", "steps", cfg.Steps, "batch", cfg.Batch, "seed", seed,
				"components", len(mix.Means), "guided", mix.Guidance)
			started := time.Now()

			for run.Next() {
				if err := ctx.Err(); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if trace && run.Step() > 0 {
					log.Info("step", "step", run.Step(), "sigma", run.Sigma(),
						"rms", tensor.RMS(run.State()))
				}
			}
			if err := run.Err(); err != nil {
				return cli.Exit(fmt.Sprintf("error: sampling: %v", err), 1)
			}

			final := score.Denormalize(mix, run.State())
			out := sampleOutput{
				Adapter:  "mixture",
				Steps:    cfg.Steps,
				Batch:    cfg.Batch,
				Seed:     seed,
				Schedule: run.Schedule(),
				Shape:    mix.DataShape(),
				Samples:  batchSlices(final),
			}

			if storeRun {
				id, err := persistRun(ctx, fileCfg, &out, cfg, final)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: store run: %v", err), 1)
				}
				out.RunID = id
				log.Info("run stored", "id", id)
			}

			log.Info("sampling finished", "duration", time.Since(started).String())
			return writeOutput(outPath, &out)
		},
	}
}

// buildMixture parses the mean and weight flags into the demo adapter.
// Components are ";"-separated, coordinates within a component ","-separated.
func buildMixture(means, weights string) (*toy.Mixture, error) {
	var mu [][]float64
	for i, part := range strings.Split(means, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var row []float64
		for _, f := range strings.Split(part, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("parse mean %d: %w", i, err)
			}
			row = append(row, v)
		}
		mu = append(mu, row)
	}

	var w []float64
	if weights = strings.TrimSpace(weights); weights != "" {
		for i, part := range strings.Split(weights, ";") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("parse weight %d: %w", i, err)
			}
			w = append(w, v)
		}
	}
	return toy.NewMixture(mu, w)
}

func batchSlices(t *tensor.Tensor) [][]float32 {
	out := make([][]float32, t.Batch)
	for i := range out {
		out[i] = append([]float32(nil), t.Sample(i)...)
	}
	return out
}

func persistRun(ctx context.Context, fileCfg Config, out *sampleOutput, cfg sampler.Config, final *tensor.Tensor) (string, error) {
	path := resolveDBPath(fileCfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	store, err := runstore.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	rec := runstore.Run{
		ID:         "smp_" + uuid.NewString(),
		Adapter:    out.Adapter,
		CreatedAt:  time.Now().UTC(),
		Steps:      out.Steps,
		Batch:      out.Batch,
		Seed:       out.Seed,
		SigmaMax:   out.Schedule[0],
		ClsScaling: cfg.ClsScaling,
		Heun:       cfg.Heun,
		Langevin:   cfg.Langevin,
		Schedule:   out.Schedule,
		Shape:      out.Shape,
		Final:      append([]float32(nil), final.Data...),
	}
	if err := store.Save(ctx, &rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func writeOutput(path string, out *sampleOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: encode result: %v", err), 1)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cli.Exit(fmt.Sprintf("error: write %s: %v", path, err), 1)
	}
	return nil
}
