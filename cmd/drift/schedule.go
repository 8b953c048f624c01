package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/drift/internal/schedule"
	"github.com/samcharles93/drift/internal/score"
)

type scheduleOutput struct {
	Kind   string    `json:"kind"`
	Sigmas []float64 `json:"sigmas"`
	Ticks  []int     `json:"ticks,omitempty"`
}

func scheduleCmd() *cli.Command {
	var (
		kind     string
		steps    int64
		sigmaMax float64
		sigmaMin float64
		rho      float64
		ladder   int64
		asJSON   bool
	)

	return &cli.Command{
		Name:  "schedule",
		Usage: "Print a noise schedule without sampling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "schedule family: karras or power",
				Value:       "karras",
				Destination: &kind,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "number of integration steps (stages for power)",
				Value:       18,
				Destination: &steps,
			},
			&cli.Float64Flag{
				Name:        "sigma-max",
				Usage:       "highest noise level",
				Value:       80,
				Destination: &sigmaMax,
			},
			&cli.Float64Flag{
				Name:        "sigma-min",
				Usage:       "lowest positive noise level",
				Value:       0.002,
				Destination: &sigmaMin,
			},
			&cli.Float64Flag{
				Name:        "rho",
				Usage:       "karras spacing exponent",
				Value:       schedule.DefaultRho,
				Destination: &rho,
			},
			&cli.Int64Flag{
				Name:        "ladder",
				Usage:       "snap levels onto an m-tick linear ladder (0 = continuous)",
				Destination: &ladder,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit JSON instead of a table",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var (
				sigmas []float64
				err    error
			)
			switch kind {
			case "karras":
				// A single step collapses to the starting level plus the
				// clean target.
				if steps == 1 {
					sigmas = []float64{sigmaMax}
				} else {
					sigmas, err = schedule.Karras(rho, int(steps), sigmaMax, sigmaMin)
				}
				if err == nil {
					sigmas = append(sigmas, 0)
				}
			case "power":
				sigmas, err = schedule.Power(sigmaMax, sigmaMin, int(steps))
			default:
				return cli.Exit(fmt.Sprintf("error: unknown schedule kind %q", kind), 1)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			out := scheduleOutput{Kind: kind, Sigmas: sigmas}
			if ladder > 0 {
				l, err := schedule.LinearLadder(int(ladder))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				out.Ticks = make([]int, len(sigmas))
				for i, s := range sigmas {
					if s == 0 {
						out.Ticks[i] = score.NoTick
						continue
					}
					out.Sigmas[i], out.Ticks[i] = l.Snap(s)
				}
			}

			if asJSON {
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode schedule: %v", err), 1)
				}
				fmt.Println(string(data))
				return nil
			}
			printSchedule(out)
			return nil
		},
	}
}

func printSchedule(out scheduleOutput) {
	w := os.Stdout
	if out.Ticks == nil {
		fmt.Fprintf(w, "%5s  %14s\n", "step", "sigma")
		for i, s := range out.Sigmas {
			fmt.Fprintf(w, "%5d  %14.6f\n", i, s)
		}
		return
	}
	fmt.Fprintf(w, "%5s  %14s  %6s\n", "step", "sigma", "tick")
	for i, s := range out.Sigmas {
		tick := "-"
		if out.Ticks[i] != score.NoTick {
			tick = fmt.Sprintf("%d", out.Ticks[i])
		}
		fmt.Fprintf(w, "%5d  %14.6f  %6s\n", i, s, tick)
	}
}
