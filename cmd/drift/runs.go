package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/drift/internal/runstore"
)

func runsCmd() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect persisted sampling runs",
		Commands: []*cli.Command{
			runsListCmd(),
			runsShowCmd(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}
}

func runsListCmd() *cli.Command {
	var (
		limit  int64
		asJSON bool
	)
	flags := []cli.Flag{
		&cli.Int64Flag{
			Name:        "limit",
			Usage:       "maximum number of runs to list (0 = all)",
			Value:       20,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit JSON instead of a table",
			Destination: &asJSON,
		},
	}
	flags = append(flags, storeFlags()...)

	return &cli.Command{
		Name:  "list",
		Usage: "List stored runs, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = store.Close() }()

			runs, err := store.List(ctx, int(limit))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if asJSON {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode runs: %v", err), 1)
				}
				fmt.Println(string(data))
				return nil
			}
			if len(runs) == 0 {
				fmt.Println("no stored runs")
				return nil
			}
			fmt.Printf("%-40s %-10s %-17s %6s %6s %20s\n", "ID", "ADAPTER", "CREATED", "STEPS", "BATCH", "SEED")
			for _, r := range runs {
				fmt.Printf("%-40s %-10s %-17s %6d %6d %20d\n",
					r.ID, r.Adapter, r.CreatedAt.Local().Format("2006-01-02 15:04"),
					r.Steps, r.Batch, r.Seed)
			}
			return nil
		},
	}
}

func runsShowCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print one stored run as JSON",
		ArgsUsage: "<id>",
		Flags:     storeFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("error: usage: drift runs show <id>", 1)
			}
			store, err := openStore()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = store.Close() }()

			run, err := store.Get(ctx, id)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			data, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode run: %v", err), 1)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

// openStore resolves the database path from the flag, environment and config
// file and opens it. It errors when the file does not exist instead of
// creating an empty database.
func openStore() (*runstore.Store, error) {
	path := resolveDBPath(LoadConfig())
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run database at %s", path)
	}
	return runstore.Open(path)
}
