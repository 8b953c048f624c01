package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/drift/internal/logger"
)

const envDriftDB = "DRIFT_DB"

var (
	meansSpec   string
	weightsSpec string
	dbPath      string
	logLevel    string
	logFormat   string
	debug       bool
)

func mixtureFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "means",
			Usage:       "mixture component means as \"x,y;x,y;...\"",
			Value:       "2,2;-2,2;-2,-2;2,-2",
			Destination: &meansSpec,
		},
		&cli.StringFlag{
			Name:        "weights",
			Usage:       "component weights as \"w;w;...\" (default uniform)",
			Destination: &weightsSpec,
		},
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db",
			Usage:       "path to the run database (default: $DRIFT_DB, then config dir)",
			Destination: &dbPath,
		},
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

// newLogger builds the logger the flags ask for. Logs go to stderr so data
// output on stdout stays pipeable.
func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
