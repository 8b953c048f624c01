package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the drift configuration file (~/.config/drift/config.yaml).
// Sampling fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Sampling defaults
	Steps      *int64   `yaml:"steps"`
	Batch      *int64   `yaml:"batch"`
	Seed       *int64   `yaml:"seed"`
	SigmaMax   *float64 `yaml:"sigma_max"`
	Rho        *float64 `yaml:"rho"`
	ClsScaling *float64 `yaml:"cls_scaling"`
	Heun       *bool    `yaml:"heun"`
	Langevin   *bool    `yaml:"langevin"`
	SChurn     *float64 `yaml:"s_churn"`
	SMin       *float64 `yaml:"s_min"`
	SMax       *float64 `yaml:"s_max"`
	SNoise     *float64 `yaml:"s_noise"`

	// Storage
	DBPath string `yaml:"db_path"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "drift", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFrom(configPath())
}

func loadConfigFrom(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyLoggingConfig applies config file defaults to the logging variables
// when the corresponding CLI flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySampleConfig applies config file defaults to sample command
// parameters when the corresponding CLI flag was not explicitly set.
func applySampleConfig(c *cli.Command, cfg Config, p *sampleParams) {
	if cfg.Steps != nil && !c.IsSet("steps") {
		p.steps = *cfg.Steps
	}
	if cfg.Batch != nil && !c.IsSet("batch") {
		p.batch = *cfg.Batch
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		p.seed = *cfg.Seed
	}
	if cfg.SigmaMax != nil && !c.IsSet("sigma-max") {
		p.sigmaMax = *cfg.SigmaMax
	}
	if cfg.Rho != nil && !c.IsSet("rho") {
		p.rho = *cfg.Rho
	}
	if cfg.ClsScaling != nil && !c.IsSet("cls-scaling") {
		p.clsScaling = *cfg.ClsScaling
	}
	if cfg.Heun != nil && !c.IsSet("heun") {
		p.heun = *cfg.Heun
	}
	if cfg.Langevin != nil && !c.IsSet("langevin") {
		p.langevin = *cfg.Langevin
	}
	if cfg.SChurn != nil && !c.IsSet("s-churn") {
		p.sChurn = *cfg.SChurn
	}
	if cfg.SMin != nil && !c.IsSet("s-min") {
		p.sMin = *cfg.SMin
	}
	if cfg.SMax != nil && !c.IsSet("s-max") {
		p.sMax = *cfg.SMax
	}
	if cfg.SNoise != nil && !c.IsSet("s-noise") {
		p.sNoise = *cfg.SNoise
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate") {
		*rateLimit = *cfg.RateLimit
	}
}

// resolveDBPath picks the run database location: flag, then environment,
// then config file, then the user config dir.
func resolveDBPath(cfg Config) string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv(envDriftDB); env != "" {
		return env
	}
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "drift-runs.db"
	}
	return filepath.Join(dir, "drift", "runs.db")
}
