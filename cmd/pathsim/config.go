package main

import (
	"os"

	"github.com/opd-ai/pathsim/pkg/config"
	"github.com/opd-ai/pathsim/pkg/logger"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if seed != 0 {
		cfg.Run.Seed = seed
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	level, _ := logger.ParseLevel(cfg.Logging.Level)
	return logger.New(level, os.Stdout, cfg.Logging.Format)
}
