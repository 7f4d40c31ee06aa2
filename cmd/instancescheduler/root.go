package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"instancescheduler/internal/config"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "instancescheduler",
	Short: "Tag-driven start/stop and image scheduler for cloud instances",
	Long: `instancescheduler reads schedule tags on instances and databases,
stores the resulting tasks and executes them when they are due.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "stamp and log but skip every write")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(processTaskCmd)
	rootCmd.AddCommand(previewCmd)
}

// loadConfig reads the config, applies flag overrides and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dryRun {
		cfg.DryRun = true
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(c config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if c.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
