package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"anchorebridge/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	logFile *os.File
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anchorebridge",
		Short:         "EVM to Casper bridge relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("error while loading config file %s: %w", cfgPath, err)
			}
			config.Config = cfg
			return setupLogging(cfg)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				logFile.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yml", "config file")

	root.AddCommand(
		serveCmd(),
		backfillCmd(),
		retryCmd(),
		resumeCmd(),
		statusCmd(),
		mintCmd(),
		swapCmd(),
		addLiquidityCmd(),
		bridgeOutCmd(),
	)
	return root
}

// setupLogging writes to stdout and, when a log dir is configured, to a
// daily file next to it
func setupLogging(cfg config.Configuration) error {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.Log.JSON {
		out = os.Stdout
	}
	if cfg.Log.Dir != "" {
		if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
			return err
		}
		name := filepath.Join(cfg.Log.Dir, fmt.Sprintf("log_%s.txt", time.Now().Format("2006-01-02")))
		logFile, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("error opening log file for writing: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, logFile)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
