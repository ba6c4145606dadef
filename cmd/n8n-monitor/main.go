// Package main is the entry point of the n8n monitor daemon and its CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/config"
	"github.com/pandeptwidyaop/n8n-monitor/internal/logger"
)

type cli struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Load("")
	}
	if err != nil {
		return fmt.Errorf("load config %s: %w", c.configPath, err)
	}
	c.cfg = cfg

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger.Init(log)
	c.log = log
	return nil
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:               "n8n-monitor",
		Short:             "Monitor n8n workflows and executions from a local encrypted cache",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to config file")

	root.AddCommand(
		c.serveCommand(),
		c.syncCommand(),
		c.cleanupCommand(),
		c.settingsCommand(),
		versionCommand(),
	)
	return root
}

func main() {
	err := newRootCommand().Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
