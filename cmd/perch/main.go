package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/daemon"
	"github.com/ehrlich-b/perch/internal/logger"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	logFile    string
)

func main() {
	root := &cobra.Command{
		Use:   "perch [workdir]",
		Short: "chat-relay bridge that runs a local coding agent",
		Long: "perch connects outbound to a chat relay and runs a local coding agent\n" +
			"on behalf of authorized users, one run per conversation at a time.\n" +
			"The optional positional argument is the agent's working directory (default: ~).",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			dir := "~"
			if len(args) > 0 {
				dir = args[0]
			}
			workDir, err := config.ExpandWorkDir(dir)
			if err != nil {
				return err
			}
			cfg.Agent.WorkDir = workDir

			return daemon.Run(cfg, version)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to perch.yaml (optional)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
