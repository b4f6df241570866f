package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/credentials"
	"github.com/Davincible/omnitalk-relay/internal/process"
	"github.com/Davincible/omnitalk-relay/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay service",
	Long:  `Start the OmniTalk relay in the foreground. Stop it with Ctrl+C or 'omnitalk stop'.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")

	closer, err := setupLogging(verbose, logFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)
	if procMgr.IsRunning() {
		color.Yellow("%s is already running (PID %d)", AppName, procMgr.ReadPID())
		return nil
	}

	color.Green("Starting %s v%s...", AppName, Version)

	if credentials.NewStore(cfg.KeyFile(), logger).Resolve("") == "" {
		color.Yellow("No OpenRouter API key stored; callers must send X-Api-Key. Set one with '%s key set'.", AppName)
	}

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := server.New(cfgMgr, nil, logger)
	if err != nil {
		return err
	}

	return srv.Start(context.Background())
}
