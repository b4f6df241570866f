package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/credentials"
	"github.com/Davincible/omnitalk-relay/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay service status",
	Long:  `Display the current status of the OmniTalk relay.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir, logger)
	cfg := currentConfig()
	keys := credentials.NewStore(cfg.KeyFile(), logger)

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	if running {
		fmt.Printf("  %-15s: %s\n", "Running", color.GreenString("yes"))
	} else {
		fmt.Printf("  %-15s: %s\n", "Running", color.RedString("no"))
	}
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Endpoint", serviceURL(cfg))
	fmt.Printf("  %-15s: %s\n", "Upstream", cfg.UpstreamURL)
	fmt.Printf("  %-15s: %s\n", "API Key", orNotSet(credentials.Mask(keys.Resolve(""))))
	fmt.Printf("  %-15s: %s\n", "Data Dir", cfg.DataDir)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "References", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
