package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the chat bots and their upstream models",
	RunE:  runProviders,
}

func runProviders(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig()

	registry := providers.NewRegistry()
	registry.Initialize()

	if cfg.ProvidersFile != "" {
		if err := registry.LoadOverrides(cfg.ProvidersFile); err != nil {
			return err
		}
	}

	color.Blue("Providers:")
	fmt.Printf("  %-12s %-10s %-14s %s\n", "KEY", "ALIAS", "NAME", "MODELS")

	for _, p := range registry.List() {
		fmt.Printf("  %-12s %-10s %-14s %s\n", p.Key, p.Alias, p.Name, strings.Join(p.Models(), " -> "))
	}

	return nil
}
