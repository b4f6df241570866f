package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/credentials"
	"github.com/Davincible/omnitalk-relay/internal/providers"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the OmniTalk relay configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the listen address, relay token and OpenRouter key.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("example", false, "write the commented example config without prompting")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if example, _ := cmd.Flags().GetBool("example"); example {
		if err := cfgMgr.CreateExampleYAML(); err != nil {
			return fmt.Errorf("failed to write example configuration: %w", err)
		}

		color.Green("Example configuration written to: %s", cfgMgr.GetPath())
		return nil
	}

	color.Blue("OmniTalk Relay Configuration Setup")
	color.Yellow("Press enter to keep the value in brackets.")

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label, def string) string {
		fmt.Printf("%s [%s]: ", label, def)
		line, _ := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		return def
	}

	cfg := cfgMgr.Defaults()

	cfg.Host = prompt("\nListen host", cfg.Host)

	port, err := strconv.Atoi(prompt("Listen port", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	cfg.Port = port

	cfg.APIKey = prompt("Relay token (optional, required from callers as Bearer)", cfg.APIKey)
	cfg.StaticDir = prompt("Web client directory (optional)", cfg.StaticDir)

	if err := cfg.Validate(); err != nil {
		return err
	}

	upstreamKey := prompt("OpenRouter API key (optional)", "")

	// The data dir is derived from the base dir unless set explicitly.
	cfg.DataDir = ""
	if err := cfgMgr.SaveAsYAML(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())

	if upstreamKey != "" {
		keys := credentials.NewStore(cfgMgr.Get().KeyFile(), logger)
		if err := keys.Save(upstreamKey); err != nil {
			return fmt.Errorf("failed to save API key: %w", err)
		}
		color.Green("OpenRouter API key saved to: %s", keys.Path())
	}

	color.Cyan("You can now start the relay with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-18s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-18s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-18s: %s\n", "Relay Token", maskString(cfg.APIKey))
	fmt.Printf("  %-18s: %s\n", "Upstream", cfg.UpstreamURL)
	fmt.Printf("  %-18s: %s\n", "Referer", cfg.Referer)
	fmt.Printf("  %-18s: %s\n", "Title", cfg.Title)
	fmt.Printf("  %-18s: %s\n", "Timeout", cfg.Timeout())
	fmt.Printf("  %-18s: %d\n", "Group Size", cfg.GroupSize)
	fmt.Printf("  %-18s: %s\n", "Data Dir", cfg.DataDir)
	fmt.Printf("  %-18s: %s\n", "Providers File", orNotSet(cfg.ProvidersFile))
	fmt.Printf("  %-18s: %s\n", "Static Dir", orNotSet(cfg.StaticDir))

	if cfg.RateLimit.Enabled() {
		fmt.Printf("  %-18s: %.2f req/s, burst %d\n", "Rate Limit", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	} else {
		fmt.Printf("  %-18s: off\n", "Rate Limit")
	}

	if len(cfg.CORSOrigins) > 0 {
		fmt.Printf("  %-18s: %s\n", "CORS Origins", strings.Join(cfg.CORSOrigins, ", "))
	}

	fmt.Printf("  %-18s: %v\n", "Token Counting", !cfg.DisableTokenCount)
	fmt.Printf("  %-18s: %s\n", "Config Path", cfgMgr.GetPath())

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if err := cfg.Validate(); err != nil {
		problems = append(problems, strings.Split(err.Error(), "\n")...)
	}

	if cfg.ProvidersFile != "" {
		registry := providers.NewRegistry()
		registry.Initialize()
		if err := registry.LoadOverrides(cfg.ProvidersFile); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return errors.New("configuration validation failed")
	}

	if credentials.NewStore(cfg.KeyFile(), logger).Resolve("") == "" {
		color.Yellow("No OpenRouter API key stored or in %s; callers must send X-Api-Key.", credentials.EnvVar)
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
