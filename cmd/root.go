package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/config"
)

const (
	AppName = "omnitalk"
	Version = "0.1.0"

	logFilename = "omnitalk.log"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	setBaseDir(filepath.Join(homeDir, "."+AppName))
}

func setBaseDir(dir string) {
	baseDir = dir
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "OmniTalk - group chat relay for OpenRouter models",
	Long:    `A relay that lets one web client talk to many OpenRouter models at once: streaming chat, group fan-out, and per-bot conversation memory.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if home, _ := cmd.Flags().GetString("home"); home != "" {
			setBaseDir(home)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("log-file", "l", false, "also write logs to "+logFilename+" in the data directory")
	rootCmd.PersistentFlags().String("home", "", "data directory (default ~/."+AppName+")")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(providersCmd)
}

// setupLogging rebuilds the logger from the global flags. The returned
// closer releases the log file, if one was opened.
func setupLogging(verbose, logFile bool) (io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)

	if logFile {
		if err := os.MkdirAll(baseDir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		f, err := os.OpenFile(filepath.Join(baseDir, logFilename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}

		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	logger = slog.New(slog.NewTextHandler(out, opts))

	return closer, nil
}

func ensureConfigExists() error {
	if cfgMgr.Exists() {
		return nil
	}

	color.Yellow("Configuration not found, writing defaults to %s", filepath.Join(baseDir, config.DefaultYAMLFilename))

	return cfgMgr.CreateExampleYAML()
}

// currentConfig loads the config file when there is one and falls back to
// the defaults otherwise.
func currentConfig() *config.Config {
	if !cfgMgr.Exists() {
		return cfgMgr.Get()
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		logger.Warn("Failed to load configuration, using defaults", "error", err)
		return cfgMgr.Get()
	}

	return cfg
}
