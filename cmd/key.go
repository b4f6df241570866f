package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnitalk-relay/internal/credentials"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored OpenRouter API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store an OpenRouter API key",
	Long:  `Store an OpenRouter API key. Without an argument the key is read from stdin.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runKeySet,
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective API key, masked",
	RunE:  runKeyShow,
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the stored API key",
	RunE:  runKeyDelete,
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyDeleteCmd)
}

func keyStore() *credentials.Store {
	return credentials.NewStore(currentConfig().KeyFile(), logger)
}

func runKeySet(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		fmt.Print("OpenRouter API key: ")
		if _, err := fmt.Fscanln(os.Stdin, &key); err != nil {
			return fmt.Errorf("read key: %w", err)
		}
	}

	keys := keyStore()
	if err := keys.Save(strings.TrimSpace(key)); err != nil {
		return err
	}

	color.Green("API key %s saved to %s", keys.Masked(), keys.Path())
	return nil
}

func runKeyShow(cmd *cobra.Command, _ []string) error {
	keys := keyStore()

	stored, err := keys.Load()
	if err != nil {
		return err
	}

	switch {
	case stored != "":
		fmt.Printf("%s (from %s)\n", credentials.Mask(stored), keys.Path())
	case os.Getenv(credentials.EnvVar) != "":
		fmt.Printf("%s (from $%s)\n", credentials.Mask(strings.TrimSpace(os.Getenv(credentials.EnvVar))), credentials.EnvVar)
	default:
		color.Yellow("No API key configured")
	}

	return nil
}

func runKeyDelete(cmd *cobra.Command, _ []string) error {
	keys := keyStore()
	if err := keys.Delete(); err != nil {
		return err
	}

	color.Green("API key deleted")
	return nil
}
