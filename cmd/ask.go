package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/Davincible/omnitalk-relay/internal/config"
	"github.com/Davincible/omnitalk-relay/internal/process"
)

var askCmd = &cobra.Command{
	Use:   "ask [message...]",
	Short: "Ask the bots a question through the relay",
	Long: `Start the relay if needed and send one message to the mentioned bots.
Without --to every bot answers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSlice("to", nil, "bots to mention, by key or alias (default: all)")
	askCmd.Flags().String("group", "", "group id whose conversation history is used")
}

type askRequest struct {
	Message   string   `json:"message"`
	Mentioned []string `json:"mentioned"`
	GroupID   string   `json:"group_id,omitempty"`
}

func serviceURL(cfg *config.Config) string {
	return "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()
	procMgr := process.NewManager(baseDir, logger)

	to, _ := cmd.Flags().GetStringSlice("to")
	group, _ := cmd.Flags().GetString("group")

	// Ensure service is running and track if we started it
	startedByUs, err := procMgr.StartServiceIfNeeded("--home", baseDir)
	if err != nil {
		return err
	}

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		if startedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			if err := procMgr.Stop(); err != nil {
				logger.Warn("Failed to stop service", "error", err)
			}
		}
	}()

	body, err := json.Marshal(askRequest{
		Message:   strings.Join(args, " "),
		Mentioned: to,
		GroupID:   group,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, serviceURL(cfg)+"/api/chat/mention", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	client := &http.Client{Timeout: cfg.Timeout() + 10*time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}

	if !gjson.GetBytes(data, "success").Bool() {
		msg := gjson.GetBytes(data, "msg").String()
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("relay error: %s", msg)
	}

	printAnswers(data)
	return nil
}

func printAnswers(data []byte) {
	gjson.GetBytes(data, "results").ForEach(func(_, r gjson.Result) bool {
		name := r.Get("provider").String()
		if r.Get("success").Bool() {
			color.Cyan("[%s]", name)
			fmt.Println(r.Get("msg").String())
		} else {
			color.Red("[%s] %s", name, r.Get("msg").String())
		}
		fmt.Println()
		return true
	})
}
