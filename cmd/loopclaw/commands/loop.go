package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newLoopCmd creates the `loopclaw loop` command group: a thin HTTP client
// for the control API of a running daemon.
func newLoopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Inspect and control conversation loops",
	}

	cmd.PersistentFlags().String("address", "http://127.0.0.1:8077", "daemon API address")
	cmd.PersistentFlags().String("token", "", "bearer token for the daemon API (or LOOPCLAW_TOKEN)")

	cmd.AddCommand(
		newLoopListCmd(),
		newLoopGetCmd(),
		newLoopSetCmd(),
		newLoopStartCmd(),
		newLoopStopCmd(),
		newLoopStatusCmd(),
	)
	return cmd
}

func newLoopListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiCall(cmd, http.MethodGet, "/api/loops", nil)
		},
	}
}

func newLoopGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Show the loop configuration of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiCall(cmd, http.MethodGet, "/api/loops/"+args[0]+"/config", nil)
		},
	}
}

func newLoopSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <conversation-id>",
		Short: "Replace the loop configuration of a conversation",
		Long: `Replace the loop configuration with the JSON document given via
--file (or stdin with --file -).

Example config:
  {"enabled": false, "contentTemplate": "Check CI",
   "trigger": {"type": "schedule", "cron": "*/30 * * * *"},
   "queue": {"policy": "strict", "mergeWindowSec": 300}}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			var body []byte
			var err error
			if file == "-" {
				body, err = io.ReadAll(os.Stdin)
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("reading loop config: %w", err)
			}
			return apiCall(cmd, http.MethodPut, "/api/loops/"+args[0]+"/config", body)
		},
	}
	cmd.Flags().String("file", "-", "path to the loop config JSON (- for stdin)")
	return cmd
}

func newLoopStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <conversation-id>",
		Short: "Enable a conversation's loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiCall(cmd, http.MethodPost, "/api/loops/"+args[0]+"/start", nil)
		},
	}
}

func newLoopStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <conversation-id>",
		Short: "Disable a conversation's loop and abort any in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiCall(cmd, http.MethodPost, "/api/loops/"+args[0]+"/stop", nil)
		},
	}
}

func newLoopStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <conversation-id>",
		Short: "Show the live execution state of a conversation's loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiCall(cmd, http.MethodGet, "/api/loops/"+args[0]+"/status", nil)
		},
	}
}

// apiCall performs one request against the daemon API and pretty-prints the
// JSON response.
func apiCall(cmd *cobra.Command, method, path string, body []byte) error {
	address, _ := cmd.Flags().GetString("address")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("LOOPCLAW_TOKEN")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, address+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling daemon at %s: %w", address, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
