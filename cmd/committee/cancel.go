package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <decision-id>",
		Short: "Cancel a debate running on a committee server",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	cmd.Flags().String("server", "http://localhost:8080", "Base URL of the committee server")
	return cmd
}

func runCancel(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("server")
	endpoint := strings.TrimRight(base, "/") + "/api/decisions/" + url.PathEscape(args[0]) + "/debate"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel failed (HTTP %d): %s", resp.StatusCode, body.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Debate on %s: %s\n", args[0], body.Status)
	return nil
}
