package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type submitFlags struct {
	server     string
	apiKey     string
	name       string
	purpose    string
	batchSize  int
	maxWorkers int
	priority   int
}

func newSubmitCmd() *cobra.Command {
	flags := &submitFlags{}

	cmd := &cobra.Command{
		Use:   "submit URL...",
		Short: "Submit an extraction job to a running service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.server, "server", "http://localhost:8080", "base URL of the webextract service")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "API key when the service has auth enabled")
	cmd.Flags().StringVar(&flags.name, "name", "", "human-readable job name")
	cmd.Flags().StringVar(&flags.purpose, "purpose", "", "extraction purpose tag, e.g. contact_discovery")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "URLs per batch (0 = server default)")
	cmd.Flags().IntVar(&flags.maxWorkers, "max-workers", 0, "per-job worker hint")
	cmd.Flags().IntVar(&flags.priority, "priority", 0, "queue priority, higher runs first")
	_ = cmd.MarkFlagRequired("purpose")

	return cmd
}

func runSubmit(cmd *cobra.Command, flags *submitFlags, urls []string) error {
	payload, err := json.Marshal(map[string]any{
		"name":        flags.name,
		"purpose":     flags.purpose,
		"urls":        urls,
		"batch_size":  flags.batchSize,
		"max_workers": flags.maxWorkers,
		"priority":    flags.priority,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		flags.server+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if flags.apiKey != "" {
		req.Header.Set("X-API-Key", flags.apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(body)))
	return nil
}
