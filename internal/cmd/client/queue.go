package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group: depth and
// in-flight counts, dead-letter inspection, and dead-letter replay over
// the ops HTTP surface.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	qCmd := &cobra.Command{
		Use:   "queue",
		Short: "Ordered task queue operations (depth, dead letters, redrive)",
	}
	qCmd.AddCommand(
		newQueueDepthCommand(baseURL),
		newQueuePeekDLQCommand(baseURL),
		newQueueRedriveCommand(baseURL),
	)
	return qCmd
}

func newQueueDepthCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show queue depth, in-flight, and dead-letter counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON(baseURL() + "/v1/stats")
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}
}

func newQueuePeekDLQCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "peek-dlq",
		Short: "List dead-lettered tasks without consuming them",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			body, err := getJSON(fmt.Sprintf("%s/v1/dlq?limit=%d", baseURL(), limit))
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}
	c.Flags().Int("limit", 50, "Maximum dead letters to return")
	return c
}

func newQueueRedriveCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "redrive",
		Short: "Move a dead-lettered task back to its group's pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, _ := cmd.Flags().GetUint64("seq")
			if seq == 0 {
				return fmt.Errorf("--seq is required")
			}
			b, _ := json.Marshal(map[string]uint64{"seq": seq})
			resp, err := http.Post(baseURL()+"/v1/dlq/redrive", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("redrive failed: %s", resp.Status)
			}
			cmd.Println("redriven:", seq)
			return nil
		},
	}
	c.Flags().Uint64("seq", 0, "Dead-letter sequence to redrive")
	return c
}

func getJSON(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}

func printJSON(cmd *cobra.Command, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		cmd.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
