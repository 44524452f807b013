package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewPublishCommand constructs the `publish` command: push one envelope
// onto the event stream through the ops HTTP surface.
func NewPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "publish",
		Short: "Publish an envelope to the event stream",
		Long: `Publish an envelope to the event stream.

The payload is an arbitrary JSON object. A payload carrying a "tasks"
list is decomposed into queue tasks by the default pipeline:

  conveyor publish --entity doc-42 \
      --payload '{"tasks":[{"task_name":"fieldA"},{"task_name":"fieldB"}]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, _ := cmd.Flags().GetString("entity")
			source, _ := cmd.Flags().GetString("source")
			rawPayload, _ := cmd.Flags().GetString("payload")
			org, _ := cmd.Flags().GetString("organization")
			domain, _ := cmd.Flags().GetString("domain")
			if entity == "" {
				return fmt.Errorf("--entity is required")
			}

			payload := map[string]interface{}{}
			if rawPayload != "" {
				if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			env := map[string]interface{}{
				"entity_id":      entity,
				"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
				"source_service": source,
				"payload":        payload,
			}
			if org != "" {
				env["organization"] = org
			}
			if domain != "" {
				env["domain"] = domain
			}

			b, _ := json.Marshal(env)
			resp, err := http.Post(baseURL()+"/v1/publish", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("publish failed: %s: %s", resp.Status, bytes.TrimSpace(body))
			}
			cmd.Println("accepted:", entity)
			return nil
		},
	}
	c.Flags().String("entity", "", "Entity id the envelope describes")
	c.Flags().String("source", "cli", "Source service name")
	c.Flags().String("payload", "", "Envelope payload as a JSON object")
	c.Flags().String("organization", "", "Optional organization")
	c.Flags().String("domain", "", "Optional domain")
	return c
}
