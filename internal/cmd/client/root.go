package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc resolves the ops server base URL at execution time.
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the Conveyor client.
// It registers the queue and publish command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor client commands",
	}
	root.AddCommand(NewQueueCommand(baseURL))
	root.AddCommand(NewPublishCommand(baseURL))
	return root
}
