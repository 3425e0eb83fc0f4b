package commands

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <model>",
		Short: "Start the gateway and immediately load (pulling if needed) the given model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runServe(cmd, args[0]))
		},
	}
}
