package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/lifecycle"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running lemonade-server instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runStop(cmd))
		},
	}
}

func runStop(cmd *cobra.Command) error {
	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	pid, _, err := lifecycle.Discover(cache)
	if err != nil {
		return fmt.Errorf("no running instance found: %w", err)
	}

	if err := signalGracefulStop(pid); err != nil {
		return fmt.Errorf("stopping pid %d: %w", pid, err)
	}
	cmd.Printf("sent stop signal to pid %d\n", pid)
	return nil
}
