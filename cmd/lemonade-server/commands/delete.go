package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/platform"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model>",
		Short: "Remove a user-registered model from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runDelete(cmd, args[0]))
		},
	}
}

func runDelete(cmd *cobra.Command, name string) error {
	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	if client, ok := discoverRunningServer(cache); ok {
		body, status, err := client.delete("/models/" + url.PathEscape(name))
		if err != nil {
			return fmt.Errorf("contacting running server: %w", err)
		}
		if status >= 400 {
			return fmt.Errorf("server returned %d: %s", status, string(body))
		}
		cmd.Printf("deleted %s\n", name)
		return nil
	}

	topology := platform.Detect()
	registry, err := buildRegistry(nil, cache, topology)
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := registry.Delete(name); err != nil {
		return err
	}
	cmd.Printf("deleted %s\n", name)
	return nil
}
