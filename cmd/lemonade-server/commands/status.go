package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/lifecycle"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a lemonade-server instance is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runStatus(cmd))
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	pid, port, err := lifecycle.Discover(cache)
	if err != nil {
		cmd.Println(yellow("not running"))
		return nil
	}

	client, ok := discoverRunningServer(cache)
	if !ok {
		cmd.Println(yellow("not running"))
		return nil
	}

	var loaded string
	if body, status, err := client.get("/stats"); err == nil && status == 200 {
		var stats struct {
			Model *struct {
				Name string `json:"name"`
			} `json:"model"`
		}
		if json.Unmarshal(body, &stats) == nil && stats.Model != nil {
			loaded = stats.Model.Name
		}
	}

	cmd.Println(green(fmt.Sprintf("running (pid %d, port %d)", pid, port)))
	if loaded != "" {
		cmd.Printf("loaded model: %s\n", loaded)
	}
	return nil
}
