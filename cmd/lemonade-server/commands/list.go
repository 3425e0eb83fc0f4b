package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/platform"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported models and whether they're downloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runList(cmd))
		},
	}
}

type listRow struct {
	Name       string `json:"name"`
	Recipe     string `json:"recipe"`
	Downloaded bool   `json:"downloaded"`
}

func runList(cmd *cobra.Command) error {
	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	if client, ok := discoverRunningServer(cache); ok {
		body, status, err := client.get("/models")
		if err != nil {
			return fmt.Errorf("querying running server: %w", err)
		}
		if status >= 400 {
			return fmt.Errorf("server returned %d: %s", status, string(body))
		}
		var remote struct {
			Data []listRow `json:"data"`
		}
		if err := json.Unmarshal(body, &remote); err != nil {
			return fmt.Errorf("parsing server response: %w", err)
		}
		rows := remote.Data
		printRows(cmd, rows)
		return nil
	}

	topology := platform.Detect()
	registry, err := buildRegistry(nil, cache, topology)
	if err != nil {
		return err
	}
	defer registry.Close()

	supported := registry.ListSupported()
	downloaded := registry.ListDownloaded()
	rows := make([]listRow, 0, len(supported))
	for name, e := range supported {
		_, present := downloaded[name]
		rows = append(rows, listRow{Name: name, Recipe: string(e.Recipe), Downloaded: present})
	}
	printRows(cmd, rows)
	return nil
}

func printRows(cmd *cobra.Command, rows []listRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	cmd.Println(bold(fmt.Sprintf("%-40s %-14s %s", "NAME", "RECIPE", "STATUS")))
	for _, r := range rows {
		status := yellow("not downloaded")
		if r.Downloaded {
			status = green("downloaded")
		}
		cmd.Printf("%-40s %-14s %s\n", r.Name, r.Recipe, status)
	}
}
