package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/platform"
)

var pullFlags struct {
	checkpoint string
	recipe     string
	mmproj     string
	reasoning  bool
	vision     bool
	embedding  bool
	reranking  bool
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model's artifacts, registering it first if --checkpoint is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runPull(cmd, args[0]))
		},
	}
	cmd.Flags().StringVar(&pullFlags.checkpoint, "checkpoint", "", "Register a new entry with this checkpoint (org/repo[:variant])")
	cmd.Flags().StringVar(&pullFlags.recipe, "recipe", "", "Backend recipe for a newly registered entry")
	cmd.Flags().StringVar(&pullFlags.mmproj, "mmproj", "", "Multimodal projector file for a newly registered entry")
	cmd.Flags().BoolVar(&pullFlags.reasoning, "reasoning", false, "Tag a newly registered entry with the reasoning label")
	cmd.Flags().BoolVar(&pullFlags.vision, "vision", false, "Tag a newly registered entry with the vision label")
	cmd.Flags().BoolVar(&pullFlags.embedding, "embedding", false, "Tag a newly registered entry with the embeddings label")
	cmd.Flags().BoolVar(&pullFlags.reranking, "reranking", false, "Tag a newly registered entry with the reranking label")
	return cmd
}

// pullRequestBody mirrors gateway.pullRequest's wire shape.
type pullRequestBody struct {
	Name         string `json:"name"`
	DoNotUpgrade bool   `json:"do_not_upgrade"`
}

func runPull(cmd *cobra.Command, name string) error {
	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	if client, ok := discoverRunningServer(cache); ok {
		if pullFlags.checkpoint != "" {
			if err := registerViaClient(client, name); err != nil {
				return err
			}
		}
		return pullViaClient(cmd, client, name)
	}

	topology := platform.Detect()
	registry, err := buildRegistry(nil, cache, topology)
	if err != nil {
		return err
	}
	defer registry.Close()

	if pullFlags.checkpoint != "" {
		entry := entryFromPullFlags(name)
		if err := registry.RegisterUser(entry); err != nil && err != catalog.ErrAlreadyExists {
			return err
		}
	}

	hub := hubCacheRoot(cache)
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(cmd.OutOrStderr()),
		progressbar.OptionClearOnFinish(),
	)
	var totalBytes int64
	err = downloadByName(cmd.Context(), registry, hub, name, func(ev catalog.ProgressEvent) {
		if ev.Total > 0 {
			bar.ChangeMax64(ev.Total)
			totalBytes = ev.Total
		}
		_ = bar.Set64(ev.Written)
		if ev.Done {
			_ = bar.Finish()
		}
	})
	if err != nil {
		return err
	}
	if totalBytes > 0 {
		cmd.Printf("%s pulled (%s)\n", name, units.HumanSize(float64(totalBytes)))
	} else {
		cmd.Printf("%s pulled\n", name)
	}
	return nil
}

func entryFromPullFlags(name string) catalog.ModelEntry {
	var labels []catalog.Label
	if pullFlags.reasoning {
		labels = append(labels, catalog.LabelReasoning)
	}
	if pullFlags.vision {
		labels = append(labels, catalog.LabelVision)
	}
	if pullFlags.embedding {
		labels = append(labels, catalog.LabelEmbeddings)
	}
	if pullFlags.reranking {
		labels = append(labels, catalog.LabelReranking)
	}
	return catalog.ModelEntry{
		Name:       name,
		Checkpoint: pullFlags.checkpoint,
		Recipe:     catalog.Recipe(pullFlags.recipe),
		Labels:     labels,
		MMProj:     pullFlags.mmproj,
	}
}

func registerViaClient(client *serverClient, name string) error {
	body, err := json.Marshal(entryFromPullFlags(name))
	if err != nil {
		return err
	}
	resp, status, err := client.postJSON("/register", body)
	if err != nil {
		return fmt.Errorf("registering with running server: %w", err)
	}
	if status >= 400 && status != 409 {
		return fmt.Errorf("server returned %d: %s", status, string(resp))
	}
	return nil
}

func pullViaClient(cmd *cobra.Command, client *serverClient, name string) error {
	body, err := json.Marshal(pullRequestBody{Name: name, DoNotUpgrade: true})
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(cmd.OutOrStderr()),
		progressbar.OptionClearOnFinish(),
	)

	var pullErr error
	var totalBytes int64
	err = client.postSSE("/pull", bytes.NewReader(body), func(event, data string) {
		switch event {
		case "progress":
			var ev catalog.ProgressEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				if ev.Total > 0 {
					bar.ChangeMax64(ev.Total)
					totalBytes = ev.Total
				}
				_ = bar.Set64(ev.Written)
			}
		case "complete":
			_ = bar.Finish()
		case "error":
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal([]byte(data), &payload)
			pullErr = fmt.Errorf("%s", payload.Message)
		}
	})
	if err != nil {
		return err
	}
	if pullErr != nil {
		return pullErr
	}
	if totalBytes > 0 {
		cmd.Printf("%s pulled (%s)\n", name, units.HumanSize(float64(totalBytes)))
	} else {
		cmd.Printf("%s pulled\n", name)
	}
	return nil
}
