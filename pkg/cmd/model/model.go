package model

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tunegen/tunegen/pkg/jobs"
	"github.com/tunegen/tunegen/pkg/studio"
)

type Config struct {
	Debug     bool
	StudioURL string

	Name string
}

// Run lists the backend models or, when a name is given, downloads that
// model and polls the job until it finishes.
func Run(ctx context.Context, cfg *Config) error {
	client := studio.New(&studio.Config{
		BaseURL: cfg.StudioURL,
		Debug:   cfg.Debug,
		Client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	})

	if cfg.Name == "" {
		models, err := client.Models(ctx)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		for _, m := range models {
			state := "available"
			if m.Installed {
				state = "installed"
			}
			log.Printf("model: %s (%s) %s\n", m.Name, m.Family, state)
		}
		return nil
	}

	id, err := client.DownloadModel(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	log.Printf("model: download %s started\n", id)

	h := jobs.New(jobs.ModelDownload,
		func(ctx context.Context) (*jobs.Status, error) {
			js, err := client.DownloadStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			return js.Job(), nil
		},
	)
	return jobs.Watch(ctx, h, "model")
}
