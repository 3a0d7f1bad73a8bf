package split

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tunegen/tunegen/pkg/jobs"
	"github.com/tunegen/tunegen/pkg/studio"
)

type Config struct {
	Debug     bool
	StudioURL string

	Audio     string
	AudioFile string
	Stems     string
	Output    string
}

// Run starts a stem split job and polls it until it finishes.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("split: started")
	defer log.Println("split: ended")

	client := studio.New(&studio.Config{
		BaseURL: cfg.StudioURL,
		Debug:   cfg.Debug,
		Client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	})

	if cfg.Audio == "" && cfg.AudioFile == "" {
		return fmt.Errorf("split: audio is empty")
	}
	var stems []string
	for _, s := range strings.Split(cfg.Stems, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			stems = append(stems, s)
		}
	}
	if len(stems) == 0 {
		stems = []string{"vocals", "instrumental"}
	}

	id, err := client.SplitStems(ctx, &studio.SplitInput{
		Audio:     cfg.Audio,
		AudioFile: cfg.AudioFile,
		Stems:     stems,
		Output:    cfg.Output,
	})
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	log.Printf("split: job %s started\n", id)

	h := jobs.New(jobs.StemSplit,
		func(ctx context.Context) (*jobs.Status, error) {
			js, err := client.SplitStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			return js.Job(), nil
		},
	)
	return jobs.Watch(ctx, h, "split")
}
