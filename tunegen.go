package tunegen

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/tunegen/tunegen/pkg/generation"
	"github.com/tunegen/tunegen/pkg/studio"
)

type Config struct {
	StudioURL string
	Proxy     string
	Wait      time.Duration
	Debug     bool
}

// Generate builds a request from a caption and submits it, returning the
// backend task ids. It is a one-shot convenience wrapper for library
// users, the CLI goes through the cmd packages instead.
func Generate(ctx context.Context, cfg *Config, mode, title, caption, lyrics string, count int) ([]string, error) {
	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	client := studio.New(&studio.Config{
		BaseURL: cfg.StudioURL,
		Wait:    cfg.Wait,
		Debug:   cfg.Debug,
		Client:  httpClient,
	})

	form := &generation.FormState{
		Mode:       generation.Mode(mode),
		Title:      title,
		Caption:    caption,
		Lyrics:     lyrics,
		Duration:   -1,
		RandomSeed: true,
		BatchSize:  1,
		BulkCount:  count,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	reqs, err := generation.BuildSet(form, rng)
	if err != nil {
		return nil, fmt.Errorf("couldn't build request: %w", err)
	}

	var ids []string
	for _, req := range reqs {
		task, err := client.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("couldn't submit request: %w", err)
		}
		log.Println("task:", task.ID)
		ids = append(ids, task.ID)
	}
	return ids, nil
}
