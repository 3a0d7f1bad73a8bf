package download

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tunegen/tunegen/pkg/filestore"
	"github.com/tunegen/tunegen/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	Limit  int

	FSType string
	FSConn string

	// Directory where the backend writes generated audio, named by task id.
	Input  string
	Output string
	Format string
	ID     string
}

// Run archives generated audio into the file store, or restores archived
// audio for a single generation when an id is given.
func Run(ctx context.Context, cfg *Config) error {
	var count int
	log.Println("download: started")
	defer func() {
		log.Printf("download: ended (%d)\n", count)
	}()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("download: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("download: couldn't start orm store: %w", err)
	}

	fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	format := cfg.Format
	if format == "" {
		format = "mp3"
	}

	// Restore a single generation to the output directory.
	if cfg.ID != "" {
		g, err := store.GetGeneration(ctx, cfg.ID)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if g.Audio == "" {
			return fmt.Errorf("download: generation %s has no archived audio", g.ID)
		}
		out := filepath.Join(cfg.Output, filestore.Audio(g.ID, format))
		if err := fs.GetAudio(ctx, out, g.ID, format); err != nil {
			return fmt.Errorf("download: %w", err)
		}
		count++
		log.Printf("download: restored %s to %s\n", g.ID, out)
		return nil
	}

	// Archive submitted generations whose audio showed up in the input
	// directory.
	page := 1
	for {
		gens, err := store.ListGenerations(ctx, page, 100, "created_at asc",
			storage.Where("state = ?", storage.Submitted))
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if len(gens) == 0 {
			return nil
		}
		page++
		for _, g := range gens {
			if cfg.Limit > 0 && count >= cfg.Limit {
				return nil
			}
			src := filepath.Join(cfg.Input, filestore.Audio(g.TaskID, format))
			if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
				continue
			} else if err != nil {
				return fmt.Errorf("download: couldn't stat %s: %w", src, err)
			}
			if err := fs.SetAudio(ctx, src, g.ID, format); err != nil {
				return fmt.Errorf("download: %w", err)
			}
			ref := filestore.Audio(g.ID, format)
			if err := store.SetFileRef(ctx, g.ID, ref); err != nil {
				return fmt.Errorf("download: %w", err)
			}
			g.Audio = ref
			g.State = storage.Completed
			if err := store.SetGeneration(ctx, g); err != nil {
				return fmt.Errorf("download: %w", err)
			}
			count++
			log.Printf("download: archived %s as %s\n", g.TaskID, ref)
		}
	}
}
