package setting

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/tunegen/tunegen/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	Key   string
	Value string
}

// Run sets or prints app preferences stored in the database.
func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("setting: couldn't start orm store: %w", err)
	}

	prefs, err := store.GetPreferences(ctx)
	if err != nil {
		return fmt.Errorf("setting: %w", err)
	}

	if cfg.Key == "" {
		log.Printf("setting: output-dir=%q model-dir=%q dit-model=%q lm-model=%q\n",
			prefs.OutputDir, prefs.ModelDir, prefs.DiTModel, prefs.LMModel)
		return nil
	}

	switch cfg.Key {
	case "output-dir":
		prefs.OutputDir = cfg.Value
	case "model-dir":
		prefs.ModelDir = cfg.Value
	case "dit-model":
		prefs.DiTModel = cfg.Value
	case "lm-model":
		prefs.LMModel = cfg.Value
	case "zoom":
		zoom, err := strconv.Atoi(cfg.Value)
		if err != nil {
			return fmt.Errorf("setting: invalid zoom value %q: %w", cfg.Value, err)
		}
		prefs.Zoom = zoom
	default:
		return fmt.Errorf("setting: unknown key: %s", cfg.Key)
	}
	if err := store.SetPreferences(ctx, prefs); err != nil {
		return fmt.Errorf("setting: %w", err)
	}
	return nil
}
