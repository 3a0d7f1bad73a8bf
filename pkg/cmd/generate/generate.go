package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tunegen/tunegen/pkg/generation"
	"github.com/tunegen/tunegen/pkg/storage"
	"github.com/tunegen/tunegen/pkg/studio"
)

type Config struct {
	Debug       bool
	DBType      string
	DBConn      string
	Timeout     time.Duration
	Concurrency int
	WaitMin     time.Duration
	WaitMax     time.Duration
	Limit       int
	Proxy       string

	StudioURL string
	Input     string

	Mode         string
	Title        string
	Caption      string
	Lyrics       string
	Instrumental bool
	Language     string

	BPM           int
	KeyScale      string
	TimeSignature string

	Duration   float64
	InferSteps int
	Guidance   float64
	Shift      float64
	Seed       int64
	RandomSeed bool
	BatchSize  int
	Count      int

	ReferenceAudio  string
	SourceAudio     string
	BlendAudio      string
	SourceInfluence float64
	RepaintStart    float64
	RepaintEnd      float64
	TrackType       string

	Simple         bool
	Weirdness      int
	StyleInfluence int
	AudioInfluence int

	Thinking    bool
	Temperature float64
	CFG         float64
	TopK        int
	TopP        float64

	Format          string
	Adapter         string
	AdapterStrength float64
}

// Run launches the generation submission process.
func Run(ctx context.Context, cfg *Config) error {
	var iteration int
	log.Println("generate: process started")
	defer func() {
		log.Printf("generate: process ended (%d)\n", iteration)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("generate: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("generate: couldn't start orm store: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	client := studio.New(&studio.Config{
		BaseURL: cfg.StudioURL,
		Wait:    1 * time.Second,
		Debug:   cfg.Debug,
		Client:  httpClient,
	})

	// Load batch templates if an input file was given, otherwise submit a
	// single template built from the flags.
	var templates []*template
	if cfg.Input != "" {
		templates, err = loadTemplates(cfg.Input)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
	} else {
		templates = []*template{{}}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Print time stats
	start := time.Now()
	defer func() {
		if iteration == 0 {
			return
		}
		total := time.Since(start)
		log.Printf("generate: total time %s, average time %s\n", total, total/time.Duration(iteration))
	}()

	nErr := 0
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 24 * time.Hour
	}
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	// Concurrency settings
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	errC := make(chan error, concurrency)
	defer close(errC)
	for i := 0; i < concurrency; i++ {
		errC <- nil
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	var mu sync.Mutex
	next := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generate: %w", ctx.Err())
		case <-ticker.C:
			return nil
		case err := <-errC:
			if err != nil {
				nErr += 1
			} else {
				nErr = 0
			}

			// Check exit conditions
			if nErr > 10 {
				return fmt.Errorf("generate: too many consecutive errors: %w", err)
			}
			if cfg.Limit > 0 && iteration >= cfg.Limit {
				return nil
			}
			mu.Lock()
			if next >= len(templates) && cfg.Limit == 0 {
				mu.Unlock()
				return nil
			}
			tmpl := templates[next%len(templates)]
			next++
			mu.Unlock()

			iteration++

			// Wait for a random time.
			if iteration > 1 && cfg.WaitMax > cfg.WaitMin {
				wait := time.Duration(rng.Int63n(int64(cfg.WaitMax-cfg.WaitMin))) + cfg.WaitMin
				select {
				case <-ctx.Done():
					return fmt.Errorf("generate: %w", ctx.Err())
				case <-time.After(wait):
				}
			}

			form := cfg.form(tmpl)

			// Each worker gets its own random source; rng itself stays
			// on this goroutine only.
			workerRng := rand.New(rand.NewSource(rng.Int63()))

			// Launch generate in a goroutine
			wg.Add(1)
			go func() {
				defer wg.Done()
				debug("generate: start %s", tmpl)
				err := generate(ctx, client, store, form, workerRng)
				if err != nil {
					log.Println(err)
				}
				debug("generate: end %s", tmpl)
				errC <- err
			}()
		}
	}
}

// form merges a batch template over the command line defaults.
func (cfg *Config) form(t *template) *generation.FormState {
	f := &generation.FormState{
		Mode:            generation.Mode(cfg.Mode),
		Title:           cfg.Title,
		Caption:         cfg.Caption,
		Lyrics:          cfg.Lyrics,
		Instrumental:    cfg.Instrumental,
		Language:        cfg.Language,
		BPM:             cfg.BPM,
		KeyScale:        cfg.KeyScale,
		TimeSignature:   cfg.TimeSignature,
		Duration:        cfg.Duration,
		InferSteps:      cfg.InferSteps,
		Guidance:        cfg.Guidance,
		Shift:           cfg.Shift,
		Seed:            cfg.Seed,
		RandomSeed:      cfg.RandomSeed,
		BatchSize:       cfg.BatchSize,
		BulkCount:       cfg.Count,
		ReferenceAudio:  cfg.ReferenceAudio,
		SourceAudio:     cfg.SourceAudio,
		BlendAudio:      cfg.BlendAudio,
		SourceInfluence: cfg.SourceInfluence,
		RepaintStart:    cfg.RepaintStart,
		RepaintEnd:      cfg.RepaintEnd,
		TrackType:       cfg.TrackType,
		Simple:          cfg.Simple,
		Weirdness:       cfg.Weirdness,
		StyleInfluence:  cfg.StyleInfluence,
		AudioInfluence:  cfg.AudioInfluence,
		Thinking:        cfg.Thinking,
		Temperature:     cfg.Temperature,
		CFG:             cfg.CFG,
		TopK:            cfg.TopK,
		TopP:            cfg.TopP,
		Format:          cfg.Format,
		Adapter:         cfg.Adapter,
		AdapterStrength: cfg.AdapterStrength,
	}
	if t.Mode != "" {
		f.Mode = generation.Mode(t.Mode)
	}
	if t.Title != "" {
		f.Title = t.Title
	}
	if t.Caption != "" {
		f.Caption = t.Caption
	}
	if t.Lyrics != "" {
		f.Lyrics = t.Lyrics
	}
	if t.Instrumental {
		f.Instrumental = true
	}
	if t.SourceAudio != "" {
		f.SourceAudio = t.SourceAudio
	}
	if t.Count > 0 {
		f.BulkCount = t.Count
	}
	return f
}

func generate(ctx context.Context, client *studio.Client, store *storage.Store, form *generation.FormState, rng *rand.Rand) error {
	reqs, err := generation.BuildSet(form, rng)
	if err != nil {
		var ferr *generation.FieldError
		if errors.As(err, &ferr) {
			return fmt.Errorf("generate: invalid %s: %s", ferr.Field, ferr.Reason)
		}
		return fmt.Errorf("generate: couldn't build request: %w", err)
	}

	// Modes backed by the base model family fail late and cryptically on
	// the backend, check availability up front instead.
	if reqs[0].Mode.RequiresBaseModel() {
		if err := client.CheckBaseModel(ctx); err != nil {
			return fmt.Errorf("generate: %w", err)
		}
	}

	for _, req := range reqs {
		task, err := client.Generate(ctx, req)
		if err != nil {
			return fmt.Errorf("generate: couldn't submit %q: %w", req.Title, err)
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("generate: couldn't marshal payload: %w", err)
		}
		if err := store.SetGeneration(ctx, &storage.Generation{
			ID:        storage.NewID(),
			Mode:      string(req.Mode),
			Title:     req.Title,
			Caption:   req.Caption,
			Seed:      req.Seed,
			BatchSize: req.BatchSize,
			Payload:   string(payload),
			TaskID:    task.ID,
			State:     storage.Submitted,
		}); err != nil {
			return fmt.Errorf("generate: couldn't save generation to database: %w", err)
		}
		log.Printf("generate: submitted %q as task %s\n", req.Title, task.ID)
	}
	return nil
}
