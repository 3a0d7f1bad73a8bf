package train

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

	// Job targets an already running training job; Action is one of
	// pause, resume or cancel, empty to attach and watch.
	Job    string
	Action string

	Dataset      string
	DatasetFile  string
	Experiment   string
	BaseModel    string
	Epochs       int
	MaxSteps     int
	LearningRate float64
	BatchSize    int
	Precision    string
	SaveEvery    int
}

// controller adapts the training endpoints to the jobs package.
type controller struct {
	client *studio.Client
	id     string
}

func (c *controller) Pause(ctx context.Context) error  { return c.client.PauseTrain(ctx, c.id) }
func (c *controller) Resume(ctx context.Context) error { return c.client.ResumeTrain(ctx, c.id) }
func (c *controller) Cancel(ctx context.Context) error { return c.client.CancelTrain(ctx, c.id) }

// Run starts a training job and polls it until it finishes.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("train: started")
	defer log.Println("train: ended")

	client := studio.New(&studio.Config{
		BaseURL: cfg.StudioURL,
		Debug:   cfg.Debug,
		Client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	})

	if cfg.Job != "" {
		return control(ctx, client, cfg.Job, cfg.Action)
	}

	if cfg.Experiment == "" {
		return fmt.Errorf("train: experiment name is empty")
	}
	if cfg.Dataset == "" && cfg.DatasetFile == "" {
		return fmt.Errorf("train: dataset is empty")
	}

	id, err := client.Train(ctx, &studio.TrainInput{
		Dataset:      cfg.Dataset,
		DatasetFile:  cfg.DatasetFile,
		Experiment:   cfg.Experiment,
		BaseModel:    cfg.BaseModel,
		Epochs:       cfg.Epochs,
		MaxSteps:     cfg.MaxSteps,
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
		Precision:    cfg.Precision,
		SaveEvery:    cfg.SaveEvery,
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	log.Printf("train: job %s started\n", id)

	h := jobs.New(jobs.Training,
		func(ctx context.Context) (*jobs.Status, error) {
			js, err := client.TrainStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			return js.Job(), nil
		},
		jobs.WithController(&controller{client: client, id: id}),
	)
	return jobs.Watch(ctx, h, "train")
}

// control acts on a job that was started by a previous run.
func control(ctx context.Context, client *studio.Client, id, action string) error {
	switch action {
	case "pause":
		if err := client.PauseTrain(ctx, id); err != nil {
			return fmt.Errorf("train: %w", err)
		}
		log.Printf("train: job %s paused\n", id)
		return nil
	case "resume":
		if err := client.ResumeTrain(ctx, id); err != nil {
			return fmt.Errorf("train: %w", err)
		}
		log.Printf("train: job %s resumed\n", id)
		return nil
	case "cancel":
		if err := client.CancelTrain(ctx, id); err != nil {
			return fmt.Errorf("train: %w", err)
		}
		log.Printf("train: job %s cancelled\n", id)
		return nil
	case "":
		h := jobs.New(jobs.Training,
			func(ctx context.Context) (*jobs.Status, error) {
				js, err := client.TrainStatus(ctx, id)
				if err != nil {
					return nil, err
				}
				return js.Job(), nil
			},
			jobs.WithController(&controller{client: client, id: id}),
		)
		return jobs.Watch(ctx, h, "train")
	default:
		return fmt.Errorf("train: unknown action: %s", action)
	}
}
