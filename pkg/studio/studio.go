package studio

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tunegen/tunegen/pkg/generation"
	"github.com/tunegen/tunegen/pkg/jobs"
)

// ErrModelMissing signals that a task needs a model family that is not
// installed on the backend. Callers surface it with a remediation hint
// instead of a generic failure.
var ErrModelMissing = errors.New("studio: required model not installed")

type taskResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Task identifies a generation job accepted by the backend.
type Task struct {
	ID string `json:"task_id"`
}

// Generate submits one generation request and returns the backend task
// identifier. The request must already be validated and shaped by
// generation.Build; no field fixing happens here.
func (c *Client) Generate(ctx context.Context, req *generation.Request) (*Task, error) {
	var resp taskResponse
	if _, err := c.do(ctx, "POST", "generate", req, &resp); err != nil {
		return nil, fmt.Errorf("studio: couldn't submit generation: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("studio: generation rejected: %s", resp.Error)
	}
	if resp.TaskID == "" {
		return nil, errors.New("studio: empty task id")
	}
	return &Task{ID: resp.TaskID}, nil
}

// Model describes an installed backend model.
type Model struct {
	Name      string `json:"name"`
	Family    string `json:"family"`
	Installed bool   `json:"installed"`
}

type modelsResponse struct {
	Models []Model `json:"models"`
}

func (c *Client) Models(ctx context.Context) ([]Model, error) {
	var resp modelsResponse
	if _, err := c.do(ctx, "GET", "models", nil, &resp); err != nil {
		return nil, fmt.Errorf("studio: couldn't list models: %w", err)
	}
	return resp.Models, nil
}

// CheckBaseModel verifies that the Base model family is installed. Lego,
// extract and complete tasks can't run without it.
func (c *Client) CheckBaseModel(ctx context.Context) error {
	models, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Family == "Base" && m.Installed {
			return nil
		}
	}
	return fmt.Errorf("%w: install the Base model family from the model manager", ErrModelMissing)
}

// JobStatus is the polled state of a long-running tool job. Progress may
// come as an explicit fraction, as step counters or as epoch counters
// depending on the job kind and backend version.
type JobStatus struct {
	Running      bool     `json:"running"`
	Paused       bool     `json:"paused"`
	Progress     *float64 `json:"progress"`
	CurrentStep  int      `json:"current_step"`
	MaxSteps     int      `json:"max_steps"`
	CurrentEpoch int      `json:"current_epoch"`
	MaxEpochs    int      `json:"max_epochs"`
	LastMessage  string   `json:"last_message"`
	ReturnCode   *int     `json:"returncode"`
}

// Job converts the wire status to the jobs package representation.
func (s *JobStatus) Job() *jobs.Status {
	return &jobs.Status{
		Running:      s.Running,
		Paused:       s.Paused,
		Progress:     s.Progress,
		CurrentStep:  s.CurrentStep,
		MaxSteps:     s.MaxSteps,
		CurrentEpoch: s.CurrentEpoch,
		MaxEpochs:    s.MaxEpochs,
		Message:      s.LastMessage,
		ReturnCode:   s.ReturnCode,
	}
}

// TrainInput mirrors the training panel settings. Everything is sent as
// multipart form data, with the dataset optionally attached as a file.
type TrainInput struct {
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

func (c *Client) Train(ctx context.Context, in *TrainInput) (string, error) {
	f := newForm()
	f.field("dataset_path", in.Dataset)
	f.field("experiment_name", in.Experiment)
	f.field("base_model", in.BaseModel)
	f.field("epochs", strconv.Itoa(in.Epochs))
	f.field("max_steps", strconv.Itoa(in.MaxSteps))
	f.field("learning_rate", strconv.FormatFloat(in.LearningRate, 'g', -1, 64))
	f.field("batch_size", strconv.Itoa(in.BatchSize))
	f.field("precision", in.Precision)
	f.field("save_every", strconv.Itoa(in.SaveEvery))
	f.file("dataset_file", in.DatasetFile)
	if err := f.close(); err != nil {
		return "", fmt.Errorf("studio: couldn't build training form: %w", err)
	}
	var resp taskResponse
	if _, err := c.do(ctx, "POST", "train/start", f, &resp); err != nil {
		return "", fmt.Errorf("studio: couldn't start training: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("studio: training rejected: %s", resp.Error)
	}
	return resp.TaskID, nil
}

func (c *Client) TrainStatus(ctx context.Context, id string) (*JobStatus, error) {
	var status JobStatus
	if _, err := c.do(ctx, "GET", "train/status?id="+id, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) PauseTrain(ctx context.Context, id string) error {
	if _, err := c.do(ctx, "POST", "train/pause?id="+id, nil, nil); err != nil {
		return fmt.Errorf("studio: couldn't pause training: %w", err)
	}
	return nil
}

func (c *Client) ResumeTrain(ctx context.Context, id string) error {
	if _, err := c.do(ctx, "POST", "train/resume?id="+id, nil, nil); err != nil {
		return fmt.Errorf("studio: couldn't resume training: %w", err)
	}
	return nil
}

func (c *Client) CancelTrain(ctx context.Context, id string) error {
	if _, err := c.do(ctx, "POST", "train/cancel?id="+id, nil, nil); err != nil {
		return fmt.Errorf("studio: couldn't cancel training: %w", err)
	}
	return nil
}

// SplitInput mirrors the stem-splitting panel settings.
type SplitInput struct {
	Audio     string
	AudioFile string
	Stems     []string
	Output    string
}

func (c *Client) SplitStems(ctx context.Context, in *SplitInput) (string, error) {
	f := newForm()
	f.field("audio_path", in.Audio)
	for _, stem := range in.Stems {
		f.field("stems", stem)
	}
	f.field("output_dir", in.Output)
	f.file("audio_file", in.AudioFile)
	if err := f.close(); err != nil {
		return "", fmt.Errorf("studio: couldn't build split form: %w", err)
	}
	var resp taskResponse
	if _, err := c.do(ctx, "POST", "split/start", f, &resp); err != nil {
		return "", fmt.Errorf("studio: couldn't start stem split: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("studio: stem split rejected: %s", resp.Error)
	}
	return resp.TaskID, nil
}

func (c *Client) SplitStatus(ctx context.Context, id string) (*JobStatus, error) {
	var status JobStatus
	if _, err := c.do(ctx, "GET", "split/status?id="+id, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

type downloadRequest struct {
	Name string `json:"name"`
}

// DownloadModel starts a model download on the backend and returns the
// job identifier to poll.
func (c *Client) DownloadModel(ctx context.Context, name string) (string, error) {
	var resp taskResponse
	if _, err := c.do(ctx, "POST", "models/download", &downloadRequest{Name: name}, &resp); err != nil {
		return "", fmt.Errorf("studio: couldn't start model download: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("studio: model download rejected: %s", resp.Error)
	}
	return resp.TaskID, nil
}

func (c *Client) DownloadStatus(ctx context.Context, id string) (*JobStatus, error) {
	var status JobStatus
	if _, err := c.do(ctx, "GET", "models/download/status?id="+id, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
