package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

const preferencesKey = "preferences"

// Preferences holds the app level values remembered between runs. They are
// stored as a JSON blob in the settings table.
type Preferences struct {
	OutputDir   string `json:"output_dir,omitempty"`
	ModelDir    string `json:"model_dir,omitempty"`
	DiTModel    string `json:"dit_model,omitempty"`
	LMModel     string `json:"lm_model,omitempty"`
	Zoom        int    `json:"zoom,omitempty"`
	AutoScore   bool   `json:"auto_score,omitempty"`
	KeepStems   bool   `json:"keep_stems,omitempty"`
	LastForm    string `json:"last_form,omitempty"`
	LastTrain   string `json:"last_train,omitempty"`
	LastSplit   string `json:"last_split,omitempty"`
	LastRequest string `json:"last_request,omitempty"`
}

func (s *Store) GetPreferences(ctx context.Context) (*Preferences, error) {
	v, err := s.GetSetting(ctx, preferencesKey)
	if errors.Is(err, ErrNotFound) {
		return &Preferences{}, nil
	}
	if err != nil {
		return nil, err
	}
	var p Preferences
	if err := json.Unmarshal([]byte(v.Value), &p); err != nil {
		return nil, fmt.Errorf("storage: failed to unmarshal preferences: %w", err)
	}
	return &p, nil
}

func (s *Store) SetPreferences(ctx context.Context, p *Preferences) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal preferences: %w", err)
	}
	return s.SetSetting(ctx, &Setting{
		ID:    preferencesKey,
		Value: string(b),
	})
}

// NewID returns a sortable unique identifier for stored entities.
func NewID() string {
	return ulid.Make().String()
}
