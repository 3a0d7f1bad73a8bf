package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type GenerationState int

const (
	Pending GenerationState = iota
	Submitted
	Completed
	Failed
)

func (s GenerationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Generation mirrors a request that was sent to the generation backend, so
// runs can be listed, retried and their audio archived later.
type Generation struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Mode      string `gorm:"not null;default:'';index"`
	Title     string `gorm:"not null;default:''"`
	Caption   string `gorm:"not null;default:''"`
	Seed      int64  `gorm:"not null;default:0"`
	BatchSize int    `gorm:"not null;default:1"`

	// Payload is the submitted request serialized as JSON.
	Payload string `gorm:"not null;default:''"`

	TaskID string `gorm:"not null;default:'';index"`
	Audio  string `gorm:"not null;default:''"`

	State GenerationState `gorm:"not null;default:0;index"`
	Error string          `gorm:"not null;default:''"`
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	var v Generation
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get generation %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetGeneration(ctx context.Context, v *Generation) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set generation %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) DeleteGeneration(ctx context.Context, id string) error {
	if err := s.db.Delete(&Generation{ID: id}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete generation %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListGenerations(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Generation, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Generation{}

	q := s.db.Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list generations: %w", err)
	}
	return vs, nil
}

func (s *Store) NextGeneration(ctx context.Context, filter ...Filter) (*Generation, error) {
	var v Generation

	q := s.db.Where("state = ?", Submitted)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if err := q.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get next generation: %w", err)
	}
	return &v, nil
}
