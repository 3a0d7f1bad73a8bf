package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/tunegen/tunegen/pkg/filestore/local"
	"github.com/tunegen/tunegen/pkg/filestore/s3"
)

type fs interface {
	Upload(ctx context.Context, path, name string) error
	Download(ctx context.Context, path, name string) error
}

// Store archives generated audio and trained model files in a configurable
// backend.
type Store struct {
	fs fs
}

func (s *Store) SetAudio(ctx context.Context, path, id, format string) error {
	return s.fs.Upload(ctx, path, Audio(id, format))
}

func (s *Store) GetAudio(ctx context.Context, path, id, format string) error {
	return s.fs.Download(ctx, path, Audio(id, format))
}

func (s *Store) SetModel(ctx context.Context, path, name string) error {
	return s.fs.Upload(ctx, path, name)
}

func (s *Store) GetModel(ctx context.Context, path, name string) error {
	return s.fs.Download(ctx, path, name)
}

func New(typ, conn string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		split := strings.Split(conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		key := auth[0]
		secret := auth[1]
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		bucket := loc[0]
		region := loc[1]
		candidate, err := s3.New(key, secret, region, bucket, debug)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		fs = local.New(conn, debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func Audio(id, format string) string {
	switch format {
	case "flac":
		return id + ".flac"
	case "wav":
		return id + ".wav"
	default:
		return id + ".mp3"
	}
}
