// Package storage resolves the source file named in an ETL payload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned, wrapped, when the key does not exist.
var ErrNotFound = errors.New("source file not found")

// Opener reads source files by key.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Type names a storage backend.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
	TypeMinIO Type = "minio"
)

// Config holds the settings for every backend; each uses its subset.
type Config struct {
	Type      Type   `mapstructure:"type"`
	Root      string `mapstructure:"root"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// New builds the opener selected by cfg.Type. An empty type is local.
func New(ctx context.Context, cfg Config) (Opener, error) {
	switch cfg.Type {
	case "", TypeLocal:
		return NewLocal(cfg.Root), nil
	case TypeS3:
		return NewS3(ctx, cfg)
	case TypeMinIO:
		return NewMinIO(cfg)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// Local serves files under a root directory. Keys are slash-separated
// paths relative to root.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	if root == "" {
		root = "."
	}
	return &Local{root: root}
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	// Rooting the key first keeps ".." from climbing out of root.
	f, err := os.Open(filepath.Join(l.root, filepath.Clean("/"+key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}
