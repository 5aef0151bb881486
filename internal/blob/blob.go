// Package blob selects and opens a blob storage driver. The contract lives
// in core and is re-exported here so callers need a single import.
package blob

import (
	"context"
	"fmt"
	"strings"

	"chemplumb/internal/blob/core"
	"chemplumb/internal/blob/fs"
	"chemplumb/internal/blob/memory"
	"chemplumb/internal/blob/s3"
)

type (
	// Store is the object store contract.
	Store = core.Store
	// Driver names a backend.
	Driver = core.Driver
	// Info describes a stored object.
	Info = core.Info
	// PutOptions carries optional object attributes.
	PutOptions = core.PutOptions
)

// Re-exported drivers and errors.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)

// Config selects a driver. Only the section for the chosen driver is read.
type Config struct {
	Driver string    `mapstructure:"driver"`
	FSRoot string    `mapstructure:"fs_root"`
	S3     s3.Config `mapstructure:"s3"`
}

// Open constructs the configured store. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(cfg.Driver))) {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
