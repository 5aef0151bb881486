package archive

import (
	"context"
	"fmt"
	"strings"

	"chemplumb/internal/blob"
)

// Store drivers.
const (
	DriverBlob     = "blob"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects where the archive lives.
type Config struct {
	Driver      string `mapstructure:"driver"`
	Key         string `mapstructure:"key"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Open returns the configured store. The blob driver opens blobCfg.
func Open(ctx context.Context, cfg Config, blobCfg blob.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverBlob:
		blobs, err := blob.Open(ctx, blobCfg)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return NewBlobStore(blobs, cfg.Key), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", cfg.Driver)
	}
}
