package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Defaults for the SQL stores.
const (
	DefaultSQLitePath  = "plumbing.db"
	DefaultPostgresDSN = "postgres://localhost/chemplumb?sslmode=disable"
)

type dialect struct {
	driver string
	ddl    string
	upsert string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		ddl: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	}
	postgresDialect = dialect{
		driver: "pgx",
		ddl: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		upsert: `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
	}
)

// buckets lists the state rows in write order. metadata is written last so
// a partially written archive is never reported as present.
var buckets = []string{"reactions", "buckets", "groups", "features", "summaries", "inventory", "sampling_space", "metadata"}

func targets(a *Archive) map[string]any {
	return map[string]any{
		"metadata":       &a.Metadata,
		"reactions":      &a.Reactions,
		"buckets":        &a.Buckets,
		"groups":         &a.Groups,
		"features":       &a.Features,
		"summaries":      &a.Summaries,
		"inventory":      &a.Inventory,
		"sampling_space": &a.SamplingSpace,
	}
}

// SQLStore persists each archive collection as one JSON row of a state
// table. The whole archive is replaced in a single transaction.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLStore(ctx, db, sqliteDialect)
}

// OpenPostgres connects to Postgres through the pgx driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = DefaultPostgresDSN
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// DB exposes the underlying handle for tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Save upserts every bucket in one transaction.
func (s *SQLStore) Save(ctx context.Context, a *Archive) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	src := targets(a)
	for _, bucket := range buckets {
		data, err := json.Marshal(src[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsert, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Load reads the state rows back into an archive.
func (s *SQLStore) Load(ctx context.Context) (*Archive, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	a := &Archive{}
	dst := targets(a)
	seen := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		target, ok := dst[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
		if bucket == "metadata" {
			seen = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	if !seen {
		return nil, ErrNotFound
	}
	if a.Metadata.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, a.Metadata.Schema)
	}
	return a, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
