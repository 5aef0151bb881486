package archive

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// ContentType of the encoded archive.
const ContentType = "application/gzip"

type envelope struct {
	Schema  int      `json:"schema"`
	Archive *Archive `json:"archive"`
}

// Encode writes a gzip compressed JSON envelope.
func Encode(w io.Writer, a *Archive) error {
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(envelope{Schema: SchemaVersion, Archive: a}); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	return zw.Close()
}

// Decode reads an archive written by Encode.
func Decode(r io.Reader) (*Archive, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()
	var env envelope
	if err := json.NewDecoder(zr).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if env.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, env.Schema)
	}
	if env.Archive == nil {
		return nil, fmt.Errorf("decode archive: empty envelope")
	}
	return env.Archive, nil
}
