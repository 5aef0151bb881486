package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chemplumb/internal/columns"
)

// Table is one raw experiment table with a classified header.
type Table struct {
	Name    string
	Columns []columns.Column
	Rows    [][]string
}

// ReadTable reads a CSV table and classifies its header. An unknown raw
// column aborts the read with a schema mismatch.
func ReadTable(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	cols, err := columns.ClassifyHeader(header)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	t := &Table{Name: name, Columns: cols}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", name, len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Record returns row i as a column name to raw value map.
func (t *Table) Record(i int) Record {
	row := t.Rows[i]
	rec := make(Record, len(t.Columns))
	for _, c := range t.Columns {
		if c.Index < len(row) {
			rec[c.Name] = row[c.Index]
		} else {
			rec[c.Name] = ""
		}
	}
	return rec
}

// Record is one raw row keyed by column name.
type Record map[string]string

var missingTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
}

// cell is a raw value with presence tracking.
type cell struct {
	raw     string
	present bool
}

func (r Record) cell(name string) cell {
	v, ok := r[name]
	return cell{raw: strings.TrimSpace(v), present: ok}
}

func (c cell) missing() bool {
	if !c.present {
		return true
	}
	_, ok := missingTokens[strings.ToLower(c.raw)]
	return ok
}

func (c cell) float() (float64, bool) {
	if c.missing() {
		return 0, false
	}
	v, err := strconv.ParseFloat(c.raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c cell) str() (string, bool) {
	if c.missing() {
		return "", false
	}
	return c.raw, true
}
