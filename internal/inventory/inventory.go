// Package inventory loads the reference material table.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"chemplumb/pkg/domain"
)

// Reference table columns, compared after whitespace normalization.
const (
	ColInChIKey  = "InChI Key (ID)"
	ColInChI     = "InChI="
	ColName      = "Chemical Name"
	ColMW        = "Molecular Weight (g/mol)"
	ColDensity   = "Density (g/mL)"
	ColCategory  = "Chemical Category"
	missingToken = "nan"
)

var requiredColumns = []string{ColInChIKey, ColName, ColMW, ColDensity, ColCategory}

// Inventory is an immutable, identifier-sorted set of materials.
type Inventory struct {
	materials []domain.Material
	index     map[string]int
}

// New builds an inventory, rejecting duplicate identifiers.
func New(materials []domain.Material) (*Inventory, error) {
	sorted := make([]domain.Material, len(materials))
	copy(sorted, materials)
	for i := range sorted {
		sorted[i].InChIKey = domain.NormalizeKey(sorted[i].InChIKey)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	index := make(map[string]int, len(sorted))
	for i, m := range sorted {
		if _, dup := index[m.InChIKey]; dup {
			return nil, fmt.Errorf("duplicate material in inventory: %s", m.InChIKey)
		}
		index[m.InChIKey] = i
	}
	return &Inventory{materials: sorted, index: index}, nil
}

// Lookup finds a material by identifier (case-insensitive).
func (inv *Inventory) Lookup(identifier string) (domain.Material, error) {
	i, ok := inv.index[domain.NormalizeKey(identifier)]
	if !ok {
		return domain.Material{}, fmt.Errorf("%w: %s", domain.ErrMaterialNotFound, identifier)
	}
	return inv.materials[i], nil
}

// Materials returns a copy of the sorted materials.
func (inv *Inventory) Materials() []domain.Material {
	out := make([]domain.Material, len(inv.materials))
	copy(out, inv.materials)
	return out
}

// Len returns the number of materials.
func (inv *Inventory) Len() int { return len(inv.materials) }

// Load reads the reference CSV. Rows missing a required field are skipped.
func Load(r io.Reader, logger *zap.Logger) (*Inventory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read inventory header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("inventory: missing column %q", c)
		}
	}
	var mats []domain.Material
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read inventory row %d: %w", line, err)
		}
		line++
		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			v := strings.TrimSpace(rec[i])
			if strings.EqualFold(v, missingToken) {
				return ""
			}
			return v
		}
		key, name, mwRaw, densRaw, catRaw := cell(ColInChIKey), cell(ColName), cell(ColMW), cell(ColDensity), cell(ColCategory)
		if key == "" || name == "" || mwRaw == "" || densRaw == "" || catRaw == "" {
			logger.Debug("skip incomplete inventory row", zap.Int("line", line), zap.String("inchikey", key))
			continue
		}
		mw, err := strconv.ParseFloat(strings.ReplaceAll(mwRaw, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("inventory row %d (%s): molecular weight: %w", line, key, err)
		}
		density, err := strconv.ParseFloat(densRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory row %d (%s): density: %w", line, key, err)
		}
		category, err := domain.ParseCategory(catRaw)
		if err != nil {
			return nil, fmt.Errorf("inventory row %d (%s): %w", line, key, err)
		}
		m := domain.Material{
			InChIKey:        key,
			MolecularWeight: mw,
			Density:         density,
			Category:        category,
			Name:            name,
			InChI:           cell(ColInChI),
		}
		if err := m.Validate(); err != nil {
			logger.Warn("skip invalid inventory row", zap.Int("line", line), zap.String("inchikey", key), zap.Error(err))
			continue
		}
		mats = append(mats, m)
	}
	inv, err := New(mats)
	if err != nil {
		return nil, err
	}
	logger.Info("material inventory loaded", zap.Int("materials", inv.Len()))
	return inv, nil
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(h), " ")
}
