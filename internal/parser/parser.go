// Package parser turns raw experiment records into validated reactions.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"chemplumb/internal/columns"
	"chemplumb/pkg/domain"
)

// MinReagentVolume is the smallest dispensed volume (L) for an accepted reagent slot.
const MinReagentVolume = 1e-6

// MaterialLookup resolves identifiers against the reference inventory.
type MaterialLookup interface {
	Lookup(identifier string) (domain.Material, error)
}

// Parser builds reactions from records.
type Parser struct {
	materials              MaterialLookup
	logger                 *zap.Logger
	tolerateMissingOutcome bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the parser logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMissingOutcome accepts records whose outcome is absent or not an integer.
func WithMissingOutcome(tolerate bool) Option {
	return func(p *Parser) { p.tolerateMissingOutcome = tolerate }
}

// New constructs a parser resolving materials through lookup.
func New(lookup MaterialLookup, opts ...Option) *Parser {
	p := &Parser{materials: lookup, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse builds a reaction from one record. Every failure is a *domain.ParseError.
func (p *Parser) Parse(rec Record, cols []columns.Column) (domain.Reaction, error) {
	r, err := decode(rec, cols)
	id, _ := r.id.str()
	if err != nil {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: "category_map", Reason: "mapping is not bijective", Err: err}
	}
	if id == "" {
		return domain.Reaction{}, &domain.ParseError{Field: columns.IdentifierColumn, Reason: "missing identifier"}
	}
	log := p.logger.With(zap.String("reaction", id))

	reagents, err := p.reagentTable(id, r, log)
	if err != nil {
		return domain.Reaction{}, err
	}

	reactionTime, ok := r.time.float()
	if !ok || reactionTime <= 1e-5 {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: columns.TimeColumn, Reason: fmt.Sprintf("weird reaction time: %q", r.time.raw)}
	}
	temperature, ok := r.temp.float()
	if !ok || temperature <= domain.AbsoluteZero {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: columns.TempColumn, Reason: fmt.Sprintf("weird reaction temperature: %q", r.temp.raw)}
	}
	outcome, ok := parseOutcome(r.outcome)
	if !ok && !p.tolerateMissingOutcome {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: columns.TargetColumn, Reason: fmt.Sprintf("invalid outcome: %q", r.outcome.raw)}
	}
	version, ok := r.version.str()
	if !ok {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: columns.VersionColumn, Reason: "invalid expver"}
	}

	features := make(map[string]map[string]float64)
	for token, feats := range r.features {
		identifier, ok := r.categories[token]
		if !ok {
			continue
		}
		if features[identifier] == nil {
			features[identifier] = make(map[string]float64, len(feats))
		}
		for k, v := range feats {
			features[identifier][k] = v
		}
	}

	raw := make(map[string]string, len(rec))
	for k, v := range rec {
		raw[k] = v
	}
	reaction, err := domain.NewReaction(domain.Reaction{
		Identifier:          id,
		Outcome:             outcome,
		ReactionTime:        reactionTime,
		ReactionTemperature: temperature,
		ExperimentVersion:   version,
		Reagents:            reagents,
		Properties: domain.ReactionProperties{
			Features:            features,
			CategoryIdentifiers: r.categories,
			Moles:               r.moles,
		},
		Raw: raw,
	})
	if err != nil {
		return domain.Reaction{}, &domain.ParseError{ReactionID: id, Field: "reaction", Reason: "invariant violated", Err: err}
	}
	return reaction, nil
}

func (p *Parser) reagentTable(id string, r row, log *zap.Logger) (map[int]domain.Reagent, error) {
	out := make(map[int]domain.Reagent)
	for i := 0; i < MaxReagents; i++ {
		rc := r.reagents[i]
		volumeUL, ok := rc.volume.float()
		if !ok || volumeUL*1e-6 <= MinReagentVolume {
			continue
		}
		prep := preparationVolume(rc)
		if prep == nil && (!rc.prepVolume.missing() || !rc.prepUnit.missing()) {
			log.Warn("reagent preparation volume is incomplete", zap.Int("reagent", i),
				zap.String("volume", rc.prepVolume.raw), zap.String("unit", rc.prepUnit.raw))
		} else if prep == nil {
			log.Debug("reagent preparation volume is missing", zap.Int("reagent", i))
		}

		constituents := make(map[int]domain.ReagentMaterial)
		for j := 0; j < MaxConstituents; j++ {
			cc := rc.constituent[j]
			identifier, okID := cc.identifier.str()
			amountRaw, okAmount := cc.amount.str()
			unitRaw, okUnit := cc.unit.str()
			if !okID || !okAmount || !okUnit {
				continue
			}
			field := constituentColumn(i, j, "actual_amount")
			amount, ok := cc.amount.float()
			if !ok || math.IsInf(amount, 0) {
				return nil, &domain.ParseError{ReactionID: id, Field: field, Reason: fmt.Sprintf("non-numeric amount %q", amountRaw)}
			}
			unit, err := domain.ParseAmountUnit(unitRaw)
			if err != nil {
				return nil, &domain.ParseError{ReactionID: id, Field: field + "_units", Reason: "bad amount unit", Err: err}
			}
			mat, err := p.materials.Lookup(identifier)
			if err != nil {
				return nil, &domain.ParseError{ReactionID: id, Field: constituentColumn(i, j, "inchikey"), Reason: "unknown material", Err: err}
			}
			constituents[j] = domain.ReagentMaterial{Material: mat, Amount: amount, Unit: unit}
		}
		if len(constituents) == 0 {
			continue
		}
		reagent, err := domain.NewReagent(constituents, volumeUL*1e-6, prep)
		if err != nil {
			return nil, &domain.ParseError{ReactionID: id, Field: reagentColumn(i, "chemicals"), Reason: "invalid reagent", Err: err}
		}
		out[i] = reagent
	}
	return out, nil
}

// preparationVolume returns the stock volume in liters, or nil when unknown.
func preparationVolume(rc reagentCells) *float64 {
	v, ok := rc.prepVolume.float()
	if !ok || v <= 0 {
		return nil
	}
	unit, ok := rc.prepUnit.str()
	if !ok {
		return nil
	}
	var scale float64
	switch strings.ToLower(unit) {
	case "milliliter":
		scale = 1e-3
	case "microliter":
		scale = 1e-6
	case "liter":
		scale = 1
	default:
		return nil
	}
	liters := v * scale
	if liters <= MinReagentVolume {
		return nil
	}
	return &liters
}

// parseOutcome accepts integral numeric values only.
func parseOutcome(c cell) (*int, bool) {
	v, ok := c.float()
	if !ok || v != math.Trunc(v) || math.IsInf(v, 0) {
		return nil, false
	}
	n := int(v)
	return &n, true
}

// IsParseError reports whether err is a record-scoped rejection.
func IsParseError(err error) bool {
	var pe *domain.ParseError
	return errors.As(err, &pe)
}
