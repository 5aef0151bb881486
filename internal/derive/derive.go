// Package derive reduces a workflow-3 reaction to its per-category molarity
// summary. Two independent paths are computed: the mole-count path from the
// aggregated mole map, which is always published, and the reagent
// back-calculation path, which is used only to cross-check the first.
package derive

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"chemplumb/pkg/domain"
)

// AntisolventMinVolume is the dispensed volume (L) above which a
// single-constituent reagent is an antisolvent candidate.
const AntisolventMinVolume = 500e-6

// Defaults.
const (
	DefaultProtocolMarker      = "3"
	DefaultCrossCheckTolerance = 1e-3
	DefaultAcidLimit           = 10.0
)

// Finding rules emitted by the deriver.
const (
	RuleCrossPathDivergence = "molarity.cross_path_divergence"
	RuleCrossPathMissing    = "molarity.cross_path_missing"
	RuleUnknownMoleEntry    = "molarity.unknown_mole_identifier"
	RuleMissingMoleEntry    = "molarity.missing_mole_entry"
	RuleEmptyAlphaVial      = "molarity.empty_alpha_vial"
	RuleAcidExcess          = "molarity.acid_excess"
)

// Deriver computes WF3Data summaries.
type Deriver struct {
	marker    string
	tolerance float64
	acidLimit float64
	logger    *zap.Logger
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithLogger sets the logger used for anomalies.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deriver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithProtocolMarker sets the version prefix identifying workflow-3 reactions.
func WithProtocolMarker(marker string) Option {
	return func(d *Deriver) { d.marker = marker }
}

// WithCrossCheckTolerance sets the relative divergence above which the two
// molarity paths are reported as inconsistent.
func WithCrossCheckTolerance(tol float64) Option {
	return func(d *Deriver) {
		if tol > 0 {
			d.tolerance = tol
		}
	}
}

// WithAcidLimit sets the acid molarity (mol/L) above which a reaction is flagged.
// Zero disables the check.
func WithAcidLimit(limit float64) Option {
	return func(d *Deriver) { d.acidLimit = limit }
}

// New constructs a Deriver.
func New(opts ...Option) *Deriver {
	d := &Deriver{
		marker:    DefaultProtocolMarker,
		tolerance: DefaultCrossCheckTolerance,
		acidLimit: DefaultAcidLimit,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Antisolvent returns the slot and identifier of the reaction's antisolvent:
// the only reagent with exactly one constituent dispensed above
// AntisolventMinVolume.
func Antisolvent(r domain.Reaction) (int, string, error) {
	slot, identity, found := -1, "", 0
	for _, i := range r.Slots() {
		reagent := r.Reagents[i]
		id, single := reagent.SingleIdentity()
		if !single || reagent.VolumeAdded <= AntisolventMinVolume {
			continue
		}
		found++
		slot, identity = i, id
	}
	if found != 1 {
		return -1, "", fmt.Errorf("reaction %s: %d candidates: %w", r.Identifier, found, domain.ErrAmbiguousAntisolvent)
	}
	return slot, identity, nil
}

// Vials splits the dispensed volume into the alpha vial (every reagent but the
// antisolvent) and the beta vial (the antisolvent).
func Vials(r domain.Reaction, antisolventSlot int) (alpha, beta float64) {
	for _, i := range r.Slots() {
		if i == antisolventSlot {
			beta += r.Reagents[i].VolumeAdded
			continue
		}
		alpha += r.Reagents[i].VolumeAdded
	}
	return alpha, beta
}

// derivation holds the intermediate state of one FromReaction call.
type derivation struct {
	reaction    domain.Reaction
	materials   map[string]domain.Material
	antisolvent string
	alpha       float64
	beta        float64
	result      domain.Result
	log         *zap.Logger
}

func (s *derivation) vial(identifier string) float64 {
	if identifier == s.antisolvent {
		return s.beta
	}
	return s.alpha
}

func (s *derivation) finding(rule string, sev domain.Severity, format string, args ...any) {
	v := domain.Violation{
		Rule:      rule,
		Severity:  sev,
		Message:   fmt.Sprintf(format, args...),
		Subject:   domain.SubjectReaction,
		SubjectID: s.reaction.Identifier,
	}
	s.result.Add(v)
	if sev == domain.SeverityLog {
		s.log.Debug(v.Message, zap.String("rule", rule))
		return
	}
	s.log.Warn(v.Message, zap.String("rule", rule))
}

// FromReaction derives the summary of a workflow-3 reaction. The returned
// Result holds data-quality anomalies; the error is reserved for conditions
// that make the reaction underivable.
func (d *Deriver) FromReaction(r domain.Reaction) (domain.WF3Data, domain.Result, error) {
	if !r.IsWorkflow3(d.marker) {
		return domain.WF3Data{}, domain.Result{}, fmt.Errorf("reaction %s version %q: %w", r.Identifier, r.ExperimentVersion, domain.ErrNotWorkflow3)
	}
	slot, antisolvent, err := Antisolvent(r)
	if err != nil {
		return domain.WF3Data{}, domain.Result{}, err
	}
	alpha, beta := Vials(r, slot)
	s := &derivation{
		reaction:    r,
		materials:   r.MaterialsByIdentifier(),
		antisolvent: antisolvent,
		alpha:       alpha,
		beta:        beta,
		log:         d.logger.With(zap.String("reaction", r.Identifier)),
	}

	published, err := s.molePath()
	if err != nil {
		return domain.WF3Data{}, s.result, err
	}
	if backCalc, ok := s.reagentPath(); ok {
		s.crossCheck(published, backCalc, d.tolerance)
	}

	if mat, ok := s.materials[antisolvent]; ok {
		delete(published[mat.Category], antisolvent)
	}
	if d.acidLimit > 0 {
		for _, id := range published[domain.CategoryAcid].Keys() {
			if m := published[domain.CategoryAcid][id]; m > d.acidLimit {
				s.finding(RuleAcidExcess, domain.SeverityWarn, "acid %s molarity %.4g M exceeds %.4g M", id, m, d.acidLimit)
			}
		}
	}

	return domain.WF3Data{
		Identifier:          r.Identifier,
		Fingerprint:         domain.Fingerprint(published),
		Outcome:             r.Outcome,
		Organic:             published[domain.CategoryOrganic],
		Inorganic:           published[domain.CategoryInorganic],
		Solvent:             published[domain.CategorySolvent],
		Acid:                published[domain.CategoryAcid],
		AlphaVialVolume:     alpha,
		BetaVialVolume:      beta,
		ReactionTime:        r.ReactionTime,
		ReactionTemperature: r.ReactionTemperature,
		AntisolventIdentity: antisolvent,
	}, s.result, nil
}

// molePath divides each aggregated mole amount by its vial volume.
func (s *derivation) molePath() (domain.CategoryMolarities, error) {
	moles := s.reaction.Properties.Moles
	if len(moles) == 0 {
		return nil, fmt.Errorf("reaction %s: %w", s.reaction.Identifier, domain.ErrMissingMoleData)
	}
	out := domain.NewCategoryMolarities()
	for _, id := range sortedKeys(moles) {
		mat, ok := s.materials[id]
		if !ok {
			s.finding(RuleUnknownMoleEntry, domain.SeverityLog, "mole entry %s is not a constituent of any reagent", id)
			continue
		}
		vol := s.vial(id)
		if vol <= 0 {
			s.finding(RuleEmptyAlphaVial, domain.SeverityWarn, "no alpha vial volume for %s", id)
			continue
		}
		out.Add(mat.Category, id, moles[id]/vol)
	}
	for _, id := range s.reaction.Identifiers() {
		if _, ok := moles[id]; !ok {
			s.finding(RuleMissingMoleEntry, domain.SeverityWarn, "constituent %s has no aggregated mole amount", id)
		}
	}
	return out, nil
}

// reagentPath back-calculates molarities from the stock molarity tables. It
// is only available when every reagent has a known preparation volume.
func (s *derivation) reagentPath() (domain.CategoryMolarities, bool) {
	dispensed := make(map[string]float64)
	for _, i := range s.reaction.Slots() {
		reagent := s.reaction.Reagents[i]
		table, ok := reagent.MolarityTable()
		if !ok {
			return nil, false
		}
		for id, molarity := range table {
			dispensed[id] += molarity * reagent.VolumeAdded
		}
	}
	out := domain.NewCategoryMolarities()
	for _, id := range sortedKeys(dispensed) {
		vol := s.vial(id)
		if vol <= 0 {
			continue
		}
		out.Add(s.materials[id].Category, id, dispensed[id]/vol)
	}
	return out, true
}

func (s *derivation) crossCheck(published, backCalc domain.CategoryMolarities, tol float64) {
	for _, cat := range domain.Categories {
		for _, id := range backCalc[cat].Keys() {
			b := backCalc[cat][id]
			a, ok := published.Lookup(id)
			if !ok {
				s.finding(RuleCrossPathMissing, domain.SeverityWarn, "%s has a back-calculated molarity %.6g M but no mole-count molarity", id, b)
				continue
			}
			if rel := RelativeTo(a, b); !(rel < tol) {
				s.finding(RuleCrossPathDivergence, domain.SeverityWarn,
					"%s molarity diverges between paths: mole-count %.6g M, back-calculated %.6g M (%.3g%%)", id, a, b, 100*rel)
			}
		}
	}
}

// RelativeTo is |value-reference| / |reference|. A zero reference gives zero
// for a zero value and +Inf otherwise.
func RelativeTo(value, reference float64) float64 {
	diff := math.Abs(value - reference)
	if reference == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return diff / math.Abs(reference)
}

// RelativeDifference is |a-b| / max(|a|,|b|), zero when both are zero.
func RelativeDifference(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
