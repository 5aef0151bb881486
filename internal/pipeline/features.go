package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"chemplumb/pkg/domain"
)

// RuleFeatureSet flags identifiers of one category exposing different feature names.
const RuleFeatureSet = "features.inconsistent_set"

// MergeFeatures folds the per-reaction feature maps into one dictionary.
// Later reactions overwrite earlier values of the same feature.
func MergeFeatures(reactions []domain.Reaction) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, r := range reactions {
		for id, feats := range r.Properties.Features {
			dst, ok := out[id]
			if !ok {
				dst = make(map[string]float64, len(feats))
				out[id] = dst
			}
			for name, v := range feats {
				dst[name] = v
			}
		}
	}
	return out
}

// CheckFeatureSets reports every category whose identifiers do not share one
// feature-name set. category resolves an identifier; unresolved ones are skipped.
func CheckFeatureSets(features map[string]map[string]float64, category func(string) (domain.Category, bool)) domain.Result {
	sets := make(map[domain.Category]map[string][]string)
	for id, feats := range features {
		cat, ok := category(id)
		if !ok {
			continue
		}
		names := make([]string, 0, len(feats))
		for n := range feats {
			names = append(names, n)
		}
		sort.Strings(names)
		sig := strings.Join(names, ",")
		if sets[cat] == nil {
			sets[cat] = make(map[string][]string)
		}
		sets[cat][sig] = append(sets[cat][sig], id)
	}

	var res domain.Result
	for _, cat := range domain.Categories {
		if len(sets[cat]) <= 1 {
			continue
		}
		sigs := make([]string, 0, len(sets[cat]))
		for sig := range sets[cat] {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		for _, sig := range sigs {
			ids := sets[cat][sig]
			sort.Strings(ids)
			res.Add(domain.Violation{
				Rule:      RuleFeatureSet,
				Severity:  domain.SeverityWarn,
				Message:   fmt.Sprintf("%s identifiers %v expose %d features", cat, ids, len(features[ids[0]])),
				Subject:   domain.SubjectMaterial,
				SubjectID: string(cat),
			})
		}
	}
	return res
}
