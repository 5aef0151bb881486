// Package archive holds the persisted derived artifact of a plumbing run
// and the stores that save and load it.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"chemplumb/internal/grouping"
	"chemplumb/internal/hull"
	"chemplumb/pkg/domain"
)

// SchemaVersion is bumped on any incompatible change to the encoded form.
const SchemaVersion = 1

// DefaultKey is the blob key of the archive.
const DefaultKey = "plumbing/PlumbingData.json.gz"

var (
	// ErrNotFound is returned by Load when no archive has been saved.
	ErrNotFound = errors.New("archive: not found")
	// ErrSchemaVersion is returned when decoding an archive of another schema.
	ErrSchemaVersion = errors.New("archive: unsupported schema version")
)

// TableStats summarizes the collection of one raw table.
type TableStats struct {
	Name      string         `json:"name"`
	Rows      int            `json:"rows"`
	Parsed    int            `json:"parsed"`
	Rejected  int            `json:"rejected"`
	Reasons   map[string]int `json:"reasons,omitempty"`
	Workflow3 int            `json:"workflow3"`
	Added     int            `json:"added"`
	Replaced  int            `json:"replaced"`
}

// FailedGroup is a header group whose derivation aborted.
type FailedGroup struct {
	Version string   `json:"version"`
	Header  string   `json:"header"`
	Members []string `json:"members"`
	Reason  string   `json:"reason"`
}

// Report is the run summary embedded in the metadata.
type Report struct {
	Tables       []TableStats   `json:"tables"`
	Parsed       int            `json:"parsed"`
	Rejected     int            `json:"rejected"`
	Reasons      map[string]int `json:"reasons,omitempty"`
	Reactions    int            `json:"reactions"`
	Valid        int            `json:"valid"`
	FailedGroups []FailedGroup  `json:"failed_groups,omitempty"`
	Findings     domain.Result  `json:"findings"`
}

// Metadata identifies a run.
type Metadata struct {
	Schema         int       `json:"schema"`
	RunID          uuid.UUID `json:"run_id"`
	Created        time.Time `json:"created"`
	ProtocolMarker string    `json:"protocol_marker"`
	Report         Report    `json:"report"`
}

// Archive is the derived artifact: the valid reactions, the grouping
// buckets, the feature dictionary, the summaries, the inventory and the
// sampling space.
type Archive struct {
	Metadata      Metadata                      `json:"metadata"`
	Reactions     []domain.Reaction             `json:"reactions"`
	Buckets       map[string][]string           `json:"buckets"`
	Groups        []grouping.Group              `json:"groups"`
	Features      map[string]map[string]float64 `json:"features"`
	Summaries     map[string]domain.WF3Data     `json:"summaries"`
	Inventory     []domain.Material             `json:"inventory"`
	SamplingSpace hull.Hull                     `json:"sampling_space"`
}

// NewMetadata stamps a fresh run id and creation time.
func NewMetadata(marker string, report Report) Metadata {
	return Metadata{
		Schema:         SchemaVersion,
		RunID:          uuid.New(),
		Created:        time.Now().UTC(),
		ProtocolMarker: marker,
		Report:         report,
	}
}

// Validate checks the cross references between collections.
func (a *Archive) Validate() error {
	if a.Metadata.Schema != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, a.Metadata.Schema)
	}
	ids := make(map[string]struct{}, len(a.Reactions))
	for _, r := range a.Reactions {
		if _, dup := ids[r.Identifier]; dup {
			return fmt.Errorf("archive: duplicate reaction %s", r.Identifier)
		}
		ids[r.Identifier] = struct{}{}
	}
	for id := range a.Summaries {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("archive: summary %s has no reaction", id)
		}
	}
	return nil
}

// Reaction looks a valid reaction up by identifier.
func (a *Archive) Reaction(id string) (domain.Reaction, bool) {
	for _, r := range a.Reactions {
		if r.Identifier == id {
			return r, true
		}
	}
	return domain.Reaction{}, false
}

// BucketKeys returns the grouping bucket keys in order.
func (a *Archive) BucketKeys() []string {
	keys := make([]string, 0, len(a.Buckets))
	for k := range a.Buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
