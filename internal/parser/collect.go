package parser

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chemplumb/pkg/domain"
)

// Outcome is the result of parsing one row: either Parsed or Rejected.
type Outcome struct {
	Row       int
	Reaction  domain.Reaction
	Rejection *Rejection
}

// Parsed reports whether the row produced a reaction.
func (o Outcome) Parsed() bool { return o.Rejection == nil }

// Rejection records why a row was dropped.
type Rejection struct {
	Table      string `json:"table"`
	Row        int    `json:"row"`
	ReactionID string `json:"reaction_id,omitempty"`
	Field      string `json:"field"`
	Reason     string `json:"reason"`
}

func newRejection(table string, row int, err error) *Rejection {
	rej := &Rejection{Table: table, Row: row, Field: "unknown", Reason: err.Error()}
	var pe *domain.ParseError
	if errors.As(err, &pe) {
		rej.ReactionID = pe.ReactionID
		rej.Field = pe.Field
	}
	return rej
}

// Collection is the reduced result of parsing a table, in row order.
type Collection struct {
	Table     string
	Reactions []domain.Reaction
	Rejected  []Rejection
}

// ReasonCounts aggregates rejections by offending field.
func (c Collection) ReasonCounts() map[string]int {
	out := make(map[string]int)
	for _, r := range c.Rejected {
		out[r.Field]++
	}
	return out
}

// ParseRow parses row i of the table into an Outcome.
func (p *Parser) ParseRow(t *Table, i int) Outcome {
	reaction, err := p.Parse(t.Record(i), t.Columns)
	if err != nil {
		return Outcome{Row: i, Rejection: newRejection(t.Name, i, err)}
	}
	return Outcome{Row: i, Reaction: reaction}
}

// Collect parses every row with up to workers goroutines and reduces the
// outcomes in row order, so the result does not depend on scheduling.
func (p *Parser) Collect(ctx context.Context, t *Table, workers int) (Collection, error) {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]Outcome, len(t.Rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range t.Rows {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.ParseRow(t, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Collection{}, err
	}

	c := Collection{Table: t.Name}
	for _, o := range outcomes {
		if o.Parsed() {
			c.Reactions = append(c.Reactions, o.Reaction)
			continue
		}
		p.logger.Warn("the reaction is DROPPED",
			zap.String("table", t.Name),
			zap.Int("row", o.Row),
			zap.String("reaction", o.Rejection.ReactionID),
			zap.String("field", o.Rejection.Field),
			zap.String("reason", o.Rejection.Reason))
		c.Rejected = append(c.Rejected, *o.Rejection)
	}
	p.logger.Info("table collected",
		zap.String("table", t.Name),
		zap.Int("rows", len(t.Rows)),
		zap.Int("parsed", len(c.Reactions)),
		zap.Int("rejected", len(c.Rejected)))
	return c, nil
}
