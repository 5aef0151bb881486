package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch is returned for raw columns outside the known naming convention.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidReaction marks a reaction violating a construction invariant.
	ErrInvalidReaction = errors.New("invalid reaction")
	// ErrMaterialNotFound is returned when an identifier is absent from the inventory.
	ErrMaterialNotFound = errors.New("material not found")
	// ErrNotWorkflow3 is returned when deriving a summary for another protocol.
	ErrNotWorkflow3 = errors.New("not a workflow-3 reaction")
	// ErrAmbiguousAntisolvent is returned when a reaction has zero or several antisolvent candidates.
	ErrAmbiguousAntisolvent = errors.New("ambiguous antisolvent")
	// ErrMissingMoleData is returned when a reaction carries no aggregated mole amounts.
	ErrMissingMoleData = errors.New("missing mole data")
	// ErrNonSubsetGroup is returned when a header group member is not dominated by the representative.
	ErrNonSubsetGroup = errors.New("category set is not a subset of the representative")
	// ErrEmptyStockSolution is returned for a stock solution with no positive concentration.
	ErrEmptyStockSolution = errors.New("stock solution contributes nothing")
	// ErrStockSolutionNotFound is returned when a reagent has no matching sampling-space row.
	ErrStockSolutionNotFound = errors.New("stock solution not found")
)

// ParseError is a record-scoped rejection. The record is dropped and the batch continues.
type ParseError struct {
	ReactionID string
	Field      string
	Reason     string
	Err        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("reaction %s: field %s: %s", e.ReactionID, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// GroupError aborts derivation of one version/header group.
type GroupError struct {
	Version string
	Header  string
	Err     error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group expver=%s header=%s: %v", e.Version, e.Header, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }
