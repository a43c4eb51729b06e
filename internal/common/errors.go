// Package common defines the error taxonomy shared by the storage adapter,
// repositories, synchronizers and the transport layer. Callers should use
// errors.Is to match these values, or Kind to get the sentinel of a chain.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced folder or file id is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned for empty or illegal node names.
	ErrInvalidName = errors.New("invalid name")

	// ErrPathConflict is returned on a name collision among siblings or when a
	// physical path is already occupied.
	ErrPathConflict = errors.New("path conflict")

	// ErrCycle is returned when a folder would become its own descendant.
	ErrCycle = errors.New("cycle")

	// ErrInvariantViolation is returned for operations the tree forbids,
	// such as deleting or moving the root.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrIO is returned on physical storage failures.
	ErrIO = errors.New("io error")

	// ErrTransaction is returned when a metadata write or commit fails.
	ErrTransaction = errors.New("transaction error")

	// ErrConsistencyFault marks a failure whose compensating action failed too.
	// Disk and metadata disagree and an operator has to reconcile them.
	ErrConsistencyFault = errors.New("consistency fault")
)

// kinds is ordered: a consistency fault wraps the error that caused it, so it
// must be checked first.
var kinds = []error{
	ErrConsistencyFault,
	ErrNotFound,
	ErrInvalidName,
	ErrPathConflict,
	ErrCycle,
	ErrInvariantViolation,
	ErrIO,
	ErrTransaction,
}

// Kind returns the taxonomy sentinel carried by err, or nil if err carries none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

var kindNames = map[error]string{
	ErrConsistencyFault:   "consistency_fault",
	ErrNotFound:           "not_found",
	ErrInvalidName:        "invalid_name",
	ErrPathConflict:       "path_conflict",
	ErrCycle:              "cycle",
	ErrInvariantViolation: "invariant_violation",
	ErrIO:                 "io",
	ErrTransaction:        "transaction",
}

// KindName returns a stable snake_case label for the kind of err: "ok" for
// nil and "internal" for errors outside the taxonomy.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	if name, ok := kindNames[Kind(err)]; ok {
		return name
	}
	return "internal"
}

// IsKnown reports whether err carries one of the taxonomy sentinels.
func IsKnown(err error) bool {
	return Kind(err) != nil
}

// ConsistencyFault describes a physical change that could not be reversed
// after the metadata step failed. It holds everything needed for a manual repair.
type ConsistencyFault struct {
	Op              string
	NodeID          string
	OldPath         string
	NewPath         string
	Cause           error
	CompensationErr error
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault: %s node=%s old=%q new=%q: %v (compensation: %v)",
		f.Op, f.NodeID, f.OldPath, f.NewPath, f.Cause, f.CompensationErr)
}

// Unwrap exposes both the fault sentinel and the original cause.
func (f *ConsistencyFault) Unwrap() []error {
	return []error{ErrConsistencyFault, f.Cause}
}
