package store

import "errors"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")

	// ErrAllocationClosed is returned when closing an allocation that another
	// transaction already ended.
	ErrAllocationClosed = errors.New("allocation already closed")
)

// Violation describes a committed state that breaks a residency invariant.
// Reconcile should always return none.
type Violation struct {
	Kind     string `json:"kind"` // over_capacity | multiple_active
	EntityID string `json:"entityId"`
	Count    int64  `json:"count"`
	Limit    int64  `json:"limit"`
}
