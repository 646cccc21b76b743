package shared

import (
	"time"

	"github.com/google/uuid"
)

// Record carries the identity and bookkeeping fields of a stored domain
// object. Version starts at 1 and grows with every state change.
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewRecord returns a fresh record with a random id
func NewRecord() Record {
	now := time.Now()
	return Record{ID: uuid.New(), CreatedAt: now, UpdatedAt: now, Version: 1}
}

// Touch marks the record as changed at t
func (r *Record) Touch(t time.Time) {
	r.UpdatedAt = t
	r.Version++
}
