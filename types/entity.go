package types

import "time"

// Entity carries the audit timestamps and optimistic-concurrency version of
// every ledger aggregate.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewEntity creates a new Entity at version 1 with current timestamps.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch records a mutation: it bumps the version and the UpdatedAt timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
	e.Version++
}
