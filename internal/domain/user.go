package domain

import "time"

// UserReadModel is the local, read-only projection of an identity owned by the
// identity service. It is upserted by ID from user events and never deleted by
// consumers.
type UserReadModel struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	// SourceUpdatedAt is the timestamp of the event that produced this state.
	// An older event never overwrites a newer one.
	SourceUpdatedAt time.Time
}
