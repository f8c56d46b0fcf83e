package state

import "context"

// Repository persists device snapshots.
type Repository interface {
	// Load returns the last saved snapshot, or an empty State and nil
	// error if none exists.
	Load(ctx context.Context) (State, error)

	// Save replaces the snapshot atomically.
	Save(ctx context.Context, s State) error
}
