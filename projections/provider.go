package projections

import "context"

// Record is a persisted projection row. Positions and State hold JSON;
// LockedUntil is empty when no process holds the lock.
type Record struct {
	Name        string
	Status      Status
	Positions   []byte
	State       []byte
	LockedUntil string
}

// Update lists the columns to change on a projection row. Nil fields are left
// untouched; ClearLock sets locked_until to NULL. A non-empty HeldLock makes
// the update apply only while locked_until still equals it.
type Update struct {
	Status      *Status
	Positions   []byte
	State       []byte
	LockedUntil *string
	ClearLock   bool
	HeldLock    string
}

// Provider persists projection rows. Mutations report false when no row was
// affected so callers can tell contention or absence from storage errors.
type Provider interface {
	CreateProjection(ctx context.Context, name string, status Status) (bool, error)
	UpdateProjection(ctx context.Context, name string, u Update) (bool, error)
	RetrieveProjection(ctx context.Context, name string) (Record, bool, error)
	DeleteProjection(ctx context.Context, name string) (bool, error)
	// AcquireLock sets status and lockedUntil when the row is unlocked or its
	// lock expired before now.
	AcquireLock(ctx context.Context, name string, status Status, lockedUntil, now string) (bool, error)
	FilterByNames(ctx context.Context, names ...string) ([]string, error)
	ProjectionExists(ctx context.Context, name string) (bool, error)
}

func statusPtr(s Status) *Status { return &s }
