package projections

import (
	"context"
	"log/slog"

	"github.com/ripkitten-co/prism/clock"
)

// Repository runs the lifecycle operations of one named projection against a
// Provider, turning refused writes into ProjectionError values.
type Repository struct {
	name     string
	provider Provider
	lock     *Lock
	clock    clock.Clock
	logger   *slog.Logger
	// lost is set once a held-lock write was refused; later writes fail
	// without touching the row until the lock is taken again.
	lost bool
}

// NewRepository creates a repository for the projection name.
func NewRepository(name string, provider Provider, lock *Lock, clk clock.Clock, logger *slog.Logger) *Repository {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{name: name, provider: provider, lock: lock, clock: clk, logger: logger}
}

func (r *Repository) Name() string { return r.name }

func (r *Repository) Create(ctx context.Context, status Status) error {
	ok, err := r.provider.CreateProjection(ctx, r.name, status)
	return r.check("create", ok, err)
}

// Start takes the lock and sets status. Contention is reported as
// ErrProjectionAlreadyRunning.
func (r *Repository) Start(ctx context.Context, status Status) error {
	now := r.clock.Now()
	token := r.lock.Acquire()
	ok, err := r.provider.AcquireLock(ctx, r.name, status, token, FormatLockToken(now))
	if err != nil {
		return r.fail("start", ErrProjectionFailed, err)
	}
	if !ok {
		return r.fail("start", ErrProjectionAlreadyRunning, nil)
	}
	r.lost = false
	r.logger.Debug("projection lock acquired", "projection", r.name, "locked_until", token)
	return nil
}

func (r *Repository) AcquireLock(ctx context.Context) error {
	return r.Start(ctx, StatusRunning)
}

// Stop writes a final checkpoint with status and renews the lock.
func (r *Repository) Stop(ctx context.Context, positions, state []byte, status Status) error {
	if r.lost {
		return r.fail("stop", ErrProjectionAlreadyRunning, nil)
	}
	held := r.held()
	token := r.lock.Refresh(r.clock.Now())
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Status:      statusPtr(status),
		Positions:   positions,
		State:       state,
		LockedUntil: &token,
		HeldLock:    held,
	})
	return r.checkHeld(ctx, "stop", held, ok, err)
}

func (r *Repository) StartAgain(ctx context.Context, status Status) error {
	if r.lost {
		return r.fail("start again", ErrProjectionAlreadyRunning, nil)
	}
	held := r.held()
	token := r.lock.Acquire()
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Status:      statusPtr(status),
		LockedUntil: &token,
		HeldLock:    held,
	})
	return r.checkHeld(ctx, "start again", held, ok, err)
}

// Persist writes a checkpoint and extends the lock.
func (r *Repository) Persist(ctx context.Context, positions, state []byte) error {
	if r.lost {
		return r.fail("persist", ErrProjectionAlreadyRunning, nil)
	}
	held := r.held()
	token := r.lock.Increment()
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Positions:   positions,
		State:       state,
		LockedUntil: &token,
		HeldLock:    held,
	})
	return r.checkHeld(ctx, "persist", held, ok, err)
}

func (r *Repository) Reset(ctx context.Context, positions, state []byte, status Status) error {
	if r.lost {
		return r.fail("reset", ErrProjectionAlreadyRunning, nil)
	}
	held := r.held()
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Status:    statusPtr(status),
		Positions: positions,
		State:     state,
		HeldLock:  held,
	})
	return r.checkHeld(ctx, "reset", held, ok, err)
}

func (r *Repository) Delete(ctx context.Context) error {
	ok, err := r.provider.DeleteProjection(ctx, r.name)
	return r.check("delete", ok, err)
}

// UpdateLock renews the lock together with positions when the lock is due for
// a refresh. It reports whether a write happened.
func (r *Repository) UpdateLock(ctx context.Context, positions []byte) (bool, error) {
	if r.lost {
		return false, r.fail("update lock", ErrProjectionAlreadyRunning, nil)
	}
	now := r.clock.Now()
	if !r.lock.ShouldRefresh(now) {
		return false, nil
	}
	held := r.held()
	token := r.lock.Refresh(now)
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Positions:   positions,
		LockedUntil: &token,
		HeldLock:    held,
	})
	if err := r.checkHeld(ctx, "update lock", held, ok, err); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock sets the projection idle and clears its lock.
func (r *Repository) ReleaseLock(ctx context.Context) error {
	if r.lost {
		return r.fail("release lock", ErrProjectionAlreadyRunning, nil)
	}
	held := r.held()
	ok, err := r.provider.UpdateProjection(ctx, r.name, Update{
		Status:    statusPtr(StatusIdle),
		ClearLock: true,
		HeldLock:  held,
	})
	return r.checkHeld(ctx, "release lock", held, ok, err)
}

// LoadStatus returns the persisted status. A missing row reads as running so
// a projection deleted under a live process keeps going until it sees its
// own state.
func (r *Repository) LoadStatus(ctx context.Context) (Status, error) {
	rec, found, err := r.provider.RetrieveProjection(ctx, r.name)
	if err != nil {
		return "", r.fail("load status", ErrProjectionFailed, err)
	}
	if !found {
		return StatusRunning, nil
	}
	return rec.Status, nil
}

// LoadDetail returns the persisted positions and state.
func (r *Repository) LoadDetail(ctx context.Context) (positions, state []byte, err error) {
	rec, found, err := r.provider.RetrieveProjection(ctx, r.name)
	if err != nil {
		return nil, nil, r.fail("load detail", ErrProjectionFailed, err)
	}
	if !found {
		return nil, nil, r.fail("load detail", ErrProjectionNotFound, nil)
	}
	return rec.Positions, rec.State, nil
}

func (r *Repository) Exists(ctx context.Context) (bool, error) {
	ok, err := r.provider.ProjectionExists(ctx, r.name)
	if err != nil {
		return false, r.fail("exists", ErrProjectionFailed, err)
	}
	return ok, nil
}

func (r *Repository) check(op string, ok bool, err error) error {
	if err != nil {
		return r.fail(op, ErrProjectionFailed, err)
	}
	if !ok {
		return r.fail(op, ErrProjectionFailed, nil)
	}
	return nil
}

// held returns the token this process last wrote, or "" before it ever took
// the lock. Writes made while holding a token only apply if the row still
// carries it.
func (r *Repository) held() string {
	token, err := r.lock.Current()
	if err != nil {
		return ""
	}
	return token
}

// checkHeld is check for writes conditioned on a held token. A refused write
// on an existing row means another process took the expired lock over.
func (r *Repository) checkHeld(ctx context.Context, op, held string, ok bool, err error) error {
	if err != nil || ok || held == "" {
		return r.check(op, ok, err)
	}
	exists, err := r.provider.ProjectionExists(ctx, r.name)
	if err != nil {
		return r.fail(op, ErrProjectionFailed, err)
	}
	if !exists {
		return r.fail(op, ErrProjectionFailed, nil)
	}
	r.lost = true
	r.logger.Warn("projection lock lost", "projection", r.name, "op", op, "held", held)
	return r.fail(op, ErrProjectionAlreadyRunning, nil)
}

func (r *Repository) fail(op string, kind, cause error) error {
	return &ProjectionError{Projection: r.name, Op: op, Kind: kind, Cause: cause}
}
