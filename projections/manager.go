package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/prism/internal/codecs"
)

// Manager controls projections from outside their process. It only writes
// the status; running projections carry out the request on their next
// cycle.
type Manager struct {
	provider Provider
	codec    codecs.Codec
}

func NewManager(provider Provider, opts ...Option) *Manager {
	s := newSettings(opts)
	return &Manager{provider: provider, codec: s.codec}
}

// Stop asks the projection to checkpoint and stop.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.request(ctx, "stop", name, StatusStopping)
}

// Reset asks the projection to forget its positions and state. A background
// run restarts from the beginning.
func (m *Manager) Reset(ctx context.Context, name string) error {
	return m.request(ctx, "reset", name, StatusResetting)
}

// Delete asks the projection to remove its row and stop; withEmitted also
// removes what it emitted or its read model.
func (m *Manager) Delete(ctx context.Context, name string, withEmitted bool) error {
	status := StatusDeleting
	if withEmitted {
		status = StatusDeletingWithEmittedEvents
	}
	return m.request(ctx, "delete", name, status)
}

func (m *Manager) request(ctx context.Context, op, name string, status Status) error {
	ok, err := m.provider.UpdateProjection(ctx, name, Update{Status: statusPtr(status)})
	if err != nil {
		return &ProjectionError{Projection: name, Op: op, Kind: ErrProjectionFailed, Cause: err}
	}
	if !ok {
		return &ProjectionError{Projection: name, Op: op, Kind: ErrProjectionNotFound}
	}
	return nil
}

func (m *Manager) StatusOf(ctx context.Context, name string) (Status, error) {
	rec, err := m.retrieve(ctx, "status", name)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (m *Manager) StreamPositionsOf(ctx context.Context, name string) (map[string]int, error) {
	rec, err := m.retrieve(ctx, "positions", name)
	if err != nil {
		return nil, err
	}
	positions := make(map[string]int)
	if err := m.codec.Unmarshal(rec.Positions, &positions); err != nil {
		return nil, fmt.Errorf("projections: positions %s: decode: %w", name, err)
	}
	return positions, nil
}

// StateOf decodes the checkpointed state of the projection into v.
func (m *Manager) StateOf(ctx context.Context, name string, v any) error {
	rec, err := m.retrieve(ctx, "state", name)
	if err != nil {
		return err
	}
	if err := m.codec.Unmarshal(rec.State, v); err != nil {
		return fmt.Errorf("projections: state %s: decode: %w", name, err)
	}
	return nil
}

// FilterNames returns the given names that exist as projections.
func (m *Manager) FilterNames(ctx context.Context, names ...string) ([]string, error) {
	found, err := m.provider.FilterByNames(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("projections: filter names: %w", err)
	}
	return found, nil
}

func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := m.provider.ProjectionExists(ctx, name)
	if err != nil {
		return false, &ProjectionError{Projection: name, Op: "exists", Kind: ErrProjectionFailed, Cause: err}
	}
	return ok, nil
}

func (m *Manager) retrieve(ctx context.Context, op, name string) (Record, error) {
	rec, found, err := m.provider.RetrieveProjection(ctx, name)
	if err != nil {
		return Record{}, &ProjectionError{Projection: name, Op: op, Kind: ErrProjectionFailed, Cause: err}
	}
	if !found {
		return Record{}, &ProjectionError{Projection: name, Op: op, Kind: ErrProjectionNotFound}
	}
	return rec, nil
}
