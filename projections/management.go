package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/ripkitten-co/prism"
)

// sideEffects are the parts of the lifecycle that differ between emitter and
// read-model projections.
type sideEffects interface {
	rise(ctx context.Context) error
	store(ctx context.Context) error
	reset(ctx context.Context) error
	discard(ctx context.Context, withEmitted bool) error
}

type persistentManagement struct {
	repo      *Repository
	effects   sideEffects
	discarded bool
}

func (m *persistentManagement) rise(ctx context.Context, sub *Subscription) error {
	exists, err := m.repo.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.repo.Create(ctx, StatusIdle); err != nil {
			return err
		}
	}

	if err := m.repo.Start(ctx, StatusRunning); err != nil {
		return err
	}
	sub.status = StatusRunning

	if err := m.effects.rise(ctx); err != nil {
		return fmt.Errorf("projections: %s rise: %w", sub.name, err)
	}
	if err := m.synchronise(ctx, sub); err != nil {
		return err
	}
	return sub.DiscoverStreams(ctx)
}

func (m *persistentManagement) store(ctx context.Context, sub *Subscription) error {
	if err := m.effects.store(ctx); err != nil {
		return fmt.Errorf("projections: %s store: %w", sub.name, err)
	}

	positions, state, err := encode(sub)
	if err != nil {
		return err
	}
	if err := m.repo.Persist(ctx, positions, state); err != nil {
		return err
	}
	sub.metrics.RecordCheckpoint(ctx, sub.name)
	sub.logger.Debug("projection checkpoint persisted", "processed", sub.processed)
	return nil
}

func (m *persistentManagement) revise(ctx context.Context, sub *Subscription) error {
	sub.Reset()
	positions, state, err := encode(sub)
	if err != nil {
		return err
	}
	if err := m.repo.Reset(ctx, positions, state, sub.status); err != nil {
		return err
	}
	if err := m.effects.reset(ctx); err != nil {
		return fmt.Errorf("projections: %s reset: %w", sub.name, err)
	}
	return nil
}

func (m *persistentManagement) discard(ctx context.Context, sub *Subscription, withEmitted bool) error {
	if err := m.repo.Delete(ctx); err != nil {
		return err
	}
	m.discarded = true
	sub.sprint.Stop()
	sub.Reset()

	if err := m.effects.discard(ctx, withEmitted); err != nil {
		return fmt.Errorf("projections: %s discard: %w", sub.name, err)
	}
	return nil
}

func (m *persistentManagement) close(ctx context.Context, sub *Subscription) error {
	positions, state, err := encode(sub)
	if err != nil {
		return err
	}
	if err := m.repo.Stop(ctx, positions, state, StatusIdle); err != nil {
		return err
	}
	sub.status = StatusIdle
	sub.sprint.Stop()
	return nil
}

func (m *persistentManagement) restart(ctx context.Context, sub *Subscription) error {
	if err := m.repo.StartAgain(ctx, StatusRunning); err != nil {
		return err
	}
	sub.status = StatusRunning
	sub.sprint.Continue()
	return nil
}

// synchronise loads the persisted checkpoint into the subscription.
func (m *persistentManagement) synchronise(ctx context.Context, sub *Subscription) error {
	positions, state, err := m.repo.LoadDetail(ctx)
	if err != nil {
		return err
	}
	return sub.restore(positions, state)
}

func (m *persistentManagement) renew(ctx context.Context, sub *Subscription) error {
	positions, err := sub.encodePositions()
	if err != nil {
		return err
	}
	refreshed, err := m.repo.UpdateLock(ctx, positions)
	if err != nil {
		return err
	}
	if refreshed {
		sub.metrics.RecordLockRefresh(ctx, sub.name)
	}
	return nil
}

// freed releases the lock at the end of a run unless the projection was
// deleted.
func (m *persistentManagement) freed(ctx context.Context, sub *Subscription) error {
	if m.discarded {
		return nil
	}
	if err := m.repo.ReleaseLock(ctx); err != nil {
		return err
	}
	sub.status = StatusIdle
	return nil
}

func (m *persistentManagement) disclose(ctx context.Context) (Status, error) {
	return m.repo.LoadStatus(ctx)
}

func encode(sub *Subscription) (positions, state []byte, err error) {
	if positions, err = sub.encodePositions(); err != nil {
		return nil, nil, err
	}
	if state, err = sub.encodeState(); err != nil {
		return nil, nil, err
	}
	return positions, state, nil
}

// emitterEffects owns the stream named after the projection.
type emitterEffects struct {
	name   string
	writer EventWriter
}

func (emitterEffects) rise(context.Context) error  { return nil }
func (emitterEffects) store(context.Context) error { return nil }

func (e emitterEffects) reset(ctx context.Context) error {
	return e.deleteStream(ctx)
}

func (e emitterEffects) discard(ctx context.Context, withEmitted bool) error {
	if !withEmitted {
		return nil
	}
	return e.deleteStream(ctx)
}

func (e emitterEffects) deleteStream(ctx context.Context) error {
	err := e.writer.DeleteStream(ctx, e.name)
	if errors.Is(err, prism.ErrStreamNotFound) {
		return nil
	}
	return err
}

// readModelEffects forwards the lifecycle to a ReadModel.
type readModelEffects struct {
	rm ReadModel
}

func (e readModelEffects) rise(ctx context.Context) error {
	ok, err := e.rm.IsInitialized(ctx)
	if err != nil || ok {
		return err
	}
	return e.rm.Initialize(ctx)
}

func (e readModelEffects) store(ctx context.Context) error { return e.rm.Persist(ctx) }
func (e readModelEffects) reset(ctx context.Context) error { return e.rm.Reset(ctx) }

func (e readModelEffects) discard(ctx context.Context, withEmitted bool) error {
	if !withEmitted {
		return nil
	}
	return e.rm.Down(ctx)
}
