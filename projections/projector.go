package projections

import (
	"context"
	"errors"

	"github.com/ripkitten-co/prism/events"
	"github.com/ripkitten-co/prism/streams"
)

// EventReader is the event log a projection reads. RetrieveFiltered returns
// prism.ErrStreamNotFound when a stream has nothing past the filter.
type EventReader interface {
	streams.Catalog
	RetrieveFiltered(ctx context.Context, stream string, f events.Filter) ([]events.Event, error)
}

// EventWriter is the event log an emitter projection writes to.
type EventWriter interface {
	AppendToEnd(ctx context.Context, stream string, evts []events.Event) error
	DeleteStream(ctx context.Context, stream string) error
}

// EventStore reads and writes events.
type EventStore interface {
	EventReader
	EventWriter
}

var _ EventStore = (*events.Store)(nil)

// ReadModel is the external state a read-model projection maintains.
// Persist is called on every checkpoint, so a read model can stage writes in
// reactors and flush them there.
type ReadModel interface {
	Initialize(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Persist(ctx context.Context) error
	Reset(ctx context.Context) error
	Down(ctx context.Context) error
}

// QueryProjector folds events into in-memory state. Nothing is persisted and
// no lock is taken.
type QueryProjector[S any] struct {
	*Context[S]
	name     string
	reader   EventReader
	settings settings
}

func NewQuery[S any](name string, reader EventReader, opts ...Option) *QueryProjector[S] {
	return &QueryProjector[S]{
		Context:  newContext[S](),
		name:     name,
		reader:   reader,
		settings: newSettings(opts),
	}
}

func (p *QueryProjector[S]) Name() string { return p.name }

// Run replays the selected streams from the beginning and returns the final
// state. A one-shot run stops after one cycle; a background run keeps
// polling until stopped.
func (p *QueryProjector[S]) Run(ctx context.Context, inBackground bool) (S, error) {
	var zero S
	reg := &p.reg
	if err := reg.Validate(); err != nil {
		return zero, err
	}
	if err := reg.validateOrder(!inBackground); err != nil {
		return zero, err
	}

	signals, stop := notifySignals(p.settings)
	defer stop()

	sub := newSubscription(p.name, p.reader, p.settings)
	sub.Compose(reg, &Scope{projection: p.name}, inBackground)

	w := newWorkflow(queryActivities(capabilities{
		reader:  p.reader,
		wakeup:  p.settings.wakeup,
		cfg:     p.settings.cfg,
		signals: signals,
	}), p.settings.tracer)

	err := w.run(ctx, sub)
	state, _ := sub.state.(S)
	return state, err
}

// Start runs the projection in the background.
func (p *QueryProjector[S]) Start(ctx context.Context) error {
	_, err := p.Run(ctx, true)
	return err
}

// EmitterProjector derives new streams. Reactors write through Scope.Emit
// and Scope.LinkTo; positions and state are checkpointed through the
// provider.
type EmitterProjector[S any] struct {
	*Context[S]
	name     string
	store    EventStore
	provider Provider
	settings settings
}

func NewEmitter[S any](name string, store EventStore, provider Provider, opts ...Option) *EmitterProjector[S] {
	return &EmitterProjector[S]{
		Context:  newContext[S](),
		name:     name,
		store:    store,
		provider: provider,
		settings: newSettings(opts),
	}
}

func (p *EmitterProjector[S]) Name() string { return p.name }

func (p *EmitterProjector[S]) Run(ctx context.Context, inBackground bool) (S, error) {
	return runPersistent[S](ctx, persistentRun{
		name:     p.name,
		reg:      &p.reg,
		reader:   p.store,
		writer:   p.store,
		provider: p.provider,
		effects:  emitterEffects{name: p.name, writer: p.store},
		settings: p.settings,
	}, inBackground)
}

func (p *EmitterProjector[S]) Start(ctx context.Context) error {
	_, err := p.Run(ctx, true)
	return err
}

// ReadModelProjector maintains a ReadModel, persisting it together with the
// projection checkpoint.
type ReadModelProjector[S any] struct {
	*Context[S]
	name      string
	reader    EventReader
	provider  Provider
	readModel ReadModel
	settings  settings
}

func NewReadModel[S any](name string, reader EventReader, provider Provider, rm ReadModel, opts ...Option) *ReadModelProjector[S] {
	return &ReadModelProjector[S]{
		Context:   newContext[S](),
		name:      name,
		reader:    reader,
		provider:  provider,
		readModel: rm,
		settings:  newSettings(opts),
	}
}

func (p *ReadModelProjector[S]) Name() string { return p.name }

func (p *ReadModelProjector[S]) ReadModel() ReadModel { return p.readModel }

func (p *ReadModelProjector[S]) Run(ctx context.Context, inBackground bool) (S, error) {
	return runPersistent[S](ctx, persistentRun{
		name:     p.name,
		reg:      &p.reg,
		reader:   p.reader,
		provider: p.provider,
		effects:  readModelEffects{rm: p.readModel},
		settings: p.settings,
	}, inBackground)
}

func (p *ReadModelProjector[S]) Start(ctx context.Context) error {
	_, err := p.Run(ctx, true)
	return err
}

type persistentRun struct {
	name     string
	reg      *Registration
	reader   EventReader
	writer   EventWriter
	provider Provider
	effects  sideEffects
	settings settings
}

func runPersistent[S any](ctx context.Context, r persistentRun, inBackground bool) (S, error) {
	var zero S
	if err := r.reg.Validate(); err != nil {
		return zero, err
	}
	if err := r.reg.validateOrder(false); err != nil {
		return zero, err
	}

	signals, stop := notifySignals(r.settings)
	defer stop()

	s := r.settings
	sub := newSubscription(r.name, r.reader, s)
	repo := NewRepository(r.name, r.provider, NewLock(s.clock, s.cfg.LockTimeout, s.cfg.LockThreshold), s.clock, sub.logger)
	mgmt := &persistentManagement{repo: repo, effects: r.effects}
	monitor := newMonitor(mgmt, sub.logger, s.metrics)
	sub.Compose(r.reg, &Scope{projection: r.name, writer: r.writer}, inBackground)

	w := newWorkflow(persistentActivities(capabilities{
		reader:  r.reader,
		wakeup:  s.wakeup,
		monitor: monitor,
		mgmt:    mgmt,
		cfg:     s.cfg,
		signals: signals,
	}), s.tracer)

	err := w.run(ctx, sub)
	switch {
	case err == nil:
		err = mgmt.freed(ctx, sub)
	case ctx.Err() != nil && sub.status == StatusRunning:
		// cancelled: hand the lock back so another process need not wait
		// for it to expire
		if ferr := mgmt.freed(context.WithoutCancel(ctx), sub); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}

	state, _ := sub.state.(S)
	return state, err
}
