package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/ripkitten-co/prism/events"
	"github.com/ripkitten-co/prism/internal/codecs"
	"github.com/ripkitten-co/prism/streams"
)

// Reactor folds one event into the projection state. Returning an error
// aborts the current cycle.
type Reactor[S any] func(ctx context.Context, scope *Scope, evt events.Event, state S) (S, error)

type reactor func(ctx context.Context, scope *Scope, evt events.Event, state any) (any, error)

// Registration is the type-erased projection definition a run works from.
type Registration struct {
	initialize  func() any
	decode      func(codec codecs.Codec, data []byte) (any, error)
	selector    streams.Selector
	reactors    map[string]reactor
	fallback    reactor
	queryFilter QueryFilter
	timer       time.Duration
	haltOn      []HaltCondition
	err         error
}

func (r *Registration) Selector() streams.Selector { return r.selector }
func (r *Registration) Timer() time.Duration { return r.timer }

// QueryFilter returns the registered filter or the default ascending read
// from the next expected position.
func (r *Registration) QueryFilter() QueryFilter {
	if r.queryFilter == nil {
		return FromIncludedPosition{}
	}
	return r.queryFilter
}

func (r *Registration) HaltConditions() []HaltCondition { return r.haltOn }

// Validate reports configuration errors collected during registration.
func (r *Registration) Validate() error {
	if r.err != nil {
		return r.err
	}
	if r.selector.IsZero() {
		return fmt.Errorf("projections: %w: no streams selected", ErrInvalidContext)
	}
	if err := r.selector.Validate(); err != nil {
		return fmt.Errorf("projections: %w: %w", ErrInvalidContext, err)
	}
	if len(r.reactors) == 0 && r.fallback == nil {
		return fmt.Errorf("projections: %w: no reactor registered", ErrInvalidContext)
	}
	return nil
}

// validateOrder rejects a descending query filter unless the run is a
// one-shot query run.
func (r *Registration) validateOrder(oneShotQuery bool) error {
	if r.queryFilter == nil || oneShotQuery {
		return nil
	}
	var stream string
	if len(r.selector.Names) > 0 {
		stream = r.selector.Names[0]
	}
	if r.queryFilter.Apply(stream, 1, 0).Order == events.Descending {
		return fmt.Errorf("projections: %w: descending query filter needs a one-shot query run", ErrInvalidContext)
	}
	return nil
}

func (r *Registration) reactorFor(eventType string) reactor {
	if fn, ok := r.reactors[eventType]; ok {
		return fn
	}
	return r.fallback
}

func (r *Registration) newState() any {
	return r.initialize()
}

func (r *Registration) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("projections: %w: "+format, append([]any{ErrInvalidContext}, args...)...)
	}
}

// Context collects the definition of a projection over state S. Every field
// can be set once; a second registration is reported by Run.
type Context[S any] struct {
	reg         Registration
	initialized bool
}

func newContext[S any]() *Context[S] {
	c := &Context[S]{}
	c.reg.reactors = make(map[string]reactor)
	c.reg.initialize = func() any {
		var zero S
		return zero
	}
	c.reg.decode = func(codec codecs.Codec, data []byte) (any, error) {
		state := c.reg.initialize().(S)
		if err := codec.Unmarshal(data, &state); err != nil {
			return nil, err
		}
		return state, nil
	}
	return c
}

// Initialize sets the function producing the initial state.
func (c *Context[S]) Initialize(fn func() S) *Context[S] {
	if c.initialized {
		c.reg.fail("initializer already set")
		return c
	}
	c.initialized = true
	c.reg.initialize = func() any { return fn() }
	return c
}

func (c *Context[S]) FromStreams(names ...string) *Context[S] {
	return c.subscribe(streams.FromStreams(names...))
}

func (c *Context[S]) FromCategories(categories ...string) *Context[S] {
	return c.subscribe(streams.FromCategories(categories...))
}

func (c *Context[S]) FromAll() *Context[S] {
	return c.subscribe(streams.FromAll())
}

func (c *Context[S]) subscribe(sel streams.Selector) *Context[S] {
	if !c.reg.selector.IsZero() {
		c.reg.fail("streams already selected")
		return c
	}
	c.reg.selector = sel
	return c
}

// When registers a reactor for every event without a type-specific reactor.
func (c *Context[S]) When(fn Reactor[S]) *Context[S] {
	if c.reg.fallback != nil {
		c.reg.fail("reactor already set")
		return c
	}
	c.reg.fallback = erase(fn)
	return c
}

// On registers a reactor for one event type.
func (c *Context[S]) On(eventType string, fn Reactor[S]) *Context[S] {
	if _, ok := c.reg.reactors[eventType]; ok {
		c.reg.fail("reactor for %q already set", eventType)
		return c
	}
	c.reg.reactors[eventType] = erase(fn)
	return c
}

func (c *Context[S]) WithQueryFilter(f QueryFilter) *Context[S] {
	if c.reg.queryFilter != nil {
		c.reg.fail("query filter already set")
		return c
	}
	c.reg.queryFilter = f
	return c
}

// Until bounds the wall-clock duration of a run.
func (c *Context[S]) Until(d time.Duration) *Context[S] {
	if c.reg.timer != 0 {
		c.reg.fail("timer already set")
		return c
	}
	if d <= 0 {
		c.reg.fail("timer must be positive, got %s", d)
		return c
	}
	c.reg.timer = d
	return c
}

// HaltOn adds conditions that stop the run once met.
func (c *Context[S]) HaltOn(conds ...HaltCondition) *Context[S] {
	c.reg.haltOn = append(c.reg.haltOn, conds...)
	return c
}

func erase[S any](fn Reactor[S]) reactor {
	return func(ctx context.Context, scope *Scope, evt events.Event, state any) (any, error) {
		return fn(ctx, scope, evt, state.(S))
	}
}
