package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/ripkitten-co/prism/projections"
)

// Provider keeps projection rows in memory. It is safe for concurrent use.
type Provider struct {
	mu   sync.Mutex
	rows map[string]projections.Record
}

var _ projections.Provider = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{rows: make(map[string]projections.Record)}
}

func (p *Provider) CreateProjection(_ context.Context, name string, status projections.Status) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rows[name]; ok {
		return false, nil
	}
	p.rows[name] = projections.Record{
		Name:      name,
		Status:    status,
		Positions: []byte(`{}`),
		State:     []byte(`{}`),
	}
	return true, nil
}

func (p *Provider) UpdateProjection(_ context.Context, name string, u projections.Update) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.rows[name]
	if !ok {
		return false, nil
	}
	if u.HeldLock != "" && rec.LockedUntil != u.HeldLock {
		return false, nil
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Positions != nil {
		rec.Positions = slices.Clone(u.Positions)
	}
	if u.State != nil {
		rec.State = slices.Clone(u.State)
	}
	switch {
	case u.ClearLock:
		rec.LockedUntil = ""
	case u.LockedUntil != nil:
		rec.LockedUntil = *u.LockedUntil
	}
	p.rows[name] = rec
	return true, nil
}

func (p *Provider) RetrieveProjection(_ context.Context, name string) (projections.Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.rows[name]
	return rec, ok, nil
}

func (p *Provider) DeleteProjection(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rows[name]; !ok {
		return false, nil
	}
	delete(p.rows, name)
	return true, nil
}

func (p *Provider) AcquireLock(_ context.Context, name string, status projections.Status, lockedUntil, now string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.rows[name]
	if !ok {
		return false, nil
	}
	if rec.LockedUntil != "" && rec.LockedUntil >= now {
		return false, nil
	}
	rec.Status = status
	rec.LockedUntil = lockedUntil
	p.rows[name] = rec
	return true, nil
}

func (p *Provider) FilterByNames(_ context.Context, names ...string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var found []string
	for _, name := range names {
		if _, ok := p.rows[name]; ok && !slices.Contains(found, name) {
			found = append(found, name)
		}
	}
	slices.Sort(found)
	return found, nil
}

func (p *Provider) ProjectionExists(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.rows[name]
	return ok, nil
}
