package projections

import (
	"context"
	"log/slog"
)

// management is the persistent lifecycle a Monitor and the persistent
// activities drive.
type management interface {
	rise(ctx context.Context, sub *Subscription) error
	store(ctx context.Context, sub *Subscription) error
	revise(ctx context.Context, sub *Subscription) error
	discard(ctx context.Context, sub *Subscription, withEmitted bool) error
	close(ctx context.Context, sub *Subscription) error
	restart(ctx context.Context, sub *Subscription) error
	synchronise(ctx context.Context, sub *Subscription) error
	renew(ctx context.Context, sub *Subscription) error
	freed(ctx context.Context, sub *Subscription) error
	disclose(ctx context.Context) (Status, error)
}

// Monitor reads the persisted status and carries out the transition a
// controller requested.
type Monitor struct {
	mgmt    management
	logger  *slog.Logger
	metrics *Metrics
}

func newMonitor(mgmt management, logger *slog.Logger, metrics *Metrics) *Monitor {
	return &Monitor{mgmt: mgmt, logger: logger, metrics: metrics}
}

// Refresh reacts to the current status. first marks the first cycle of the
// run: a stop or delete seen then asks the caller to stop right away, and a
// reset seen then is not followed by a restart.
func (m *Monitor) Refresh(ctx context.Context, sub *Subscription, first bool) (bool, error) {
	status, err := m.mgmt.disclose(ctx)
	if err != nil {
		return false, err
	}

	switch status {
	case StatusStopping:
		m.observed(ctx, sub, status, first)
		if first {
			if err := m.mgmt.synchronise(ctx, sub); err != nil {
				return false, err
			}
		}
		return first, m.mgmt.close(ctx, sub)

	case StatusResetting:
		m.observed(ctx, sub, status, first)
		if err := m.mgmt.revise(ctx, sub); err != nil {
			return false, err
		}
		if !first && sub.sprint.InBackground() {
			return false, m.mgmt.restart(ctx, sub)
		}
		return false, nil

	case StatusDeleting, StatusDeletingWithEmittedEvents:
		m.observed(ctx, sub, status, first)
		return first, m.mgmt.discard(ctx, sub, status == StatusDeletingWithEmittedEvents)
	}
	return false, nil
}

func (m *Monitor) observed(ctx context.Context, sub *Subscription, status Status, first bool) {
	m.logger.Info("projection status requested", "projection", sub.name, "status", status, "first_cycle", first)
	m.metrics.RecordStatusReaction(ctx, sub.name, status)
}
