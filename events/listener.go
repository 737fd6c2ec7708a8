package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/prism"
)

// Listener waits for the NOTIFY that Append sends on the prism_events
// channel, letting idle projections wake up as soon as something is written.
type Listener struct {
	pool *pgxpool.Pool
}

// NewListener creates a listener on the store's connection pool.
func NewListener(store *prism.Store) *Listener {
	return &Listener{pool: store.PgxPool()}
}

// Wait blocks until a notification arrives, the timeout elapses or ctx is
// cancelled. An elapsed timeout is not an error.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := l.pool.Acquire(waitCtx)
	if err != nil {
		return fmt.Errorf("listener: acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(waitCtx, "LISTEN prism_events"); err != nil {
		return fmt.Errorf("listener: listen: %w", err)
	}
	defer func() {
		// the connection goes back to the pool, so stop listening on it
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN prism_events")
	}()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("listener: wait: %w", err)
}
