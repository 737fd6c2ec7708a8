package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/internal/pg"
	"github.com/ripkitten-co/prism/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var eventColumns = []string{"stream_id", "version", "type", "data", "metadata", "created_at", "global_position"}

// Event represents a single event in a stream. Version is the event's
// position within its stream, starting at 1.
type Event struct {
	StreamID       string
	Version        int
	Type           string
	Data           []byte
	Metadata       []byte
	CreatedAt      time.Time
	GlobalPosition int64
}

// Category returns the part of a stream ID before the first dash, so
// "order-42" belongs to category "order".
func Category(streamID string) string {
	category, _, _ := strings.Cut(streamID, "-")
	return category
}

// Store provides append-only event stream operations backed by a single
// prism_events table. It also serves as the stream catalog projections use
// to resolve names, categories and "all streams" selectors.
type Store struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// New creates an event store using the given backend's executor and schema.
func New(b prism.Backend) *Store {
	return &Store{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

// Append writes events to a stream with optimistic concurrency control.
// Pass expectedVersion 0 to create a new stream. Returns ErrStreamExists
// if the stream already exists with version 0, or ErrConcurrencyConflict
// if the expected version doesn't match.
func (es *Store) Append(ctx context.Context, streamID string, expectedVersion int, evts []Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("events: append %s: at least one event required", streamID)
	}

	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	if expectedVersion > 0 {
		currentVersion, err := es.currentVersion(ctx, streamID)
		if err != nil {
			return fmt.Errorf("events: append %s: check version: %w", streamID, err)
		}
		if currentVersion != expectedVersion {
			return fmt.Errorf("events: append %s: expected version %d but got %d: %w",
				streamID, expectedVersion, currentVersion, prism.ErrConcurrencyConflict)
		}
	}

	builder := psql.Insert(schema.EventsTable).
		Columns("stream_id", "version", "type", "data", "metadata")

	for i, evt := range evts {
		version := expectedVersion + i + 1
		builder = builder.Values(streamID, version, evt.Type, jsonOrEmpty(evt.Data), evt.Metadata)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("events: append %s: build sql: %w", streamID, err)
	}

	_, err = es.exec.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if expectedVersion == 0 {
				return fmt.Errorf("events: append %s: %w", streamID, prism.ErrStreamExists)
			}
			return fmt.Errorf("events: append %s: %w", streamID, prism.ErrConcurrencyConflict)
		}
		return fmt.Errorf("events: append %s: %w", streamID, err)
	}

	// best-effort notification for idle projections
	_, _ = es.exec.Exec(ctx, "SELECT pg_notify('prism_events', $1)", streamID)

	return nil
}

// AppendToEnd appends events after whatever the stream currently holds,
// creating the stream when needed. Emitting projections hold the projection
// lock, so conflicts only come from foreign writers; those are retried a few
// times before giving up.
func (es *Store) AppendToEnd(ctx context.Context, streamID string, evts []Event) error {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var current int
		current, err = es.currentVersion(ctx, streamID)
		if err != nil {
			return fmt.Errorf("events: append to end %s: %w", streamID, err)
		}
		err = es.Append(ctx, streamID, current, evts)
		if !errors.Is(err, prism.ErrConcurrencyConflict) && !errors.Is(err, prism.ErrStreamExists) {
			return err
		}
	}
	return err
}

// ReadStream returns all events for a stream starting from fromVersion.
// Pass 0 to read from the beginning. Returns an empty slice if the stream
// doesn't exist.
func (es *Store) ReadStream(ctx context.Context, streamID string, fromVersion int) ([]Event, error) {
	return es.RetrieveAll(ctx, streamID, Filter{From: fromVersion})
}

// RetrieveAll is RetrieveFiltered without the not-found signal: a missing
// stream reads as an empty slice.
func (es *Store) RetrieveAll(ctx context.Context, streamID string, f Filter) ([]Event, error) {
	evts, err := es.RetrieveFiltered(ctx, streamID, f)
	if errors.Is(err, prism.ErrStreamNotFound) {
		return nil, nil
	}
	return evts, err
}

// RetrieveFiltered returns the events of one stream selected by f. When no
// event matches it returns prism.ErrStreamNotFound, which projections read as
// "nothing new on this stream".
func (es *Store) RetrieveFiltered(ctx context.Context, streamID string, f Filter) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select(eventColumns...).
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID})

	if f.From > 0 {
		builder = builder.Where(sq.GtOrEq{"version": f.From})
	}
	if f.Order == Descending {
		builder = builder.OrderBy("version DESC")
	} else {
		builder = builder.OrderBy("version ASC")
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}

	result, err := es.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("events: read %s: %w", streamID, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("events: read %s: %w", streamID, prism.ErrStreamNotFound)
	}
	return result, nil
}

// FirstCommit returns the first event ever written to the stream.
func (es *Store) FirstCommit(ctx context.Context, streamID string) (Event, error) {
	evts, err := es.RetrieveFiltered(ctx, streamID, Filter{Limit: 1})
	if err != nil {
		return Event{}, err
	}
	return evts[0], nil
}

// DeleteStream removes every event of the stream. Returns ErrStreamNotFound
// when the stream holds no events.
func (es *Store) DeleteStream(ctx context.Context, streamID string) error {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	sql, args, err := psql.Delete(schema.EventsTable).Where(sq.Eq{"stream_id": streamID}).ToSql()
	if err != nil {
		return fmt.Errorf("events: delete %s: build sql: %w", streamID, err)
	}

	tag, err := es.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("events: delete %s: %w", streamID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("events: delete %s: %w", streamID, prism.ErrStreamNotFound)
	}
	return nil
}

func (es *Store) currentVersion(ctx context.Context, streamID string) (int, error) {
	var version int
	err := es.exec.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM prism_events WHERE stream_id = $1",
		streamID,
	).Scan(&version)
	return version, err
}

func (es *Store) query(ctx context.Context, builder sq.SelectBuilder) ([]Event, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}

	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.StreamID, &e.Version, &e.Type, &e.Data, &e.Metadata, &e.CreatedAt, &e.GlobalPosition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func jsonOrEmpty(data []byte) []byte {
	if len(data) == 0 {
		return []byte(`{}`)
	}
	return data
}
