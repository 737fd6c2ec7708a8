package events

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/prism/schema"
)

// Streams whose ID starts with this prefix are internal and never returned
// by AllStreams.
const InternalStreamPrefix = "$"

// FilterStreams returns the subset of names that currently hold events,
// ordered by stream ID.
func (es *Store) FilterStreams(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return es.streamIDs(ctx, "filter streams", sq.Eq{"stream_id": names})
}

// FilterCategories returns the streams belonging to any of the categories.
func (es *Store) FilterCategories(ctx context.Context, categories []string) ([]string, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	return es.streamIDs(ctx, "filter categories", sq.Expr("split_part(stream_id, '-', 1) = ANY(?)", categories))
}

// AllStreams returns every non-internal stream.
func (es *Store) AllStreams(ctx context.Context) ([]string, error) {
	return es.streamIDs(ctx, "all streams", sq.NotLike{"stream_id": InternalStreamPrefix + "%"})
}

// HasStream reports whether the stream holds at least one event.
func (es *Store) HasStream(ctx context.Context, streamID string) (bool, error) {
	ids, err := es.streamIDs(ctx, "has stream", sq.Eq{"stream_id": streamID})
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (es *Store) streamIDs(ctx context.Context, op string, where sq.Sqlizer) ([]string, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	sql, args, err := psql.
		Select("DISTINCT stream_id").
		From(schema.EventsTable).
		Where(where).
		OrderBy("stream_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: %s: build sql: %w", op, err)
	}

	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("events: %s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	return ids, nil
}
