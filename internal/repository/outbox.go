package repository

import (
	"context"
	"fmt"
	"time"
)

type OutboxEvent struct {
	ID          int64
	EventID     string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, event_id, aggregate_id, event_type, payload, created_at
		     FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var (
			e       OutboxEvent
			payload string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE outbox_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event as processed: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("outbox event %d not found or already processed", id))
}
