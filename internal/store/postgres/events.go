// internal/store/postgres/events.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/libranexus/internal/store"
)

const tableEvents = "events"

type events struct{ *pgTx }

// Append adds events after expectedVersion with optimistic concurrency control.
func (r events) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, evs []store.Event) error {
	ctx, span := r.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(evs)),
		),
	)
	defer span.End()

	var currentVersion int
	err := r.get(ctx, &currentVersion, from(tableEvents).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("aggregate_id").Eq(aggregateID)))
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return store.ErrConcurrencyConflict
	}

	for i, ev := range evs {
		version := expectedVersion + i + 1
		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var eventID int64
		q := dialect.Insert(tableEvents).Prepared(true).Rows(goqu.Record{
			"aggregate_id":   aggregateID,
			"aggregate_type": aggregateType,
			"event_type":     ev.EventType,
			"event_data":     string(ev.EventData),
			"version":        version,
			"created_at":     createdAt,
		}).Returning("id")
		if err := r.get(ctx, &eventID, q); err != nil {
			// a concurrent writer took this version
			if isDuplicate(err) {
				return store.ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", ev.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Load returns the aggregate's events in version order.
func (r events) Load(ctx context.Context, aggregateID uuid.UUID) ([]store.Event, error) {
	ctx, span := r.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var out []store.Event
	err := r.selectAll(ctx, &out, from(tableEvents).
		Select("id", "aggregate_id", "aggregate_type", "event_type", "event_data", "version", "created_at").
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Order(goqu.C("version").Asc()))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(out)))
	return out, nil
}
