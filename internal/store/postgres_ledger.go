package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jirayu-w/eventseat/internal/domain"
	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

// PostgresLedger implements Ledger on PostgreSQL with pgxpool.
//
// Schema:
//
//	CREATE TABLE booking_records (
//	    event_id          TEXT        NOT NULL,
//	    user_id           TEXT        NOT NULL,
//	    status            TEXT        NOT NULL,
//	    event_name        TEXT        NOT NULL,
//	    event_start       TIMESTAMPTZ NOT NULL,
//	    waitlist_position INT         NOT NULL DEFAULT 0,
//	    event_version     BIGINT      NOT NULL,
//	    updated_at        TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (event_id, user_id)
//	);
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a new PostgresLedger
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Append upserts records, discarding stale versions via the WHERE guard
func (l *PostgresLedger) Append(ctx context.Context, records []*domain.BookingRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "store.postgres.ledger.append")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	query := `
		INSERT INTO booking_records (
			event_id, user_id, status, event_name, event_start,
			waitlist_position, event_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, user_id) DO UPDATE SET
			status = EXCLUDED.status,
			event_name = EXCLUDED.event_name,
			event_start = EXCLUDED.event_start,
			waitlist_position = EXCLUDED.waitlist_position,
			event_version = EXCLUDED.event_version,
			updated_at = EXCLUDED.updated_at
		WHERE booking_records.event_version < EXCLUDED.event_version
	`

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		updatedAt := record.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}

		_, err := tx.Exec(ctx, query,
			record.EventID,
			record.UserID,
			string(record.Status),
			record.EventName,
			record.EventStart,
			record.WaitlistPosition,
			record.EventVersion,
			updatedAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to upsert record (%s, %s): %w", record.EventID, record.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit ledger tx: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SyncWaitlist rewrites waitlist positions to match the committed order.
// unnest WITH ORDINALITY maps each user to its 1-based position in one
// statement.
func (l *PostgresLedger) SyncWaitlist(ctx context.Context, eventID string, orderedUsers []string, version int64) error {
	ctx, span := telemetry.StartSpan(ctx, "store.postgres.ledger.sync_waitlist")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("waitlist_size", len(orderedUsers)),
	)

	if len(orderedUsers) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	query := `
		UPDATE booking_records AS br
		SET status = $4,
		    waitlist_position = w.position,
		    event_version = $3,
		    updated_at = $5
		FROM unnest($2::text[]) WITH ORDINALITY AS w(user_id, position)
		WHERE br.event_id = $1
		  AND br.user_id = w.user_id
		  AND br.event_version <= $3
	`

	_, err := l.pool.Exec(ctx, query,
		eventID,
		orderedUsers,
		version,
		string(domain.RecordStatusWaiting),
		time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync waitlist for %s: %w", eventID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ActiveRecordsFor returns the user's live records, upcoming first
func (l *PostgresLedger) ActiveRecordsFor(ctx context.Context, userID string) ([]*domain.BookingRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.postgres.ledger.active_records_for")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	query := `
		SELECT event_id, user_id, status, event_name, event_start,
		       waitlist_position, event_version, updated_at
		FROM booking_records
		WHERE user_id = $1
		  AND status = ANY($2)
		ORDER BY (event_start < now()),
		         CASE WHEN event_start >= now() THEN event_start END ASC,
		         CASE WHEN event_start < now() THEN event_start END DESC
	`

	active := []string{
		string(domain.RecordStatusBooked),
		string(domain.RecordStatusWaiting),
		string(domain.RecordStatusPromoted),
	}

	rows, err := l.pool.Query(ctx, query, userID, active)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query active records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("record_count", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// RecordsForEvent returns all records for an event
func (l *PostgresLedger) RecordsForEvent(ctx context.Context, eventID string) ([]*domain.BookingRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.postgres.ledger.records_for_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	query := `
		SELECT event_id, user_id, status, event_name, event_start,
		       waitlist_position, event_version, updated_at
		FROM booking_records
		WHERE event_id = $1
		ORDER BY user_id
	`

	rows, err := l.pool.Query(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query event records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return records, nil
}

// PurgeEvent removes all records for the event
func (l *PostgresLedger) PurgeEvent(ctx context.Context, eventID string) error {
	ctx, span := telemetry.StartSpan(ctx, "store.postgres.ledger.purge_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	_, err := l.pool.Exec(ctx, `DELETE FROM booking_records WHERE event_id = $1`, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to purge records for %s: %w", eventID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]*domain.BookingRecord, error) {
	var records []*domain.BookingRecord
	for rows.Next() {
		record := &domain.BookingRecord{}
		var status string

		err := rows.Scan(
			&record.EventID,
			&record.UserID,
			&status,
			&record.EventName,
			&record.EventStart,
			&record.WaitlistPosition,
			&record.EventVersion,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record.Status = domain.RecordStatus(status)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}
