package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jirayu-w/eventseat/internal/domain"
	"github.com/jirayu-w/eventseat/pkg/database"
	"github.com/jirayu-w/eventseat/pkg/kafka"
	"github.com/jirayu-w/eventseat/pkg/logger"
	"github.com/jirayu-w/eventseat/pkg/retry"
)

// AuditWorkerConfig holds configuration for the audit worker
type AuditWorkerConfig struct {
	FlushInterval time.Duration
	MaxBatchSize  int
}

// EventStatsDelta accumulates counters for one event between flushes
type EventStatsDelta struct {
	EventID       string
	Bookings      int
	WaitlistJoins int
	Cancellations int
	Promotions    int
	WaitlistLeft  int
	// Snapshot from the highest version seen, authoritative on upsert
	LastVersion int64
	Capacity    int
	Booked      int
	Waiting     int
}

// auditRow is a single trail entry awaiting insert
type auditRow struct {
	PayloadID string
	EventType string
	EventID   string
	UserID    string
	Version   int64
	Timestamp time.Time
}

// AuditWorker consumes reservation events and maintains the audit trail and
// per-event occupancy statistics in PostgreSQL
type AuditWorker struct {
	config   *AuditWorkerConfig
	consumer *kafka.Consumer
	db       *database.PostgresDB
	dlq      retry.DLQPublisher
	log      *logger.Logger

	mu     sync.Mutex
	deltas map[string]*EventStatsDelta
	trail  []auditRow
}

// NewAuditWorker creates a new audit worker. Records that cannot be decoded
// are forwarded to dlq instead of blocking the partition.
func NewAuditWorker(cfg *AuditWorkerConfig, consumer *kafka.Consumer, db *database.PostgresDB, dlq retry.DLQPublisher, log *logger.Logger) *AuditWorker {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	if dlq == nil {
		dlq = retry.NewNoOpDLQPublisher()
	}

	return &AuditWorker{
		config:   cfg,
		consumer: consumer,
		db:       db,
		dlq:      dlq,
		log:      log,
		deltas:   make(map[string]*EventStatsDelta),
	}
}

// Start begins consuming events and flushing batches until ctx is cancelled
func (w *AuditWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	flushCh := make(chan struct{}, 1)

	go w.consumeLoop(ctx, flushCh)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Audit worker context cancelled, flushing remaining batch...")
			w.flushBatch(context.Background())
			return
		case <-ticker.C:
			w.flushBatch(ctx)
		case <-flushCh:
			w.flushBatch(ctx)
		}
	}
}

func (w *AuditWorker) consumeLoop(ctx context.Context, flushCh chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			records, err := w.consumer.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Error(fmt.Sprintf("Failed to poll Kafka: %v", err))
				time.Sleep(time.Second)
				continue
			}

			if len(records) == 0 {
				continue
			}

			for _, record := range records {
				if err := w.processRecord(record); err != nil {
					w.log.Error(fmt.Sprintf("Failed to process record: %v", err))
					w.sendToDLQ(ctx, record, err)
				}
			}

			if err := w.consumer.CommitRecords(ctx, records...); err != nil {
				w.log.Error(fmt.Sprintf("Failed to commit offsets: %v", err))
			}

			w.mu.Lock()
			batchSize := len(w.trail)
			w.mu.Unlock()

			if batchSize >= w.config.MaxBatchSize {
				select {
				case flushCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (w *AuditWorker) processRecord(record *kafka.Record) error {
	var event domain.ReservationEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal reservation event: %w", err)
	}
	if event.EventID == "" {
		return fmt.Errorf("reservation event has no event id")
	}

	w.aggregate(&event)
	return nil
}

func (w *AuditWorker) aggregate(event *domain.ReservationEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delta, exists := w.deltas[event.EventID]
	if !exists {
		delta = &EventStatsDelta{EventID: event.EventID}
		w.deltas[event.EventID] = delta
	}

	switch event.Type {
	case domain.ReservationEventBooked:
		delta.Bookings++
	case domain.ReservationEventWaitlisted:
		delta.WaitlistJoins++
	case domain.ReservationEventCancelled:
		delta.Cancellations++
	case domain.ReservationEventPromoted:
		delta.Promotions++
	case domain.ReservationEventWaitlistLeft:
		delta.WaitlistLeft++
	}

	// Snapshots commit in version order, keep the newest
	if event.Version >= delta.LastVersion {
		delta.LastVersion = event.Version
		delta.Capacity = event.Capacity
		delta.Booked = event.Booked
		delta.Waiting = event.Waiting
	}

	w.trail = append(w.trail, auditRow{
		PayloadID: event.ID,
		EventType: string(event.Type),
		EventID:   event.EventID,
		UserID:    event.UserID,
		Version:   event.Version,
		Timestamp: event.Timestamp,
	})
}

// flushBatch writes pending stats and audit rows to PostgreSQL in one
// transaction, restoring them for retry on failure
func (w *AuditWorker) flushBatch(ctx context.Context) {
	w.mu.Lock()
	if len(w.deltas) == 0 && len(w.trail) == 0 {
		w.mu.Unlock()
		return
	}
	deltas := w.deltas
	trail := w.trail
	w.deltas = make(map[string]*EventStatsDelta)
	w.trail = nil
	w.mu.Unlock()

	w.log.Info(fmt.Sprintf("Flushing batch: %d event stats, %d audit rows", len(deltas), len(trail)))

	tx, err := w.db.BeginTx(ctx)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to begin transaction: %v", err))
		w.restore(deltas, trail)
		return
	}

	for eventID, delta := range deltas {
		if err := w.upsertStats(ctx, tx, delta); err != nil {
			w.log.Error(fmt.Sprintf("Failed to upsert stats for %s: %v", eventID, err))
			_ = tx.Rollback(ctx)
			w.restore(deltas, trail)
			return
		}
	}

	if err := w.insertTrail(ctx, tx, trail); err != nil {
		w.log.Error(fmt.Sprintf("Failed to insert audit rows: %v", err))
		_ = tx.Rollback(ctx)
		w.restore(deltas, trail)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		w.log.Error(fmt.Sprintf("Failed to commit transaction: %v", err))
		w.restore(deltas, trail)
		return
	}

	w.log.Info(fmt.Sprintf("Flushed %d event stats and %d audit rows", len(deltas), len(trail)))
}

func (w *AuditWorker) upsertStats(ctx context.Context, tx pgx.Tx, delta *EventStatsDelta) error {
	// Counters accumulate, the occupancy snapshot only moves forward
	query := `
		INSERT INTO event_stats (
			event_id, bookings_total, waitlist_joins_total, cancellations_total,
			promotions_total, waitlist_leaves_total, capacity, booked, waiting,
			event_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (event_id) DO UPDATE SET
			bookings_total = event_stats.bookings_total + EXCLUDED.bookings_total,
			waitlist_joins_total = event_stats.waitlist_joins_total + EXCLUDED.waitlist_joins_total,
			cancellations_total = event_stats.cancellations_total + EXCLUDED.cancellations_total,
			promotions_total = event_stats.promotions_total + EXCLUDED.promotions_total,
			waitlist_leaves_total = event_stats.waitlist_leaves_total + EXCLUDED.waitlist_leaves_total,
			capacity = CASE WHEN event_stats.event_version <= EXCLUDED.event_version THEN EXCLUDED.capacity ELSE event_stats.capacity END,
			booked = CASE WHEN event_stats.event_version <= EXCLUDED.event_version THEN EXCLUDED.booked ELSE event_stats.booked END,
			waiting = CASE WHEN event_stats.event_version <= EXCLUDED.event_version THEN EXCLUDED.waiting ELSE event_stats.waiting END,
			event_version = GREATEST(event_stats.event_version, EXCLUDED.event_version),
			updated_at = NOW()
	`

	_, err := tx.Exec(ctx, query,
		delta.EventID,
		delta.Bookings,
		delta.WaitlistJoins,
		delta.Cancellations,
		delta.Promotions,
		delta.WaitlistLeft,
		delta.Capacity,
		delta.Booked,
		delta.Waiting,
		delta.LastVersion,
	)
	return err
}

func (w *AuditWorker) insertTrail(ctx context.Context, tx pgx.Tx, trail []auditRow) error {
	if len(trail) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO reservation_audit (payload_id, event_type, event_id, user_id, event_version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payload_id) DO NOTHING
	`
	for _, row := range trail {
		batch.Queue(query, row.PayloadID, row.EventType, row.EventID, row.UserID, row.Version, row.Timestamp)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range trail {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (w *AuditWorker) restore(deltas map[string]*EventStatsDelta, trail []auditRow) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for eventID, delta := range deltas {
		existing, ok := w.deltas[eventID]
		if !ok {
			w.deltas[eventID] = delta
			continue
		}
		existing.Bookings += delta.Bookings
		existing.WaitlistJoins += delta.WaitlistJoins
		existing.Cancellations += delta.Cancellations
		existing.Promotions += delta.Promotions
		existing.WaitlistLeft += delta.WaitlistLeft
		if delta.LastVersion > existing.LastVersion {
			existing.LastVersion = delta.LastVersion
			existing.Capacity = delta.Capacity
			existing.Booked = delta.Booked
			existing.Waiting = delta.Waiting
		}
	}
	w.trail = append(trail, w.trail...)
}

// sendToDLQ forwards an unprocessable record to the dead letter topic
func (w *AuditWorker) sendToDLQ(ctx context.Context, record *kafka.Record, cause error) {
	msg := &retry.DLQMessage{
		ID:             fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset),
		OriginalTopic:  record.Topic,
		OriginalKey:    string(record.Key),
		Payload:        record.Value,
		Error:          cause.Error(),
		Attempts:       1,
		FirstAttemptAt: record.Timestamp,
		LastAttemptAt:  time.Now().UTC(),
	}
	if err := w.dlq.PublishToDLQ(ctx, msg); err != nil {
		w.log.Error(fmt.Sprintf("Failed to publish record %s to DLQ: %v", msg.ID, err))
	}
}

// PendingCount returns the number of buffered audit rows
func (w *AuditWorker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.trail)
}
