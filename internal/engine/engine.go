package engine

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/jirayu-w/eventseat/internal/domain"
	"github.com/jirayu-w/eventseat/internal/metrics"
	"github.com/jirayu-w/eventseat/internal/store"
	"github.com/jirayu-w/eventseat/pkg/logger"
	"github.com/jirayu-w/eventseat/pkg/retry"
	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

// Config holds engine tunables
type Config struct {
	// MaxCASRetries bounds the optimistic-concurrency retry loop
	MaxCASRetries int
	// MaxCapacity is the largest capacity accepted on create or resize
	MaxCapacity int
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxCASRetries: 5,
		MaxCapacity:   100000,
	}
}

// Engine executes the reservation state machine. Every mutating operation
// is a read-decide-compare-and-swap loop: decisions are always made against
// a fresh snapshot, and a version conflict re-runs the decision from
// scratch. Operations on different events never contend.
type Engine struct {
	store     store.EventStore
	ledger    store.Ledger
	publisher EventPublisher
	promoter  *PromotionCoordinator
	retrier   *retry.Retrier
	config    *Config
}

// New creates a reservation engine
func New(eventStore store.EventStore, ledger store.Ledger, publisher EventPublisher, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}

	return &Engine{
		store:     eventStore,
		ledger:    ledger,
		publisher: publisher,
		promoter:  NewPromotionCoordinator(),
		retrier:   retry.New(retry.FastConfig(cfg.MaxCASRetries)),
		config:    cfg,
	}
}

// CreateEvent validates and persists a new event
func (e *Engine) CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.create_event")
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("event_id", event.ID))

	if event.Capacity <= 0 {
		span.SetStatus(codes.Error, "invalid capacity")
		return nil, domain.ErrInvalidCapacity
	}
	if event.Capacity > e.config.MaxCapacity {
		span.SetStatus(codes.Error, "capacity limit")
		return nil, domain.ErrCapacityLimitReached
	}

	event.BookedUsers = nil
	event.Waitlist = nil

	if err := event.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := e.store.Create(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.publish(ctx, domain.ReservationEventCreated, event, "")
	metrics.RecordEventCreated(ctx)

	logger.Get().Info("event created",
		zap.String("event_id", event.ID),
		zap.Int("capacity", event.Capacity),
	)

	span.SetStatus(codes.Ok, "")
	return event.Clone(), nil
}

// GetEvent returns a read-only snapshot, never mutates
func (e *Engine) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.get_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := e.store.Get(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// ListEvents returns all events, upcoming first by start time
func (e *Engine) ListEvents(ctx context.Context) ([]*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.list_events")
	defer span.End()

	events, err := e.store.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := time.Now()
	sort.SliceStable(events, func(i, j int) bool {
		iPast := events[i].IsPast(now)
		jPast := events[j].IsPast(now)
		if iPast != jPast {
			return !iPast
		}
		if iPast {
			return events[i].StartTime.After(events[j].StartTime)
		}
		return events[i].StartTime.Before(events[j].StartTime)
	})

	span.SetAttributes(attribute.Int("event_count", len(events)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

// DeleteEvent removes the event and purges its derived records
func (e *Engine) DeleteEvent(ctx context.Context, eventID string) error {
	ctx, span := telemetry.StartSpan(ctx, "engine.delete_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := e.store.Get(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := e.store.Delete(ctx, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := e.ledger.PurgeEvent(ctx, eventID); err != nil {
		logger.Get().Error("failed to purge ledger records",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	e.publish(ctx, domain.ReservationEventDeleted, event, "")
	metrics.RecordEventDeleted(ctx)

	logger.Get().Info("event deleted", zap.String("event_id", eventID))
	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdateCapacity resizes the event. Reductions below the current booked
// count are rejected; increases free seats but never promote from the
// waitlist — only discrete cancellations promote.
func (e *Engine) UpdateCapacity(ctx context.Context, eventID string, capacity int) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.update_capacity")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("capacity", capacity),
	)

	if capacity <= 0 {
		span.SetStatus(codes.Error, "invalid capacity")
		return nil, domain.ErrInvalidCapacity
	}
	if capacity > e.config.MaxCapacity {
		span.SetStatus(codes.Error, "capacity limit")
		return nil, domain.ErrCapacityLimitReached
	}

	var updated *domain.Event
	err := e.casLoop(ctx, func(ctx context.Context) error {
		event, err := e.store.Get(ctx, eventID)
		if err != nil {
			return retry.Permanent(err)
		}

		if capacity < len(event.BookedUsers) {
			return retry.Permanent(domain.ErrCapacityBelowBooked)
		}

		event.Capacity = capacity
		newVersion, err := e.store.CompareAndSwap(ctx, event)
		if err != nil {
			return err
		}

		event.Version = newVersion
		updated = event
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.publish(ctx, domain.ReservationEventCapacityChanged, updated, "")

	logger.Get().Info("event capacity updated",
		zap.String("event_id", eventID),
		zap.Int("capacity", capacity),
		zap.Int64("version", updated.Version),
	)

	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// Book reserves a seat for the user, or joins the waitlist when the event
// is full. Repeating the call is a no-op reported through the outcome.
func (e *Engine) Book(ctx context.Context, userID, eventID string) (domain.BookOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	var outcome domain.BookOutcome
	if userID == "" {
		span.SetStatus(codes.Error, "invalid user")
		return outcome, domain.ErrInvalidUserID
	}

	err := e.casLoop(ctx, func(ctx context.Context) error {
		event, err := e.store.Get(ctx, eventID)
		if err != nil {
			return retry.Permanent(err)
		}

		// Idempotent re-submissions never write
		if event.HasBooked(userID) {
			outcome = domain.BookOutcome{Status: domain.BookStatusAlreadyBooked}
			return nil
		}
		if event.IsWaitlisted(userID) {
			outcome = domain.BookOutcome{
				Status:           domain.BookStatusAlreadyWaitlisted,
				WaitlistPosition: event.WaitlistPosition(userID),
			}
			return nil
		}

		var record *domain.BookingRecord
		if !event.IsFull() {
			event.BookedUsers = append(event.BookedUsers, userID)
			outcome = domain.BookOutcome{Status: domain.BookStatusBooked}
			record = newRecord(event, userID, domain.RecordStatusBooked, 0)
		} else {
			event.Waitlist = append(event.Waitlist, userID)
			position := len(event.Waitlist)
			outcome = domain.BookOutcome{
				Status:           domain.BookStatusWaitlisted,
				WaitlistPosition: position,
			}
			record = newRecord(event, userID, domain.RecordStatusWaiting, position)
		}

		newVersion, err := e.store.CompareAndSwap(ctx, event)
		if err != nil {
			return err
		}
		event.Version = newVersion
		record.EventVersion = newVersion

		e.appendRecords(ctx, record)

		if outcome.Status == domain.BookStatusBooked {
			e.publish(ctx, domain.ReservationEventBooked, event, userID)
			metrics.RecordBooking(ctx, event.ID)
		} else {
			e.publish(ctx, domain.ReservationEventWaitlisted, event, userID)
			metrics.RecordWaitlistJoin(ctx, event.ID)
		}

		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.BookOutcome{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// Cancel frees the user's booked seat. If the waitlist is non-empty the
// longest-waiting user is promoted in the same commit, so a retried cancel
// can never promote twice.
func (e *Engine) Cancel(ctx context.Context, userID, eventID string) (domain.CancelOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	var outcome domain.CancelOutcome
	err := e.casLoop(ctx, func(ctx context.Context) error {
		event, err := e.store.Get(ctx, eventID)
		if err != nil {
			return retry.Permanent(err)
		}

		idx := slices.Index(event.BookedUsers, userID)
		if idx < 0 {
			outcome = domain.CancelOutcome{Status: domain.CancelStatusNothingToCancel}
			return nil
		}

		event.BookedUsers = slices.Delete(event.BookedUsers, idx, idx+1)

		promoted := e.promoter.PromoteNext(event)
		if promoted == "" {
			outcome = domain.CancelOutcome{Status: domain.CancelStatusCancelled}
		} else {
			outcome = domain.CancelOutcome{
				Status:         domain.CancelStatusCancelledAndPromoted,
				PromotedUserID: promoted,
			}
		}

		newVersion, err := e.store.CompareAndSwap(ctx, event)
		if err != nil {
			return err
		}
		event.Version = newVersion

		records := []*domain.BookingRecord{
			newRecord(event, userID, domain.RecordStatusCancelled, 0),
		}
		if promoted != "" {
			records = append(records, newRecord(event, promoted, domain.RecordStatusPromoted, 0))
		}
		for _, r := range records {
			r.EventVersion = newVersion
		}
		e.appendRecords(ctx, records...)
		e.syncWaitlist(ctx, event)

		e.publish(ctx, domain.ReservationEventCancelled, event, userID)
		if promoted != "" {
			e.publish(ctx, domain.ReservationEventPromoted, event, promoted)
		}
		metrics.RecordCancellation(ctx, event.ID, promoted != "")

		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.CancelOutcome{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// LeaveWaitlist removes the user from the waitlist, shifting everyone
// behind them up by one
func (e *Engine) LeaveWaitlist(ctx context.Context, userID, eventID string) (domain.LeaveOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.leave_waitlist")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
	)

	var outcome domain.LeaveOutcome
	err := e.casLoop(ctx, func(ctx context.Context) error {
		event, err := e.store.Get(ctx, eventID)
		if err != nil {
			return retry.Permanent(err)
		}

		idx := slices.Index(event.Waitlist, userID)
		if idx < 0 {
			outcome = domain.LeaveOutcome{Status: domain.LeaveStatusNotWaiting}
			return nil
		}

		event.Waitlist = slices.Delete(event.Waitlist, idx, idx+1)
		outcome = domain.LeaveOutcome{Status: domain.LeaveStatusLeft}

		newVersion, err := e.store.CompareAndSwap(ctx, event)
		if err != nil {
			return err
		}
		event.Version = newVersion

		record := newRecord(event, userID, domain.RecordStatusRemoved, 0)
		record.EventVersion = newVersion
		e.appendRecords(ctx, record)
		e.syncWaitlist(ctx, event)

		e.publish(ctx, domain.ReservationEventWaitlistLeft, event, userID)
		metrics.RecordWaitlistLeave(ctx, event.ID)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.LeaveOutcome{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// ActiveRecordsFor returns the user's live records across all events,
// upcoming events first
func (e *Engine) ActiveRecordsFor(ctx context.Context, userID string) ([]*domain.BookingRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.active_records_for")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user")
		return nil, domain.ErrInvalidUserID
	}

	records, err := e.ledger.ActiveRecordsFor(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("record_count", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// casLoop runs op under the bounded retry policy, translating retry
// exhaustion into ErrConcurrentModification
func (e *Engine) casLoop(ctx context.Context, op retry.Operation) error {
	result := e.retrier.DoWithCallback(ctx, op, func(attempt int, err error, next time.Duration) {
		metrics.RecordVersionConflict(ctx, "cas")
		logger.Get().Debug("retrying after version conflict",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})

	if result.Err == nil {
		return nil
	}
	if errors.Is(result.Err, retry.ErrMaxRetriesExceeded) &&
		errors.Is(result.LastError, domain.ErrVersionConflict) {
		metrics.RecordRetriesExhausted(ctx, "cas")
		return domain.ErrConcurrentModification
	}
	if errors.Is(result.Err, retry.ErrMaxRetriesExceeded) {
		return result.LastError
	}
	return result.Err
}

// appendRecords writes derived ledger records after a successful commit.
// The committed event state is authoritative; a ledger failure is logged
// and the stale-version guard repairs the row on the next write.
func (e *Engine) appendRecords(ctx context.Context, records ...*domain.BookingRecord) {
	if err := e.ledger.Append(ctx, records); err != nil {
		logger.Get().Error("failed to append ledger records", zap.Error(err))
	}
}

// syncWaitlist rewrites derived waitlist positions to match the committed
// order, keeping positions contiguous from 1
func (e *Engine) syncWaitlist(ctx context.Context, event *domain.Event) {
	if err := e.ledger.SyncWaitlist(ctx, event.ID, event.Waitlist, event.Version); err != nil {
		logger.Get().Error("failed to sync waitlist positions",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(ctx context.Context, eventType domain.ReservationEventType, event *domain.Event, userID string) {
	if err := e.publisher.Publish(ctx, eventType, event, userID); err != nil {
		logger.Get().Error("failed to publish reservation event",
			zap.String("type", string(eventType)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

func newRecord(event *domain.Event, userID string, status domain.RecordStatus, position int) *domain.BookingRecord {
	return &domain.BookingRecord{
		EventID:          event.ID,
		UserID:           userID,
		Status:           status,
		EventName:        event.Name,
		EventStart:       event.StartTime,
		WaitlistPosition: position,
		EventVersion:     event.Version,
		UpdatedAt:        time.Now().UTC(),
	}
}
