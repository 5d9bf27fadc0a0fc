package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jirayu-w/eventseat/internal/domain"
	pkgredis "github.com/jirayu-w/eventseat/pkg/redis"
	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

//go:embed scripts/create_event.lua
var createEventScript string

//go:embed scripts/cas_update.lua
var casUpdateScript string

// Script names for caching
const (
	scriptCreateEvent = "create_event"
	scriptCASUpdate   = "cas_update"
)

const (
	eventKeyPrefix  = "event:"
	eventKeyPattern = "event:*"
	scanBatchSize   = 100
)

// CAS script status codes
const (
	casNotFound = -1
	casConflict = -2
)

// RedisEventStore implements EventStore on a Redis hash per event. The
// hash holds the serialized state under "data" and the version counter
// under "version"; a Lua script makes the version check and the write a
// single atomic step.
type RedisEventStore struct {
	client *pkgredis.Client
}

var _ EventStore = (*RedisEventStore)(nil)

// NewRedisEventStore creates a new RedisEventStore
func NewRedisEventStore(client *pkgredis.Client) *RedisEventStore {
	return &RedisEventStore{client: client}
}

// LoadScripts loads all Lua scripts into Redis
func (s *RedisEventStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptCreateEvent: createEventScript,
		scriptCASUpdate:   casUpdateScript,
	}

	for name, script := range scripts {
		if _, err := s.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}

	return nil
}

func eventKey(eventID string) string {
	return eventKeyPrefix + eventID
}

// unavailable tags a transport failure so callers can tell "retry later"
// apart from a rejected request
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// Create persists a new event at version 1
func (s *RedisEventStore) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "store.redis.event.create")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", event.ID))

	stored := event.Clone()
	stored.Version = 1
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	result := s.client.EvalWithFallback(ctx, scriptCreateEvent, createEventScript,
		[]string{eventKey(event.ID)}, string(data))
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return unavailable("failed to execute create_event script", result.Err())
	}

	created, err := result.Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to parse create_event result: %w", err)
	}

	if created == 0 {
		span.SetStatus(codes.Error, "already exists")
		return domain.ErrEventAlreadyExists
	}

	event.Version = stored.Version
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get returns a snapshot of the event
func (s *RedisEventStore) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.redis.event.get")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	fields, err := s.client.HGetAll(ctx, eventKey(eventID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(fmt.Sprintf("failed to read event %s", eventID), err)
	}

	event, err := decodeEventHash(eventID, fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// List returns snapshots of all events, discovered by SCAN
func (s *RedisEventStore) List(ctx context.Context) ([]*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.redis.event.list")
	defer span.End()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, eventKeyPattern, scanBatchSize).Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, unavailable("failed to scan events", err)
		}

		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	events := make([]*domain.Event, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, unavailable(fmt.Sprintf("failed to read %s", key), err)
		}

		eventID := key[len(eventKeyPrefix):]
		event, err := decodeEventHash(eventID, fields)
		if err != nil {
			// Key deleted between SCAN and HGETALL
			if domain.IsNotFoundError(err) {
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("event_count", len(events)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

// CompareAndSwap commits the new state if the stored version still matches
func (s *RedisEventStore) CompareAndSwap(ctx context.Context, event *domain.Event) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.redis.event.cas")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.Int64("expected_version", event.Version),
	)

	committed := event.Clone()
	committed.Version = event.Version + 1
	committed.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(committed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	result := s.client.EvalWithFallback(ctx, scriptCASUpdate, casUpdateScript,
		[]string{eventKey(event.ID)}, event.Version, string(data))
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return 0, unavailable("failed to execute cas_update script", result.Err())
	}

	newVersion, err := result.Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to parse cas_update result: %w", err)
	}

	switch newVersion {
	case casNotFound:
		span.SetStatus(codes.Error, "not found")
		return 0, domain.ErrEventNotFound
	case casConflict:
		span.SetStatus(codes.Error, "version conflict")
		return 0, domain.ErrVersionConflict
	}

	span.SetAttributes(attribute.Int64("new_version", newVersion))
	span.SetStatus(codes.Ok, "")
	return newVersion, nil
}

// Delete removes the event
func (s *RedisEventStore) Delete(ctx context.Context, eventID string) error {
	ctx, span := telemetry.StartSpan(ctx, "store.redis.event.delete")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	deleted, err := s.client.Del(ctx, eventKey(eventID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return unavailable(fmt.Sprintf("failed to delete event %s", eventID), err)
	}

	if deleted == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrEventNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func decodeEventHash(eventID string, fields map[string]string) (*domain.Event, error) {
	data, ok := fields["data"]
	if !ok {
		return nil, domain.ErrEventNotFound
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", eventID, err)
	}

	return &event, nil
}
