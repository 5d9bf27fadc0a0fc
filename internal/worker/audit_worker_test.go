package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jirayu-w/eventseat/internal/domain"
	"github.com/jirayu-w/eventseat/pkg/kafka"
	"github.com/jirayu-w/eventseat/pkg/retry"
)

func newTestWorker() *AuditWorker {
	return &AuditWorker{
		config: &AuditWorkerConfig{
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
		},
		dlq:    retry.NewNoOpDLQPublisher(),
		deltas: make(map[string]*EventStatsDelta),
	}
}

func TestAggregate_Booked(t *testing.T) {
	w := newTestWorker()

	w.aggregate(&domain.ReservationEvent{
		ID:       "payload-1",
		Type:     domain.ReservationEventBooked,
		EventID:  "evt-1",
		UserID:   "alice",
		Capacity: 10,
		Booked:   1,
		Version:  2,
	})

	assert.Len(t, w.deltas, 1)
	delta := w.deltas["evt-1"]
	assert.Equal(t, 1, delta.Bookings)
	assert.Equal(t, int64(2), delta.LastVersion)
	assert.Equal(t, 1, delta.Booked)
	assert.Equal(t, 10, delta.Capacity)

	assert.Len(t, w.trail, 1)
	assert.Equal(t, "payload-1", w.trail[0].PayloadID)
}

func TestAggregate_CancelledAndPromoted(t *testing.T) {
	w := newTestWorker()

	w.aggregate(&domain.ReservationEvent{
		ID: "p-1", Type: domain.ReservationEventCancelled,
		EventID: "evt-1", UserID: "alice",
		Capacity: 1, Booked: 1, Waiting: 0, Version: 5,
	})
	w.aggregate(&domain.ReservationEvent{
		ID: "p-2", Type: domain.ReservationEventPromoted,
		EventID: "evt-1", UserID: "bob",
		Capacity: 1, Booked: 1, Waiting: 0, Version: 5,
	})

	delta := w.deltas["evt-1"]
	assert.Equal(t, 1, delta.Cancellations)
	assert.Equal(t, 1, delta.Promotions)
	assert.Len(t, w.trail, 2)
}

func TestAggregate_StaleSnapshotIgnored(t *testing.T) {
	w := newTestWorker()

	w.aggregate(&domain.ReservationEvent{
		ID: "p-1", Type: domain.ReservationEventBooked,
		EventID: "evt-1", Capacity: 10, Booked: 5, Waiting: 2, Version: 9,
	})
	// Out-of-order delivery of an older snapshot
	w.aggregate(&domain.ReservationEvent{
		ID: "p-2", Type: domain.ReservationEventBooked,
		EventID: "evt-1", Capacity: 10, Booked: 3, Waiting: 1, Version: 4,
	})

	delta := w.deltas["evt-1"]
	assert.Equal(t, 2, delta.Bookings)
	assert.Equal(t, int64(9), delta.LastVersion)
	assert.Equal(t, 5, delta.Booked)
	assert.Equal(t, 2, delta.Waiting)
}

func TestProcessRecord(t *testing.T) {
	w := newTestWorker()

	event := domain.ReservationEvent{
		ID:        "p-1",
		Type:      domain.ReservationEventWaitlisted,
		EventID:   "evt-1",
		UserID:    "carol",
		Capacity:  1,
		Booked:    1,
		Waiting:   1,
		Version:   3,
		Timestamp: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	assert.NoError(t, err)

	assert.NoError(t, w.processRecord(&kafka.Record{Value: value}))
	assert.Equal(t, 1, w.deltas["evt-1"].WaitlistJoins)

	assert.Error(t, w.processRecord(&kafka.Record{Value: []byte("not json")}),
		"malformed payload should be rejected")
	assert.Error(t, w.processRecord(&kafka.Record{Value: []byte(`{}`)}),
		"payload without event id should be rejected")
}

func TestRestore_MergesPendingWork(t *testing.T) {
	w := newTestWorker()

	w.aggregate(&domain.ReservationEvent{
		ID: "p-1", Type: domain.ReservationEventBooked,
		EventID: "evt-1", Capacity: 5, Booked: 1, Version: 2,
	})

	// Simulate a failed flush racing with new consumption
	deltas := w.deltas
	trail := w.trail
	w.deltas = make(map[string]*EventStatsDelta)
	w.trail = nil

	w.aggregate(&domain.ReservationEvent{
		ID: "p-2", Type: domain.ReservationEventBooked,
		EventID: "evt-1", Capacity: 5, Booked: 2, Version: 3,
	})
	w.restore(deltas, trail)

	delta := w.deltas["evt-1"]
	assert.Equal(t, 2, delta.Bookings, "counters from both batches merge")
	assert.Equal(t, int64(3), delta.LastVersion, "newest snapshot wins")
	assert.Equal(t, 2, delta.Booked)

	// Restored rows come first to preserve commit order
	assert.Len(t, w.trail, 2)
	assert.Equal(t, "p-1", w.trail[0].PayloadID)
}
