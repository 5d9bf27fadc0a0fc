package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

var (
	// Reservation counters
	SeatsBooked        *telemetry.Counter
	UsersWaitlisted    *telemetry.Counter
	SeatsCancelled     *telemetry.Counter
	WaitlistPromotions *telemetry.Counter
	WaitlistLeaves     *telemetry.Counter

	// Concurrency counters
	VersionConflicts *telemetry.Counter
	RetriesExhausted *telemetry.Counter

	// Histograms
	RequestDuration *telemetry.Histogram

	// Gauges
	ActiveEvents  *telemetry.UpDownCounter
	WaitlistDepth *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all reservation metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	SeatsBooked, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_bookings_total",
		Description: "Total number of seats booked",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	UsersWaitlisted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_waitlist_joins_total",
		Description: "Total number of users placed on a waitlist",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SeatsCancelled, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_cancellations_total",
		Description: "Total number of cancelled bookings",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WaitlistPromotions, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_promotions_total",
		Description: "Total number of waitlist promotions",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WaitlistLeaves, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_waitlist_leaves_total",
		Description: "Total number of users leaving a waitlist",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	VersionConflicts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_version_conflicts_total",
		Description: "Total number of compare-and-swap conflicts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RetriesExhausted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_retries_exhausted_total",
		Description: "Total number of operations that gave up after retrying",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "reservation_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	ActiveEvents, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservation_active_events",
		Description: "Current number of events accepting reservations",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WaitlistDepth, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservation_waitlist_depth",
		Description: "Current number of users waiting across all events",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordBooking records a confirmed seat
func RecordBooking(ctx context.Context, eventID string) {
	if SeatsBooked != nil {
		SeatsBooked.Inc(ctx, attribute.String("event_id", eventID))
	}
}

// RecordWaitlistJoin records a user entering the waitlist
func RecordWaitlistJoin(ctx context.Context, eventID string) {
	if UsersWaitlisted != nil {
		UsersWaitlisted.Inc(ctx, attribute.String("event_id", eventID))
	}
	if WaitlistDepth != nil {
		WaitlistDepth.Inc(ctx)
	}
}

// RecordCancellation records a freed seat, with whether it promoted a waiter
func RecordCancellation(ctx context.Context, eventID string, promoted bool) {
	if SeatsCancelled != nil {
		SeatsCancelled.Inc(ctx, attribute.String("event_id", eventID))
	}
	if promoted {
		if WaitlistPromotions != nil {
			WaitlistPromotions.Inc(ctx, attribute.String("event_id", eventID))
		}
		if WaitlistDepth != nil {
			WaitlistDepth.Dec(ctx)
		}
	}
}

// RecordWaitlistLeave records a user leaving the waitlist voluntarily
func RecordWaitlistLeave(ctx context.Context, eventID string) {
	if WaitlistLeaves != nil {
		WaitlistLeaves.Inc(ctx, attribute.String("event_id", eventID))
	}
	if WaitlistDepth != nil {
		WaitlistDepth.Dec(ctx)
	}
}

// RecordVersionConflict records a compare-and-swap retry
func RecordVersionConflict(ctx context.Context, operation string) {
	if VersionConflicts != nil {
		VersionConflicts.Inc(ctx, attribute.String("operation", operation))
	}
}

// RecordRetriesExhausted records an operation that gave up
func RecordRetriesExhausted(ctx context.Context, operation string) {
	if RetriesExhausted != nil {
		RetriesExhausted.Inc(ctx, attribute.String("operation", operation))
	}
}

// RecordEventCreated adjusts the active event gauge up
func RecordEventCreated(ctx context.Context) {
	if ActiveEvents != nil {
		ActiveEvents.Inc(ctx)
	}
}

// RecordEventDeleted adjusts the active event gauge down
func RecordEventDeleted(ctx context.Context) {
	if ActiveEvents != nil {
		ActiveEvents.Dec(ctx)
	}
}

// RecordRequestDuration records an HTTP request latency observation
func RecordRequestDuration(ctx context.Context, route, method string, status int, seconds float64) {
	if RequestDuration != nil {
		RequestDuration.Record(ctx, seconds,
			attribute.String("route", route),
			attribute.String("method", method),
			attribute.Int("status", status),
		)
	}
}
