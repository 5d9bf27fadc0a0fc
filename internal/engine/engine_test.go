package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
	"github.com/jirayu-w/eventseat/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryEventStore) {
	t.Helper()
	s := store.NewMemoryEventStore()
	l := store.NewMemoryLedger()
	return New(s, l, NewNoOpEventPublisher(), nil), s
}

func createEvent(t *testing.T, e *Engine, id string, capacity int) *domain.Event {
	t.Helper()
	event, err := e.CreateEvent(context.Background(), &domain.Event{
		ID:        id,
		Name:      "Launch Party",
		Capacity:  capacity,
		StartTime: time.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	return event
}

func TestEngine_CreateEvent(t *testing.T) {
	e, _ := newTestEngine(t)

	event := createEvent(t, e, "evt-1", 10)
	if event.Version != 1 {
		t.Errorf("Version = %d, want 1", event.Version)
	}

	if _, err := e.CreateEvent(context.Background(), &domain.Event{ID: "evt-1", Name: "dup", Capacity: 1}); !errors.Is(err, domain.ErrEventAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrEventAlreadyExists", err)
	}

	if _, err := e.CreateEvent(context.Background(), &domain.Event{Name: "bad", Capacity: -1}); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Errorf("negative capacity error = %v, want ErrInvalidCapacity", err)
	}

	// A zero-capacity event could never be booked, only waitlisted forever
	if _, err := e.CreateEvent(context.Background(), &domain.Event{Name: "empty", Capacity: 0}); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Errorf("zero capacity error = %v, want ErrInvalidCapacity", err)
	}

	if _, err := e.CreateEvent(context.Background(), &domain.Event{Name: "huge", Capacity: 1 << 30}); !errors.Is(err, domain.ErrCapacityLimitReached) {
		t.Errorf("oversized capacity error = %v, want ErrCapacityLimitReached", err)
	}
}

func TestEngine_Book(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 1)
	ctx := context.Background()

	out, err := e.Book(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if out.Status != domain.BookStatusBooked {
		t.Errorf("Status = %s, want BOOKED", out.Status)
	}

	// Re-submission is a no-op
	out, err = e.Book(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if out.Status != domain.BookStatusAlreadyBooked {
		t.Errorf("Status = %s, want ALREADY_BOOKED", out.Status)
	}

	// Full event sends bob to the waitlist
	out, err = e.Book(ctx, "bob", "evt-1")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if out.Status != domain.BookStatusWaitlisted || out.WaitlistPosition != 1 {
		t.Errorf("outcome = %+v, want WAITLISTED at position 1", out)
	}

	out, err = e.Book(ctx, "bob", "evt-1")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if out.Status != domain.BookStatusAlreadyWaitlisted || out.WaitlistPosition != 1 {
		t.Errorf("outcome = %+v, want ALREADY_WAITLISTED at position 1", out)
	}

	if _, err := e.Book(ctx, "carol", "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("missing event error = %v, want ErrEventNotFound", err)
	}
	if _, err := e.Book(ctx, "", "evt-1"); !errors.Is(err, domain.ErrInvalidUserID) {
		t.Errorf("empty user error = %v, want ErrInvalidUserID", err)
	}
}

func TestEngine_CancelPromotesLongestWaiting(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 1)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")
	mustBook(t, e, "bob", "evt-1")   // waitlist position 1
	mustBook(t, e, "carol", "evt-1") // waitlist position 2

	out, err := e.Cancel(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if out.Status != domain.CancelStatusCancelledAndPromoted {
		t.Fatalf("Status = %s, want CANCELLED_AND_PROMOTED", out.Status)
	}
	if out.PromotedUserID != "bob" {
		t.Errorf("PromotedUserID = %s, want bob", out.PromotedUserID)
	}

	event, err := e.GetEvent(ctx, "evt-1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if !event.HasBooked("bob") {
		t.Error("bob should hold the freed seat")
	}
	if pos := event.WaitlistPosition("carol"); pos != 1 {
		t.Errorf("carol position = %d, want 1 after shift", pos)
	}
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 2)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")

	out, err := e.Cancel(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if out.Status != domain.CancelStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", out.Status)
	}

	// Second cancel is a no-op, never a second promotion
	out, err = e.Cancel(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if out.Status != domain.CancelStatusNothingToCancel {
		t.Errorf("Status = %s, want NOTHING_TO_CANCEL", out.Status)
	}
}

func TestEngine_CancelWaitlistedUserIsNothingToCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 1)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")
	mustBook(t, e, "bob", "evt-1")

	// Cancel only applies to booked seats; bob must leave the waitlist instead
	out, err := e.Cancel(ctx, "bob", "evt-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if out.Status != domain.CancelStatusNothingToCancel {
		t.Errorf("Status = %s, want NOTHING_TO_CANCEL", out.Status)
	}

	event, _ := e.GetEvent(ctx, "evt-1")
	if pos := event.WaitlistPosition("bob"); pos != 1 {
		t.Errorf("bob position = %d, want 1 (untouched)", pos)
	}
}

func TestEngine_LeaveWaitlist(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 1)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")
	mustBook(t, e, "bob", "evt-1")
	mustBook(t, e, "carol", "evt-1")
	mustBook(t, e, "dave", "evt-1")

	out, err := e.LeaveWaitlist(ctx, "bob", "evt-1")
	if err != nil {
		t.Fatalf("LeaveWaitlist failed: %v", err)
	}
	if out.Status != domain.LeaveStatusLeft {
		t.Errorf("Status = %s, want LEFT", out.Status)
	}

	// Everyone behind bob shifts up, positions stay contiguous from 1
	event, _ := e.GetEvent(ctx, "evt-1")
	if pos := event.WaitlistPosition("carol"); pos != 1 {
		t.Errorf("carol position = %d, want 1", pos)
	}
	if pos := event.WaitlistPosition("dave"); pos != 2 {
		t.Errorf("dave position = %d, want 2", pos)
	}

	out, err = e.LeaveWaitlist(ctx, "bob", "evt-1")
	if err != nil {
		t.Fatalf("LeaveWaitlist failed: %v", err)
	}
	if out.Status != domain.LeaveStatusNotWaiting {
		t.Errorf("Status = %s, want NOT_WAITING", out.Status)
	}

	// Booked users are not waiting
	out, _ = e.LeaveWaitlist(ctx, "alice", "evt-1")
	if out.Status != domain.LeaveStatusNotWaiting {
		t.Errorf("Status = %s, want NOT_WAITING for booked user", out.Status)
	}

	if _, err := e.LeaveWaitlist(ctx, "bob", "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("missing event error = %v, want ErrEventNotFound", err)
	}
}

func TestEngine_SingleSeatHandoff(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 1)
	ctx := context.Background()

	if out := mustBook(t, e, "alice", "evt-1"); out.Status != domain.BookStatusBooked {
		t.Fatalf("alice status = %s, want BOOKED", out.Status)
	}
	out := mustBook(t, e, "bob", "evt-1")
	if out.Status != domain.BookStatusWaitlisted || out.WaitlistPosition != 1 {
		t.Fatalf("bob outcome = %+v, want WAITLISTED at 1", out)
	}

	cancel, err := e.Cancel(ctx, "alice", "evt-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancel.Status != domain.CancelStatusCancelledAndPromoted || cancel.PromotedUserID != "bob" {
		t.Fatalf("cancel outcome = %+v, want bob promoted", cancel)
	}

	event, _ := e.GetEvent(ctx, "evt-1")
	if !event.HasBooked("bob") || event.HasBooked("alice") {
		t.Errorf("booked = %v, want exactly [bob]", event.BookedUsers)
	}
	if len(event.Waitlist) != 0 {
		t.Errorf("waitlist = %v, want empty", event.Waitlist)
	}
}

func TestEngine_ConcurrentBookingNeverOversells(t *testing.T) {
	e, s := newTestEngine(t)
	createEvent(t, e, "evt-1", 2)
	ctx := context.Background()

	const users = 3
	outcomes := make([]domain.BookOutcome, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Book(ctx, fmt.Sprintf("user-%d", i), "evt-1")
			if err != nil {
				t.Errorf("Book user-%d failed: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	booked, waitlisted := 0, 0
	for _, out := range outcomes {
		switch out.Status {
		case domain.BookStatusBooked:
			booked++
		case domain.BookStatusWaitlisted:
			waitlisted++
		}
	}
	if booked != 2 || waitlisted != 1 {
		t.Errorf("booked=%d waitlisted=%d, want 2 booked and 1 waitlisted", booked, waitlisted)
	}

	event, err := s.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(event.BookedUsers) != 2 || len(event.Waitlist) != 1 {
		t.Errorf("state booked=%v waitlist=%v, want 2 and 1", event.BookedUsers, event.Waitlist)
	}
}

func TestEngine_ConcurrentMixedLoadKeepsInvariants(t *testing.T) {
	e, s := newTestEngine(t)
	createEvent(t, e, "evt-1", 5)
	ctx := context.Background()

	const users = 30
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			if _, err := e.Book(ctx, user, "evt-1"); err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
				t.Errorf("Book %s failed: %v", user, err)
			}
			if i%3 == 0 {
				if _, err := e.Cancel(ctx, user, "evt-1"); err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
					t.Errorf("Cancel %s failed: %v", user, err)
				}
			}
		}(i)
	}
	wg.Wait()

	event, err := s.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(event.BookedUsers) > event.Capacity {
		t.Errorf("booked %d exceeds capacity %d", len(event.BookedUsers), event.Capacity)
	}
	if err := event.Validate(); err != nil {
		t.Errorf("final state invalid: %v", err)
	}
	// Nobody holds a seat and a waitlist slot at once
	for _, u := range event.BookedUsers {
		if event.IsWaitlisted(u) {
			t.Errorf("%s is both booked and waitlisted", u)
		}
	}
}

func TestEngine_ConcurrentCancelsPromoteInFIFOOrder(t *testing.T) {
	e, s := newTestEngine(t)
	createEvent(t, e, "evt-1", 3)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		mustBook(t, e, u, "evt-1")
	}
	for _, u := range []string{"w1", "w2", "w3"} {
		mustBook(t, e, u, "evt-1")
	}

	var wg sync.WaitGroup
	for _, u := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := e.Cancel(ctx, u, "evt-1"); err != nil {
				t.Errorf("Cancel %s failed: %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	event, err := s.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Three discrete cancellations promote exactly the three waiters
	for _, u := range []string{"w1", "w2", "w3"} {
		if !event.HasBooked(u) {
			t.Errorf("%s not promoted, booked=%v", u, event.BookedUsers)
		}
	}
	if len(event.Waitlist) != 0 {
		t.Errorf("waitlist = %v, want empty", event.Waitlist)
	}
}

func TestEngine_UpdateCapacity(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 2)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")
	mustBook(t, e, "bob", "evt-1")
	mustBook(t, e, "carol", "evt-1") // waitlisted

	if _, err := e.UpdateCapacity(ctx, "evt-1", 1); !errors.Is(err, domain.ErrCapacityBelowBooked) {
		t.Errorf("reduce below booked error = %v, want ErrCapacityBelowBooked", err)
	}
	if _, err := e.UpdateCapacity(ctx, "evt-1", -1); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Errorf("negative capacity error = %v, want ErrInvalidCapacity", err)
	}
	if _, err := e.UpdateCapacity(ctx, "evt-1", 0); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Errorf("zero capacity error = %v, want ErrInvalidCapacity", err)
	}
	if _, err := e.UpdateCapacity(ctx, "missing", 5); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("missing event error = %v, want ErrEventNotFound", err)
	}

	// Growth frees seats but never promotes on its own
	updated, err := e.UpdateCapacity(ctx, "evt-1", 5)
	if err != nil {
		t.Fatalf("UpdateCapacity failed: %v", err)
	}
	if updated.Capacity != 5 {
		t.Errorf("Capacity = %d, want 5", updated.Capacity)
	}
	if pos := updated.WaitlistPosition("carol"); pos != 1 {
		t.Errorf("carol position = %d, want 1 (no promotion on resize)", pos)
	}
}

func TestEngine_ActiveRecordsFor(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	soon, _ := e.CreateEvent(ctx, &domain.Event{ID: "soon", Name: "Soon", Capacity: 1, StartTime: time.Now().Add(time.Hour)})
	later, _ := e.CreateEvent(ctx, &domain.Event{ID: "later", Name: "Later", Capacity: 1, StartTime: time.Now().Add(72 * time.Hour)})
	_ = soon
	_ = later

	mustBook(t, e, "alice", "later")
	mustBook(t, e, "alice", "soon")
	mustBook(t, e, "bob", "soon") // alice holds the seat, bob waits

	records, err := e.ActiveRecordsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveRecordsFor failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].EventID != "soon" || records[1].EventID != "later" {
		t.Errorf("order = [%s %s], want [soon later]", records[0].EventID, records[1].EventID)
	}

	// Cancelled bookings disappear from the active view
	if _, err := e.Cancel(ctx, "alice", "soon"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	records, err = e.ActiveRecordsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveRecordsFor failed: %v", err)
	}
	if len(records) != 1 || records[0].EventID != "later" {
		t.Errorf("records = %+v, want only later", records)
	}

	// Bob was promoted by alice's cancel
	records, err = e.ActiveRecordsFor(ctx, "bob")
	if err != nil {
		t.Fatalf("ActiveRecordsFor failed: %v", err)
	}
	if len(records) != 1 || !records[0].Status.IsActive() {
		t.Errorf("bob records = %+v, want one active record", records)
	}

	if _, err := e.ActiveRecordsFor(ctx, ""); !errors.Is(err, domain.ErrInvalidUserID) {
		t.Errorf("empty user error = %v, want ErrInvalidUserID", err)
	}
}

func TestEngine_DeleteEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	createEvent(t, e, "evt-1", 2)
	ctx := context.Background()

	mustBook(t, e, "alice", "evt-1")

	if err := e.DeleteEvent(ctx, "evt-1"); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	if _, err := e.GetEvent(ctx, "evt-1"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("get after delete error = %v, want ErrEventNotFound", err)
	}
	records, err := e.ActiveRecordsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveRecordsFor failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %+v, want purged", records)
	}

	if err := e.DeleteEvent(ctx, "evt-1"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("double delete error = %v, want ErrEventNotFound", err)
	}
}

func TestEngine_ListEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now()
	for _, ev := range []struct {
		id    string
		start time.Time
	}{
		{"past", now.Add(-24 * time.Hour)},
		{"tomorrow", now.Add(24 * time.Hour)},
		{"next-week", now.Add(7 * 24 * time.Hour)},
	} {
		if _, err := e.CreateEvent(ctx, &domain.Event{ID: ev.id, Name: ev.id, Capacity: 10, StartTime: ev.start}); err != nil {
			t.Fatalf("CreateEvent %s failed: %v", ev.id, err)
		}
	}

	events, err := e.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	got := []string{events[0].ID, events[1].ID, events[2].ID}
	want := []string{"tomorrow", "next-week", "past"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order = %v, want %v", got, want)
		}
	}
}

func mustBook(t *testing.T, e *Engine, userID, eventID string) domain.BookOutcome {
	t.Helper()
	out, err := e.Book(context.Background(), userID, eventID)
	if err != nil {
		t.Fatalf("Book %s failed: %v", userID, err)
	}
	return out
}

// unreachableStore simulates a store whose backend is down.
type unreachableStore struct{}

func (unreachableStore) Create(ctx context.Context, event *domain.Event) error {
	return fmt.Errorf("create: %w: connection refused", domain.ErrStoreUnavailable)
}

func (unreachableStore) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	return nil, fmt.Errorf("get: %w: connection refused", domain.ErrStoreUnavailable)
}

func (unreachableStore) List(ctx context.Context) ([]*domain.Event, error) {
	return nil, fmt.Errorf("list: %w: connection refused", domain.ErrStoreUnavailable)
}

func (unreachableStore) CompareAndSwap(ctx context.Context, event *domain.Event) (int64, error) {
	return 0, fmt.Errorf("cas: %w: connection refused", domain.ErrStoreUnavailable)
}

func (unreachableStore) Delete(ctx context.Context, eventID string) error {
	return fmt.Errorf("delete: %w: connection refused", domain.ErrStoreUnavailable)
}

func TestEngine_StoreUnavailableSurfacesDistinctError(t *testing.T) {
	e := New(unreachableStore{}, store.NewMemoryLedger(), NewNoOpEventPublisher(), nil)
	ctx := context.Background()

	if _, err := e.Book(ctx, "alice", "evt-1"); !domain.IsUnavailableError(err) {
		t.Errorf("Book error = %v, want store unavailable", err)
	}
	if _, err := e.Cancel(ctx, "alice", "evt-1"); !domain.IsUnavailableError(err) {
		t.Errorf("Cancel error = %v, want store unavailable", err)
	}
	if _, err := e.GetEvent(ctx, "evt-1"); !domain.IsUnavailableError(err) {
		t.Errorf("GetEvent error = %v, want store unavailable", err)
	}
}

// conflictingStore loses every compare-and-swap, as if another writer
// always commits first.
type conflictingStore struct {
	*store.MemoryEventStore
	attempts int
}

func (s *conflictingStore) CompareAndSwap(ctx context.Context, event *domain.Event) (int64, error) {
	s.attempts++
	return 0, domain.ErrVersionConflict
}

func TestEngine_RetryExhaustionSurfacesConcurrentModification(t *testing.T) {
	const maxRetries = 2

	s := &conflictingStore{MemoryEventStore: store.NewMemoryEventStore()}
	e := New(s, store.NewMemoryLedger(), NewNoOpEventPublisher(), &Config{
		MaxCASRetries: maxRetries,
		MaxCapacity:   100000,
	})
	ctx := context.Background()

	if err := s.MemoryEventStore.Create(ctx, &domain.Event{
		ID:          "evt-1",
		Name:        "Launch Party",
		Capacity:    2,
		BookedUsers: []string{"alice"},
		StartTime:   time.Now().Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := e.Book(ctx, "bob", "evt-1"); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("Book error = %v, want ErrConcurrentModification", err)
	}
	if got := s.attempts; got != maxRetries+1 {
		t.Errorf("CAS attempts = %d, want %d", got, maxRetries+1)
	}

	s.attempts = 0
	if _, err := e.Cancel(ctx, "alice", "evt-1"); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("Cancel error = %v, want ErrConcurrentModification", err)
	}
	if got := s.attempts; got != maxRetries+1 {
		t.Errorf("CAS attempts = %d, want %d", got, maxRetries+1)
	}
}
