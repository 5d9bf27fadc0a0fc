package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeJSONProducer struct {
	produced []struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}
	fail bool
}

func (f *fakeJSONProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.produced = append(f.produced, struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}{topic, key, data, headers})
	return nil
}

func TestKafkaDLQPublisher_GetDLQTopic(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		topic  string
		want   string
	}{
		{"default suffix", "", "reservation-events", "reservation-events.dlq"},
		{"custom suffix", "-dead-letter", "reservation-events", "reservation-events-dead-letter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewKafkaDLQPublisher(&fakeJSONProducer{}, &DLQConfig{TopicSuffix: tt.suffix})
			if got := p.GetDLQTopic(tt.topic); got != tt.want {
				t.Errorf("GetDLQTopic(%s) = %s, want %s", tt.topic, got, tt.want)
			}
		})
	}
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &fakeJSONProducer{}
	p := NewKafkaDLQPublisher(producer, &DLQConfig{Source: "audit-worker"})

	msg := &DLQMessage{
		ID:             "reservation-events-0-42",
		OriginalTopic:  "reservation-events",
		OriginalKey:    "evt-1",
		Payload:        json.RawMessage(`{"event_id": "evt-1"}`),
		Headers:        map[string]string{"event_type": "reservation.booked"},
		Error:          "unmarshal reservation event: unexpected end of JSON input",
		Attempts:       1,
		FirstAttemptAt: time.Now().Add(-time.Second),
		LastAttemptAt:  time.Now(),
	}

	if err := p.PublishToDLQ(context.Background(), msg); err != nil {
		t.Fatalf("PublishToDLQ failed: %v", err)
	}

	if len(producer.produced) != 1 {
		t.Fatalf("produced %d messages, want 1", len(producer.produced))
	}

	got := producer.produced[0]
	if got.Topic != "reservation-events.dlq" {
		t.Errorf("topic = %s, want reservation-events.dlq", got.Topic)
	}
	if got.Key != "evt-1" {
		t.Errorf("key = %s, want evt-1", got.Key)
	}
	if got.Headers["original_topic"] != "reservation-events" {
		t.Errorf("original_topic header = %s, want reservation-events", got.Headers["original_topic"])
	}
	if got.Headers["source"] != "audit-worker" {
		t.Errorf("source header = %s, want audit-worker", got.Headers["source"])
	}
	if got.Headers["attempts"] != "1" {
		t.Errorf("attempts header = %s, want 1", got.Headers["attempts"])
	}
	if got.Headers["original_event_type"] != "reservation.booked" {
		t.Errorf("original_event_type header = %s, want reservation.booked", got.Headers["original_event_type"])
	}

	published, ok := got.Data.(*DLQMessage)
	if !ok {
		t.Fatal("published data is not a DLQMessage")
	}
	if published.MovedToDLQAt.IsZero() {
		t.Error("MovedToDLQAt was not stamped")
	}
	if published.Source != "audit-worker" {
		t.Errorf("Source = %s, want audit-worker", published.Source)
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_NilMessage(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeJSONProducer{}, nil)
	if err := p.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_ProducerFails(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeJSONProducer{fail: true}, nil)

	err := p.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "reservation-events-0-7",
		OriginalTopic: "reservation-events",
		Error:         "boom",
	})
	if err == nil {
		t.Error("expected error when producer fails")
	}
}

func TestNewKafkaDLQPublisher_NilConfigUsesDefaults(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeJSONProducer{}, nil)

	if p.config.TopicSuffix != ".dlq" {
		t.Errorf("TopicSuffix = %s, want .dlq", p.config.TopicSuffix)
	}
	if p.config.Source != "unknown" {
		t.Errorf("Source = %s, want unknown", p.config.Source)
	}
}

func TestNoOpDLQPublisher(t *testing.T) {
	p := NewNoOpDLQPublisher()

	if err := p.PublishToDLQ(context.Background(), &DLQMessage{ID: "x"}); err != nil {
		t.Errorf("PublishToDLQ returned %v, want nil", err)
	}
	if got := p.GetDLQTopic("reservation-events"); got != "reservation-events.dlq" {
		t.Errorf("GetDLQTopic = %s, want reservation-events.dlq", got)
	}
}
