package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope marks a message that decoded as JSON but lacks the
// fields a handler needs. Such messages are dead-lettered, never retried.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Event is the envelope carried by every stocksync Kafka message. AggregateID
// is the partition key; Version is the per-aggregate sequence the producer
// stamped, so consumers can order envelopes of one aggregate.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent builds an envelope around data. The ID is random and the
// timestamp is now until the caller pins them to a journaled record.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          payload,
	}, nil
}

// WithEventID replaces the generated ID, e.g. with the ID of a journaled record.
func (e *Event) WithEventID(id string) *Event {
	e.EventID = id
	return e
}

// WithVersion sets the aggregate sequence the event was produced at.
func (e *Event) WithVersion(v int64) *Event {
	e.Version = v
	return e
}

// WithTimestamp pins the envelope time to when the change happened rather
// than when it was published. A zero t is ignored.
func (e *Event) WithTimestamp(t time.Time) *Event {
	if !t.IsZero() {
		e.Timestamp = t.UTC()
	}
	return e
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// Key is the message key; every envelope of one aggregate lands on one partition.
func (e *Event) Key() []byte {
	return []byte(e.AggregateID)
}

// Validate reports ErrInvalidEnvelope when a required field is missing.
func (e *Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: missing event_id", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: event %s has no event_type", ErrInvalidEnvelope, e.EventID)
	case e.AggregateID == "":
		return fmt.Errorf("%w: event %s has no aggregate_id", ErrInvalidEnvelope, e.EventID)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: event %s has no data", ErrInvalidEnvelope, e.EventID)
	}
	return nil
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes and validates an envelope.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalData decodes the payload into target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}
