package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
	pkgkafka "github.com/utafrali/stocksync/pkg/kafka"
	"github.com/utafrali/stocksync/pkg/logger"
)

// TopicInventoryEvents carries every store stock mutation.
var TopicInventoryEvents = pkgkafka.Topic("inventory", "events")

// AggregateTypeStoreProduct is the aggregate type of inventory envelopes.
const AggregateTypeStoreProduct = "store_product"

// SourceStoreService identifies envelopes produced by the store service.
const SourceStoreService = "stocksync-store"

// InventoryEventData is the payload of an inventory event envelope.
type InventoryEventData struct {
	EventID          string    `json:"event_id"`
	SKU              string    `json:"sku"`
	StoreID          string    `json:"store_id"`
	EventType        string    `json:"event_type"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	Sequence         int64     `json:"sequence"`
	ProductName      string    `json:"product_name,omitempty"`
	Details          string    `json:"details,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func newInventoryEventData(e *domain.InventoryEvent) InventoryEventData {
	return InventoryEventData{
		EventID:          e.EventID,
		SKU:              e.ProductSKU,
		StoreID:          e.StoreID,
		EventType:        string(e.EventType),
		PreviousQuantity: e.PreviousQuantity,
		NewQuantity:      e.NewQuantity,
		ReservedQuantity: e.ReservedQuantity,
		Sequence:         e.Sequence,
		ProductName:      e.ProductName,
		Details:          e.Details,
		Timestamp:        e.Timestamp,
	}
}

// InventoryEvent converts the payload back into a journal entry.
func (d InventoryEventData) InventoryEvent() *domain.InventoryEvent {
	return &domain.InventoryEvent{
		EventID:          d.EventID,
		ProductSKU:       d.SKU,
		StoreID:          d.StoreID,
		ProductName:      d.ProductName,
		EventType:        domain.EventType(d.EventType),
		PreviousQuantity: d.PreviousQuantity,
		NewQuantity:      d.NewQuantity,
		ReservedQuantity: d.ReservedQuantity,
		Sequence:         d.Sequence,
		Details:          d.Details,
		Timestamp:        d.Timestamp,
	}
}

// envelopeType returns the envelope event type, e.g. "inventory.reserve".
func envelopeType(t domain.EventType) string {
	return "inventory." + strings.ToLower(string(t))
}

// Publisher is the part of pkg/kafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes journaled inventory events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new inventory event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishInventoryEvent sends e keyed by "sku|store". The envelope id is the
// journal id so the central side can deduplicate redeliveries.
func (p *Producer) PublishInventoryEvent(ctx context.Context, e *domain.InventoryEvent) error {
	evt, err := pkgkafka.NewEvent(
		envelopeType(e.EventType),
		e.Key().String(),
		AggregateTypeStoreProduct,
		SourceStoreService,
		newInventoryEventData(e),
	)
	if err != nil {
		return fmt.Errorf("create inventory event envelope: %w", err)
	}
	evt.WithEventID(e.EventID).WithVersion(e.Sequence).WithTimestamp(e.Timestamp)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, TopicInventoryEvents, evt); err != nil {
		return fmt.Errorf("publish inventory event %s: %w", e.EventID, err)
	}
	return nil
}
