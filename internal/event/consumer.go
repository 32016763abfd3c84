package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/service"
	pkgkafka "github.com/utafrali/stocksync/pkg/kafka"
)

// Aggregator defines what the consumer needs from the central side.
type Aggregator interface {
	Apply(ctx context.Context, e *domain.InventoryEvent) (service.Outcome, error)
}

// Consumer feeds inventory events from Kafka into the aggregator.
type Consumer struct {
	aggregator Aggregator
	logger     *slog.Logger
}

// NewConsumer creates a new inventory event consumer.
func NewConsumer(aggregator Aggregator, logger *slog.Logger) *Consumer {
	return &Consumer{
		aggregator: aggregator,
		logger:     logger,
	}
}

// HandleInventoryEvent decodes one envelope and applies it. An error makes
// the Kafka consumer redeliver the message; outcomes the journal already
// recorded, including failures scheduled for the sweep, are acknowledged.
func (c *Consumer) HandleInventoryEvent(ctx context.Context, evt *pkgkafka.Event) error {
	var data InventoryEventData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal inventory event data: %w", err)
	}
	if data.EventID == "" {
		data.EventID = evt.EventID
	}

	e := data.InventoryEvent()
	outcome, err := c.aggregator.Apply(ctx, e)
	if err != nil {
		return fmt.Errorf("apply inventory event %s: %w", e.EventID, err)
	}

	c.logger.DebugContext(ctx, "inventory event consumed",
		slog.String("event_id", e.EventID),
		slog.String("sku", e.ProductSKU),
		slog.String("store_id", e.StoreID),
		slog.Int64("sequence", e.Sequence),
		slog.String("outcome", string(outcome)),
	)
	return nil
}
