package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/domain"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

// Kafka topics for cart events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

const (
	AggregateTypeCart = "cart"
	SourceCartService = "cart-service"
)

const defaultPublishTimeout = 5 * time.Second

// CartUpdatedData is the payload for a cart.updated event. The shipping
// address is left out; consumers only learn whether one is set.
type CartUpdatedData struct {
	ClientID           string                `json:"client_id"`
	Op                 string                `json:"op"`
	Items              []domain.CartLineItem `json:"items"`
	ItemCount          int                   `json:"item_count"`
	ItemsSubtotal      domain.Amount         `json:"items_subtotal"`
	HasShippingAddress bool                  `json:"has_shipping_address"`
	PaymentMethod      string                `json:"payment_method,omitempty"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	ClientID string `json:"client_id"`
}

// Publisher is the part of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer turns cart changes into Kafka events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
		timeout:   defaultPublishTimeout,
	}
}

// HandleChange publishes change. It is a cart.Listener: failures are logged
// and never reach the command that caused the change.
func (p *Producer) HandleChange(ctx context.Context, change cart.Change) {
	// The command's context may end as soon as the response is written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.PublishCartUpdated(ctx, change); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("client_id", change.Snapshot.ClientID),
			slog.String("error", err.Error()),
		)
	}
	if change.Op != cart.OpClearCart {
		return
	}
	if err := p.PublishCartCleared(ctx, change.Snapshot.ClientID); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("client_id", change.Snapshot.ClientID),
			slog.String("error", err.Error()),
		)
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, change cart.Change) error {
	snap := change.Snapshot
	data := CartUpdatedData{
		ClientID:           snap.ClientID,
		Op:                 string(change.Op),
		Items:              snap.Items,
		ItemCount:          snap.ItemCount,
		ItemsSubtotal:      snap.ItemsSubtotal,
		HasShippingAddress: snap.ShippingAddress != nil,
		PaymentMethod:      snap.PaymentMethod,
	}
	return p.publish(ctx, TopicCartUpdated, "cart.updated", snap.ClientID, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, clientID string) error {
	return p.publish(ctx, TopicCartCleared, "cart.cleared", clientID, CartClearedData{ClientID: clientID})
}

func (p *Producer) publish(ctx context.Context, topic, eventType, clientID string, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, clientID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	return p.publisher.Publish(ctx, topic, evt)
}
