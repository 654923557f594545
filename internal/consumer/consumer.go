package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/stock"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeName = "shop.events"
	exchangeType = "topic"
)

// Consumer subscribes to order workflow events and drives the reservation
// core. It is the only inbound integration; everything it does goes through
// Reserve and Restore.
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	serviceName string
	coordinator *stock.Coordinator
	restorer    *stock.Restorer
	publisher   *events.Publisher
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// NewConsumer connects to RabbitMQ and prepares the exchange
func NewConsumer(url, serviceName string, coordinator *stock.Coordinator, restorer *stock.Restorer, publisher *events.Publisher, m *metrics.Metrics, log *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("Consumer connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Consumer{
		conn:        conn,
		channel:     ch,
		serviceName: serviceName,
		coordinator: coordinator,
		restorer:    restorer,
		publisher:   publisher,
		metrics:     m,
		log:         log,
	}, nil
}

// Start declares the queue, binds the order routing keys and consumes until
// the channel closes
func (c *Consumer) Start() error {
	queueName := fmt.Sprintf("%s.stock.queue", c.serviceName)

	queue, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKeys := []string{
		"order.created",
		"order.cancelled",
		"order.refunded",
	}

	for _, key := range routingKeys {
		if err := c.channel.QueueBind(
			queue.Name,
			key,
			exchangeName,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
		c.log.Info("Listening for events", zap.String("routing_key", key))
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		c.serviceName, // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for msg := range msgs {
		c.handleMessage(msg)
	}

	return nil
}

func (c *Consumer) handleMessage(msg amqp.Delivery) {
	c.log.Debug("Received event", zap.String("routing_key", msg.RoutingKey))

	switch msg.RoutingKey {
	case "order.created":
		c.handleOrderCreated(msg)
	case "order.cancelled", "order.refunded":
		c.handleOrderCancelled(msg)
	default:
		c.log.Warn("Unknown event type", zap.String("routing_key", msg.RoutingKey))
		msg.Nack(false, false) // don't requeue unknown events
	}
}

// OrderCreatedEvent is the order workflow's new-order envelope
type OrderCreatedEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	Timestamp    string `json:"timestamp"`
	Payload      struct {
		OrderID string `json:"order_id"`
		UserID  string `json:"user_id"`
		Items   []struct {
			VariantID string `json:"variant_id"`
			Quantity  int32  `json:"quantity"`
		} `json:"items"`
	} `json:"payload"`
}

// OrderCancelledEvent covers both cancellations and refunds
type OrderCancelledEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	Timestamp    string `json:"timestamp"`
	Payload      struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	} `json:"payload"`
}

func (c *Consumer) handleOrderCreated(msg amqp.Delivery) {
	ctx := context.Background()

	var event OrderCreatedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal order.created event", zap.Error(err))
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "malformed").Inc()
		msg.Nack(false, false)
		return
	}

	items := make([]stock.Line, 0, len(event.Payload.Items))
	for _, item := range event.Payload.Items {
		items = append(items, stock.Line{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	_, err := c.coordinator.Reserve(ctx, event.Payload.OrderID, items)
	switch {
	case err == nil:
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "reserved").Inc()
		if err := c.publisher.PublishReservationCommitted(ctx, event.Payload.OrderID); err != nil {
			c.log.Error("Failed to publish inventory.reserved", zap.Error(err))
		}
		msg.Ack(false)

	case isInsufficientStock(err):
		// A business outcome, not a fault: tell the order workflow and move on
		var insufficient *stock.InsufficientStockError
		errors.As(err, &insufficient)
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "rejected").Inc()
		if err := c.publisher.PublishReservationRejected(ctx, event.Payload.OrderID,
			insufficient.VariantID, insufficient.Requested, insufficient.Available); err != nil {
			c.log.Error("Failed to publish inventory.reservation_rejected", zap.Error(err))
		}
		msg.Ack(false)

	case errors.Is(err, stock.ErrDuplicateReservation):
		// Redelivered event for an order we already reserved
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "duplicate").Inc()
		msg.Ack(false)

	case stock.IsRetryable(err):
		c.log.Warn("Reservation contended, requeueing",
			zap.String("order_id", event.Payload.OrderID),
			zap.Error(err),
		)
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "requeued").Inc()
		msg.Nack(false, true)

	default:
		c.log.Error("Failed to reserve stock",
			zap.String("order_id", event.Payload.OrderID),
			zap.Error(err),
		)
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "failed").Inc()
		msg.Nack(false, true)
	}
}

func (c *Consumer) handleOrderCancelled(msg amqp.Delivery) {
	ctx := context.Background()

	var event OrderCancelledEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal order cancellation event", zap.Error(err))
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "malformed").Inc()
		msg.Nack(false, false)
		return
	}

	err := c.restorer.Restore(ctx, event.Payload.OrderID)
	switch {
	case err == nil:
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "restored").Inc()
		msg.Ack(false)

	case errors.Is(err, stock.ErrReservationNotFound):
		// Cancelled before anything was reserved; nothing to give back
		c.log.Info("No reservation for cancelled order",
			zap.String("order_id", event.Payload.OrderID),
		)
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "no_reservation").Inc()
		msg.Ack(false)

	case stock.IsRetryable(err):
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "requeued").Inc()
		msg.Nack(false, true)

	default:
		c.log.Error("Failed to restore stock",
			zap.String("order_id", event.Payload.OrderID),
			zap.Error(err),
		)
		c.metrics.EventsConsumed.WithLabelValues(msg.RoutingKey, "failed").Inc()
		msg.Nack(false, true)
	}
}

func isInsufficientStock(err error) bool {
	var insufficient *stock.InsufficientStockError
	return errors.As(err, &insufficient)
}

// Close shuts down the channel and connection
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
