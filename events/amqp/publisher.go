// Package amqp publishes ledger events to RabbitMQ.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/events"
)

const publishTimeout = 5 * time.Second

// Publisher sends events to a durable topic exchange. The routing key is the
// event type, so consumers can bind to "advance.*" or "escrow.*".
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger

	mu sync.Mutex // amqp091 channels are not safe for concurrent publishes
}

func NewPublisher(url, exchange string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		log:      log.Named("amqp"),
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return p, nil
}

// Publish sends one event as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,     // exchange
		string(e.Type), // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    e.OccurredAt,
			MessageId:    string(e.EntryID),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.log.Debug("published event",
		zap.String("type", string(e.Type)),
		zap.String("entry_id", string(e.EntryID)),
		zap.String("exchange", p.exchange))
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ events.Publisher = (*Publisher)(nil)
