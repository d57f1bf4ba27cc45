package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/impactmarket/server/models"
)

const (
	DefaultExchange            = "impactmarket.events"
	PaymentCompletedRoutingKey = "payment.completed.v1"
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type PaymentCompleted struct {
	EventType         string    `json:"eventType"`
	PaymentID         string    `json:"paymentId"`
	CreatorID         string    `json:"creatorId"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	ExternalReference string    `json:"externalReference,omitempty"`
	PaymentType       string    `json:"paymentType,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Publisher announces completed payments on a topic exchange.
type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
}

func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	// Declare the exchange so publish never fails due to missing infra
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", exchange, err)
	}

	return &Publisher{ch: ch, exchange: exchange, now: time.Now}, nil
}

// Dial connects to the broker and returns a publisher on a fresh channel. Closing
// the returned connection also closes the channel.
func Dial(url, exchange string) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := NewPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return p, conn, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PaymentCompleted(ctx context.Context, payment models.Payment) error {
	ev := PaymentCompleted{
		EventType: "PaymentCompleted",
		PaymentID: payment.ID,
		CreatorID: payment.CreatorID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Timestamp: p.now().UTC(),
	}
	if payment.ExternalReference != nil {
		ev.ExternalReference = *payment.ExternalReference
	}
	if payment.PaymentType != nil {
		ev.PaymentType = *payment.PaymentType
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal PaymentCompleted: %w", err)
	}

	return p.publishJSON(ctx, PaymentCompletedRoutingKey, payment.ID, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    p.now().UTC(),
			Body:         body,
		},
	)
}
