package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/game"
)

type Publisher interface {
	PublishSessionStarted(ctx context.Context, s *game.Session, now time.Time) error
	PublishSessionClosed(ctx context.Context, st game.Settlement) error
	PublishUserBlocked(ctx context.Context, userID, actor string, now time.Time) error
}

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type EventPublisher struct {
	conn         *amqp091.Connection
	exchangeName string
	enabled      bool
	log          zerolog.Logger

	// amqp091 channels are not safe for concurrent publishing
	mu      sync.Mutex
	channel channel
}

func NewEventPublisher(rabbitURI, exchangeName string, log zerolog.Logger) (*EventPublisher, error) {
	log = log.With().Str("component", "events").Logger()
	if rabbitURI == "" {
		log.Warn().Msg("AMQP URL is empty, event publishing is disabled")
		return &EventPublisher{enabled: false, log: log}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &EventPublisher{
		conn:         conn,
		channel:      ch,
		exchangeName: exchangeName,
		enabled:      true,
		log:          log,
	}, nil
}

func (p *EventPublisher) publishEvent(ctx context.Context, routingKey string, event any) error {
	if !p.enabled {
		p.log.Debug().Str("routing_key", routingKey).Msg("event publishing is disabled, skipping event")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug().Str("routing_key", routingKey).Msg("published event")
	return nil
}

func (p *EventPublisher) PublishSessionStarted(ctx context.Context, s *game.Session, now time.Time) error {
	event := NewSessionStartedEvent(s, now)
	return p.publishEvent(ctx, string(event.Type), event)
}

func (p *EventPublisher) PublishSessionClosed(ctx context.Context, st game.Settlement) error {
	event := NewSessionClosedEvent(st)
	return p.publishEvent(ctx, string(event.Type), event)
}

func (p *EventPublisher) PublishUserBlocked(ctx context.Context, userID, actor string, now time.Time) error {
	event := NewUserBlockedEvent(userID, actor, now)
	return p.publishEvent(ctx, string(event.Type), event)
}

func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
