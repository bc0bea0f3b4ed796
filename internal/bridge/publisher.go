package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"timeslot-service/internal/config"
	"timeslot-service/pkg/response"
	"timeslot-service/pkg/sl"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher pushes lifecycle events onto the same queue the listener reads.
// Publish failures are logged and swallowed: events are a side channel, never
// part of a booking's transactional outcome.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *slog.Logger
}

func NewPublisher(cfg config.Amqp, log *slog.Logger) (*Publisher, error) {
	const op = "bridge.NewPublisher"

	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("%s: dial %v: %w", op, err, response.ErrTransport)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: channel %v: %w", op, err, response.ErrTransport)
	}

	return &Publisher{
		conn:    conn,
		channel: channel,
		queue:   cfg.Queue,
		log:     log,
	}, nil
}

func (p *Publisher) Emit(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal event", sl.Err(err))
		return
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.log.Error("Failed to publish event", sl.Err(err),
			slog.String("event_id", event.ID))
		return
	}

	p.log.Debug("Event published", slog.String("event_id", event.ID))
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}

	return nil
}

// LogNotifier is the stand-in sink used when AMQP is disabled.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Emit(_ context.Context, event Event) {
	n.Log.Info("Appointment event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)
}
