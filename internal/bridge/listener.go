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

// Listener drains the inbound appointment event queue and folds every message
// into the view. Messages are acked after the merge: redelivery of an already
// merged event is absorbed by the view's dedupe, so at-least-once is enough.
type Listener struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	view    *View
	log     *slog.Logger
}

func NewListener(cfg config.Amqp, view *View, log *slog.Logger) (*Listener, error) {
	const op = "bridge.NewListener"

	if !cfg.Enabled {
		log.Info("AMQP is disabled, listener will not be started")
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

	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: declare queue %v: %w", op, err, response.ErrTransport)
	}

	return &Listener{
		conn:    conn,
		channel: channel,
		queue:   cfg.Queue,
		view:    view,
		log:     log,
	}, nil
}

// Run consumes until the context is cancelled or the channel closes.
func (l *Listener) Run(ctx context.Context) error {
	const op = "bridge.Listener.Run"

	deliveries, err := l.channel.Consume(l.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: consume %v: %w", op, err, response.ErrTransport)
	}

	l.log.Info("AMQP listener started", slog.String("queue", l.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal(d.Body, &event); err != nil {
				// Undecodable payloads are dropped, not requeued.
				l.log.Error("Failed to decode event", sl.Err(err))
				_ = d.Ack(false)
				continue
			}

			if l.view.Merge(event) {
				l.log.Info("Event merged",
					slog.String("event_id", event.ID),
					slog.String("event_type", string(event.Type)),
				)
			} else {
				l.log.Debug("Duplicate event ignored", slog.String("event_id", event.ID))
			}

			_ = d.Ack(false)
		}
	}
}

func (l *Listener) Close() error {
	if l == nil {
		return nil
	}

	if l.channel != nil {
		_ = l.channel.Close()
	}
	if l.conn != nil {
		return l.conn.Close()
	}

	return nil
}
