// Package relay mirrors broadcast progress onto a RabbitMQ topic exchange so
// other services can follow campaigns without holding an SSE stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/crystaldolphin/whatscast/internal/bus"
)

const reconnectDelay = 5 * time.Second

// Subscriber opens event streams.
type Subscriber interface {
	Subscribe(ctx context.Context, t bus.Topic) (<-chan bus.Event, error)
}

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Relay publishes every broadcast event as JSON with routing key
// "broadcast.<type>".
type Relay struct {
	url      string
	exchange string
	events   Subscriber
	log      *slog.Logger
}

// New creates a Relay for the broker at url.
func New(url, exchange string, events Subscriber, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{url: url, exchange: exchange, events: events, log: log}
}

// RoutingKey returns the routing key for e.
func RoutingKey(e bus.Event) string {
	return string(bus.TopicBroadcast) + "." + e.Kind()
}

// Message renders e as an AMQP publishing.
func Message(e bus.Event, now time.Time) (amqp.Publishing, error) {
	body, err := bus.Encode(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         e.Kind(),
		Body:         body,
	}, nil
}

// Run forwards events until ctx is done or the broadcast topic completes.
// Broker outages are retried; events published meanwhile are dropped.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.events.Subscribe(ctx, bus.TopicBroadcast)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	for {
		conn, ch, err := r.connect()
		if err != nil {
			r.log.Warn("relay: connect failed", "url", redact(r.url), "err", err)
			if !r.wait(ctx, events) {
				return ctx.Err()
			}
			continue
		}
		r.log.Info("relay: connected", "exchange", r.exchange)

		err = r.forward(ctx, ch, events, conn.NotifyClose(make(chan *amqp.Error, 1)))
		_ = ch.Close()
		_ = conn.Close()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
		r.log.Warn("relay: connection lost", "err", err)
		if !r.wait(ctx, events) {
			return ctx.Err()
		}
	}
}

func (r *Relay) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	return conn, ch, nil
}

// forward returns nil once events is closed.
func (r *Relay) forward(ctx context.Context, ch publisher, events <-chan bus.Event, closed <-chan *amqp.Error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case e, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := Message(e, time.Now())
			if err != nil {
				r.log.Error("relay: encode", "kind", e.Kind(), "err", err)
				continue
			}
			if err := ch.Publish(r.exchange, RoutingKey(e), false, false, msg); err != nil {
				return fmt.Errorf("publish %s: %w", e.Kind(), err)
			}
		}
	}
}

// wait sleeps out the reconnect delay, discarding events. It reports false
// when the relay should stop.
func (r *Relay) wait(ctx context.Context, events <-chan bus.Event) bool {
	t := time.NewTimer(reconnectDelay)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case _, ok := <-events:
			if !ok {
				return false
			}
		}
	}
}

func redact(raw string) string {
	u, err := amqp.ParseURI(raw)
	if err != nil {
		return "<invalid>"
	}
	u.Password = ""
	return u.String()
}
