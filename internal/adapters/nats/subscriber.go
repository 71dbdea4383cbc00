package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// Subscriber consumes stage completion events from JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS for consuming stage events.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeStageCompleted calls handler for every new completion event of
// stage. durable names the consumer so restarts resume where they stopped.
// Failed or undecodable messages are redelivered up to three times.
func (s *Subscriber) SubscribeStageCompleted(ctx context.Context, stage, durable string, handler func(ctx context.Context, ev domain.StageEvent) error) error {
	sub, err := s.js.Subscribe(StageSubject(stage), func(msg *nats.Msg) {
		ev, err := decodeStageEvent(msg.Data)
		if err != nil {
			slog.Warn("bad stage event", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ev); err != nil {
			slog.Warn("stage event handler failed", "stage", ev.Stage, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", StageSubject(stage), err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Ping reports whether the connection to the server is up.
func (s *Subscriber) Ping(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats %s", s.conn.Status())
	}
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}

func decodeStageEvent(data []byte) (domain.StageEvent, error) {
	var ev domain.StageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.Stage == "" {
		return ev, fmt.Errorf("stage event without stage")
	}
	return ev, nil
}
