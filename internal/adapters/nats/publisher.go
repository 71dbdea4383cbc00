package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// Stream and subject layout for pipeline stage events.
const (
	StageStream        = "RIVERSCAN_STAGES"
	stageSubjectPrefix = "riverscan.stage."
)

// StageSubject is the subject a stage's completion events are published on.
func StageSubject(stage string) string {
	return stageSubjectPrefix + stage
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("riverscan"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and makes sure the stage stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      StageStream,
		Subjects:  []string{stageSubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishStageCompleted publishes ev on its stage subject. The message id
// lets JetStream drop duplicates of the same run.
func (p *Publisher) PublishStageCompleted(ctx context.Context, ev domain.StageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(StageSubject(ev.Stage), data,
		nats.Context(ctx),
		nats.MsgId(messageID(ev)),
	)
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

func messageID(ev domain.StageEvent) string {
	return fmt.Sprintf("%s-%d", ev.Stage, ev.FinishedAt.UnixNano())
}
