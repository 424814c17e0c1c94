// Package memory provides the run notification publisher used when no
// Pub/Sub topic is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher keeps published notifications in memory and logs them.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	logger   *zap.Logger
	now      func() time.Time
}

// Message captures one publish call. Data holds the JSON encoding that would
// have been sent over the wire.
type Message struct {
	ID          string
	Topic       string
	Payload     any
	Data        []byte
	PublishedAt time.Time
}

// New returns a memory Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger, now: time.Now}
}

// Publish encodes payload, records it and returns a sequential message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{
		ID:          id,
		Topic:       topic,
		Payload:     payload,
		Data:        data,
		PublishedAt: p.now(),
	})
	p.mu.Unlock()

	p.logger.Debug("Notification published",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.ByteString("data", data),
	)
	return id, nil
}

// Messages returns a copy of the recorded publishes in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the messages published to one topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
