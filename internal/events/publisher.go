// Package events publishes utterance and reply events to Kafka. With Kafka
// disabled the publisher only logs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
)

const (
	TypeUtterance = "utterance"
	TypeReply     = "reply"
)

// UtteranceEvent is published when the engine finalizes a user utterance.
type UtteranceEvent struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Trigger     string    `json:"trigger"`
	Tool        string    `json:"tool,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReplyEvent is published for every assistant reply.
type ReplyEvent struct {
	ConversationID string    `json:"conversation_id"`
	Source         string    `json:"source"` // voice or chat
	Text           string    `json:"text"`
	Tool           string    `json:"tool,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Config struct {
	Brokers         []string `mapstructure:"brokers"`
	TopicUtterances string   `mapstructure:"topic_utterances"`
	TopicReplies    string   `mapstructure:"topic_replies"`
	Principal       string   `mapstructure:"principal"`
	Enabled         bool     `mapstructure:"enabled"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic per event type.
type Publisher struct {
	utterances      messageWriter
	replies         messageWriter
	topicUtterances string
	topicReplies    string
	principal       string
	enabled         bool
	metrics         *metrics.Metrics
}

func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if cfg == nil {
		logging.Infow("events: kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}
	p := &Publisher{
		topicUtterances: cfg.TopicUtterances,
		topicReplies:    cfg.TopicReplies,
		principal:       cfg.Principal,
		metrics:         m,
	}
	if p.topicUtterances == "" {
		p.topicUtterances = "voice.utterances"
	}
	if p.topicReplies == "" {
		p.topicReplies = "voice.replies"
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logging.Infow("events: kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.utterances = newWriter(p.topicUtterances)
	p.replies = newWriter(p.topicReplies)
	p.enabled = true
	logging.Infow("events: kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_utterances", p.topicUtterances,
		"topic_replies", p.topicReplies,
	)
	return p
}

func (p *Publisher) PublishUtterance(ctx context.Context, ev UtteranceEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.utterances, p.topicUtterances, TypeUtterance, ev.SessionID, ev)
}

func (p *Publisher) PublishReply(ctx context.Context, ev ReplyEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.replies, p.topicReplies, TypeReply, ev.ConversationID, ev)
}

func (p *Publisher) publish(ctx context.Context, w messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Errorw("events: failed to marshal event", "topic", topic, "error", err)
		return err
	}
	logging.Debugw("events: publishing", "topic", topic, "key", key, "payload", string(payload))

	if !p.enabled || w == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	err = w.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
	if err != nil {
		logging.Errorw("events: kafka write failed", "topic", topic, "key", key, "error", err)
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, w := range []messageWriter{p.utterances, p.replies} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
