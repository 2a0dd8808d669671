// Package audit publishes committed difficulty audit records downstream.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "puzzcode.difficulty-audit"

// ErrNoBrokers is returned by NewKafka without brokers.
var ErrNoBrokers = errors.New("audit: no kafka brokers")

// Publisher sends one audit record.
type Publisher interface {
	Publish(ctx context.Context, r model.AuditRecord) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes records as JSON, keyed by player so one player's
// changes land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

// Publish writes r synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, r model.AuditRecord) error { //nolint:gocritic // hugeParam: record is small and immutable
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.PlayerID),
		Value: body,
		Time:  r.CreatedAt,
		Headers: []kafka.Header{
			{Key: "rule", Value: []byte(r.Rule)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs records. Used when no brokers are configured.
type LogPublisher struct {
	logger logger.Logger
}

// NewLog creates a publisher logging through l, or the default logger.
func NewLog(l logger.Logger) *LogPublisher {
	if l == nil {
		l = logger.Default()
	}
	return &LogPublisher{logger: l.Named("audit")}
}

// Publish logs r at info level.
func (p *LogPublisher) Publish(ctx context.Context, r model.AuditRecord) error { //nolint:gocritic // hugeParam: record is small and immutable
	p.logger.Info(ctx, "difficulty changed",
		logger.String("player", r.PlayerID),
		logger.String("lesson", r.LessonID),
		logger.String("level", r.LevelID),
		logger.Float64("old", r.OldDifficulty),
		logger.Float64("new", r.NewDifficulty),
		logger.String("rule", r.Rule),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
