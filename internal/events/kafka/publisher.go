package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ledgercache/internal/balance"
)

// CacheEvent is the JSON document published for every cache mutation.
type CacheEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	PeriodID   int64     `json:"period_id,omitempty"`
	Rows       int64     `json:"rows"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends cache change events to one Kafka topic.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Notify implements balance.Notifier. Events of one period share a message
// key so they stay ordered within a partition.
func (p *Publisher) Notify(ctx context.Context, ev balance.ChangeEvent) error {
	data, err := json.Marshal(CacheEvent{
		ID:         uuid.NewString(),
		Kind:       string(ev.Kind),
		PeriodID:   int64(ev.PeriodID),
		Rows:       ev.Rows,
		Actor:      ev.Actor,
		OccurredAt: ev.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(int64(ev.PeriodID), 10)),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish cache event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
