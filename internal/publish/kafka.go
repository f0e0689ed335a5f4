// Package publish forwards settled scrape cycles to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const writeTimeout = 10 * time.Second

// RateEvent is the message value written for each observation of a cycle.
type RateEvent struct {
	CycleID    string    `json:"cycle_id"`
	Provider   string    `json:"provider"`
	Name       string    `json:"name"`
	BuyRate    string    `json:"buy_rate"`
	SellRate   string    `json:"sell_rate"`
	Spread     string    `json:"spread"`
	ObservedAt time.Time `json:"observed_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per observation, keyed by provider so a
// provider's rates stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishCycle writes the settled rates of result. Empty cycles are skipped.
func (k *KafkaPublisher) PublishCycle(ctx context.Context, result core.CycleResult) error {
	if k == nil || k.writer == nil {
		return errors.New("kafka publisher is not configured")
	}
	if len(result.Rates) == 0 {
		return nil
	}

	now := time.Now()
	messages := make([]kafka.Message, 0, len(result.Rates))
	for _, r := range result.Rates {
		value, err := json.Marshal(RateEvent{
			CycleID:    result.CycleID,
			Provider:   string(r.Provider),
			Name:       r.Provider.DisplayName(),
			BuyRate:    r.BuyRate.String(),
			SellRate:   r.SellRate.String(),
			Spread:     r.Spread().String(),
			ObservedAt: r.ObservedAt,
		})
		if err != nil {
			return fmt.Errorf("encode rate event: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(r.Provider),
			Value: value,
			Time:  now,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write rate messages: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaPublisher) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
