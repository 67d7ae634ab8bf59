package stream

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/efreitasn/fractionex/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes trades to a Kafka topic, keyed by share class id so
// that a class's trades stay ordered within one partition. Writes go through
// a circuit breaker so a dead cluster fails fast instead of stalling the hub.
type KafkaSink struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
	codec   Codec
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, codec Codec) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, codec)
}

func newKafkaSink(w messageWriter, codec Codec) *KafkaSink {
	return &KafkaSink{
		writer: w,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "kafka",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		codec: codec,
	}
}

// Name implements Sink.
func (k *KafkaSink) Name() string {
	return "kafka"
}

// Write implements Sink.
func (k *KafkaSink) Write(ctx context.Context, trades []domain.Trade) error {
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		val, err := k.codec.Encode(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(t.ShareClassID, 10)),
			Value: val,
		})
	}

	_, err := k.breaker.Execute(func() (interface{}, error) {
		return nil, k.writer.WriteMessages(ctx, msgs...)
	})
	return err
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
