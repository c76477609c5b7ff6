package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Writer = (*kafka.Writer)(nil)

type Producer struct {
	w Writer
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewProducer(w Writer) *Producer {
	return &Producer{w: w}
}

// Enqueue publishes a message of the given type. The body is used as the
// partition key so repeated requests for one entity stay ordered.
func (p *Producer) Enqueue(ctx context.Context, typ, body string) (Message, error) {
	const op = "queue.Enqueue"

	msg := NewMessage(typ, body)
	data, err := Encode(msg)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(body), Value: data}); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
