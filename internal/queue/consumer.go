package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Reader = (*kafka.Reader)(nil)

type Handler func(ctx context.Context, m Message) error

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer reads messages and fans them out to a fixed number of workers.
// Every message is committed once handled, whether or not the handler
// succeeded; failures are logged.
type Consumer struct {
	r        Reader
	workers  int
	deadline time.Duration
	log      *slog.Logger
}

func NewConsumer(r Reader, workers int, deadline time.Duration, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		r:        r,
		workers:  max(workers, 1),
		deadline: deadline,
		log:      log.With("component", "consumer"),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	jobs := make(chan kafka.Message)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for km := range jobs {
				c.handle(ctx, km, h)
			}
		}()
	}

	c.log.Info("consumer started", "workers", c.workers)
	for {
		km, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			c.log.Error("error reading message", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case jobs <- km:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(jobs)
	wg.Wait()
	c.log.Info("consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, km kafka.Message, h Handler) {
	log := c.log.With("partition", km.Partition, "offset", km.Offset)

	msg, err := Decode(km.Value)
	if err != nil {
		log.Error("dropping malformed message", "err", err)
	} else {
		log = log.With("id", msg.ID, "type", msg.Type, "body", msg.Body)
		c.dispatch(ctx, msg, h, log)
	}

	// committing must survive shutdown of the fetch loop
	if err := c.r.CommitMessages(context.WithoutCancel(ctx), km); err != nil {
		log.Error("commit failed", "err", err)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg Message, h Handler, log *slog.Logger) {
	if c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panicked", "panic", r)
		}
	}()

	start := time.Now()
	if err := h(ctx, msg); err != nil {
		log.Error("message handling failed", "err", err, "elapsed", time.Since(start))
		return
	}
	log.Info("message handled", "elapsed", time.Since(start))
}
