package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

const retryHeader = "x-retry-count"

// AMQPQueue stores chunk tasks in a durable RabbitMQ queue.
type AMQPQueue struct {
	conn       *amqp.Connection
	name       string
	prefetch   int
	maxRetries int
	log        *slog.Logger

	mu      sync.Mutex
	pubChan *amqp.Channel
}

// DialAMQP connects and declares the durable task queue.
func DialAMQP(url, name string, prefetch, maxRetries int, log *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &AMQPQueue{
		conn:       conn,
		name:       name,
		prefetch:   prefetch,
		maxRetries: maxRetries,
		log:        log,
		pubChan:    ch,
	}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, task model.ChunkTask) error {
	return q.publish(ctx, task, 0)
}

func (q *AMQPQueue) publish(_ context.Context, task model.ChunkTask, retries int) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode chunk task: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pubChan.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

func (q *AMQPQueue) Subscribe(ctx context.Context, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch*workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := ch.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					q.deliver(ctx, d, handler)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *AMQPQueue) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	var task model.ChunkTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		q.log.Error("invalid chunk task", slog.String("error", err.Error()))
		d.Ack(false)
		return
	}

	err := handler(ctx, task)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := RetryCount(d.Headers)
	if ctx.Err() != nil {
		// Shutting down: hand the task back to the broker untouched.
		d.Nack(false, true)
		return
	}
	if retries >= q.maxRetries {
		q.log.ErrorContext(ctx, "chunk task dropped after retries",
			slog.String("campaign_id", task.CampaignID),
			slog.Int("chunk", task.Index),
			slog.String("error", err.Error()),
		)
		d.Ack(false)
		return
	}

	time.Sleep(Backoff(retries + 1))
	if perr := q.publish(ctx, task, retries+1); perr != nil {
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// RetryCount reads the redelivery counter, whatever integer type the broker decoded it as.
func RetryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pubChan.Close()
	return q.conn.Close()
}
