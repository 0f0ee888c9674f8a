package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"callaudit/internal/util"
)

// AMQPStageQueue runs the stage queue on a RabbitMQ durable queue. Retry
// accounting rides in the message body; job status is tracked in memory on
// whichever node enqueued it, since AMQP has no shared status store.
type AMQPStageQueue struct {
	conn       *amqp.Connection
	queueName  string
	maxRetries int
	retryDelay time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
}

type amqpJobBody struct {
	JobID    string `json:"jobId"`
	CallID   string `json:"callId"`
	Stage    Stage  `json:"stage"`
	Attempts int    `json:"attempts"`
}

func NewAMQPStageQueue(cfg AMQPQueueConfig) (*AMQPStageQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queueName := strings.TrimSpace(cfg.Queue)
	if queueName == "" {
		return nil, errors.New("queue name required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPStageQueue{
		conn:       conn,
		queueName:  queueName,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		jobs:       make(map[string]Job),
	}, nil
}

func (q *AMQPStageQueue) Close() error {
	return q.conn.Close()
}

func (q *AMQPStageQueue) Enqueue(ctx context.Context, callID string, stage Stage) (Job, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Job{}, errors.New("callId required")
	}
	if !stage.Valid() {
		return Job{}, fmt.Errorf("unknown stage %q", stage)
	}
	job := Job{
		ID:        util.NewID(),
		CallID:    callID,
		Stage:     stage,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, amqpJobBody{JobID: job.ID, CallID: callID, Stage: stage}); err != nil {
		return Job{}, err
	}
	q.setJob(job)
	return job, nil
}

func (q *AMQPStageQueue) publish(ctx context.Context, body amqpJobBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

func (q *AMQPStageQueue) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *AMQPStageQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, handler)
	}
}

func (q *AMQPStageQueue) consumeLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := q.consume(ctx, handler); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.retryDelay):
			}
		}
	}
}

func (q *AMQPStageQueue) consume(ctx context.Context, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.handleDelivery(ctx, d, handler)
		}
	}
}

func (q *AMQPStageQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var body amqpJobBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.CallID == "" || !body.Stage.Valid() {
		_ = d.Ack(false)
		return
	}
	body.Attempts++
	job := Job{
		ID:        body.JobID,
		CallID:    body.CallID,
		Stage:     body.Stage,
		Status:    StatusProcessing,
		Attempts:  body.Attempts,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	q.setJob(job)

	err := handler(ctx, job)
	if err == nil {
		job.Status = StatusDone
		q.setJob(job)
		_ = d.Ack(false)
		return
	}
	job.ErrorMessage = err.Error()
	if body.Attempts >= q.maxRetries {
		job.Status = StatusFailed
		q.setJob(job)
		_ = d.Ack(false)
		return
	}
	job.Status = StatusQueued
	q.setJob(job)
	// Republish with the bumped attempt count instead of a plain nack, so the
	// retry budget survives redelivery.
	if pubErr := q.publish(ctx, body); pubErr != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPStageQueue) setJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.UpdatedAt = time.Now().UTC()
	q.jobs[job.ID] = job
}
