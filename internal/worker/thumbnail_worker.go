package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/mq"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/service"
	"Go_Pic/internal/task"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type dlqMessage struct {
	TaskID   uint64    `json:"task_id"`
	ImageID  string    `json:"image_id"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Broker is the part of the queue client the worker republishes through.
type Broker interface {
	PublishRetry(ctx context.Context, body []byte, delay time.Duration) error
	PublishDLQ(ctx context.Context, body []byte) error
}

type Tasks interface {
	Process(ctx context.Context, taskID uint64) error
	MarkRetrying(ctx context.Context, taskID uint64, attempt int, procErr error, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, taskID uint64, procErr error) error
}

type Worker struct {
	tasks    Tasks
	broker   Broker
	newLock  func(imageID string) Locker
	limiter  *rate.Limiter
	maxRetry int
	delays   []time.Duration
	now      func() time.Time
}

func NewWorker(cfg config.Config, tasks Tasks, broker Broker, newLock func(imageID string) Locker) *Worker {
	burst := cfg.ThumbnailBurst
	if burst <= 0 {
		burst = 1
	}
	var limiter *rate.Limiter
	if cfg.ThumbnailRate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, burst)
	} else {
		limiter = rate.NewLimiter(rate.Limit(cfg.ThumbnailRate), burst)
	}
	maxRetry := cfg.ThumbnailRetryMax
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &Worker{
		tasks:    tasks,
		broker:   broker,
		newLock:  newLock,
		limiter:  limiter,
		maxRetry: maxRetry,
		delays:   cfg.ThumbnailRetryDelays,
		now:      time.Now,
	}
}

// LockTTL bounds how long a crashed worker can hold an image lock.
const LockTTL = 2 * time.Minute

// LockKey is the Redis key guarding thumbnail work on one image.
func LockKey(imageID string) string {
	return "lock:thumbnail:" + imageID
}

// RunThumbnailWorker consumes thumbnail tasks from RabbitMQ until ctx is done.
func RunThumbnailWorker(ctx context.Context, cfg config.Config, client *mq.Client, w *Worker) error {
	if err := client.DeclareTopology(); err != nil {
		return err
	}

	prefetch := cfg.RabbitMQPrefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := client.Channel.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := client.Channel.Consume(
		mq.QueueTasks,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	return w.consume(ctx, deliveries, cfg.ThumbnailConcurrency)
}

// consume settles deliveries with at most concurrency handlers in flight. It returns only
// after every started handler has finished.
func (w *Worker) consume(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	drain := func() {
		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				drain()
				return errors.New("thumbnail worker: delivery channel closed")
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = delivery.Nack(false, true)
				drain()
				return nil
			}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				switch w.Handle(ctx, d.Body) {
				case Ack:
					_ = d.Ack(false)
				case Requeue:
					_ = d.Nack(false, true)
				}
			}(delivery)
		}
	}
}

// Outcome tells the consumer loop how to settle a delivery.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
)

// Handle processes one message body.
func (w *Worker) Handle(ctx context.Context, body []byte) Outcome {
	var msg task.ThumbnailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("thumbnail worker: invalid message: %v", err)
		return Ack
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Requeue
		}
	}

	if err := w.process(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Requeue
		}
		if shouldRetry(err) {
			if err := w.scheduleRetry(ctx, msg, err); err != nil {
				log.Printf("thumbnail worker: retry schedule failed: %v", err)
				return Requeue
			}
		} else {
			if err := w.markFailed(ctx, msg, err); err != nil {
				log.Printf("thumbnail worker: mark failed failed: %v", err)
				return Requeue
			}
		}
	}
	return Ack
}

func (w *Worker) process(ctx context.Context, msg task.ThumbnailMessage) error {
	if w.newLock == nil || msg.ImageID == "" {
		return w.tasks.Process(ctx, msg.TaskID)
	}
	lock := w.newLock(msg.ImageID)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(context.Background()); err != nil {
			log.Printf("thumbnail worker: unlock %s failed: %v", msg.ImageID, err)
		}
	}()
	return w.tasks.Process(ctx, msg.TaskID)
}

// shouldRetry reports whether err is transient. Broken or vanished images are not.
func shouldRetry(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, service.ErrImageNotFound) {
		return false
	}
	if errors.Is(err, repo.ErrLockBusy) || errors.Is(err, service.ErrStorage) {
		return true
	}
	return false
}

func (w *Worker) scheduleRetry(ctx context.Context, msg task.ThumbnailMessage, procErr error) error {
	nextAttempt := msg.Attempt + 1
	if w.maxRetry == 0 || nextAttempt > w.maxRetry {
		return w.markFailed(ctx, msg, procErr)
	}

	delay := pickRetryDelay(nextAttempt, w.delays)
	if err := w.tasks.MarkRetrying(ctx, msg.TaskID, nextAttempt, procErr, w.now().Add(delay)); err != nil {
		return err
	}

	msg.Attempt = nextAttempt
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.broker.PublishRetry(ctx, body, delay)
}

func (w *Worker) markFailed(ctx context.Context, msg task.ThumbnailMessage, procErr error) error {
	if err := w.tasks.MarkFailed(ctx, msg.TaskID, procErr); err != nil {
		return err
	}

	dlq := dlqMessage{
		TaskID:   msg.TaskID,
		ImageID:  msg.ImageID,
		Attempt:  msg.Attempt,
		Error:    procErr.Error(),
		FailedAt: w.now(),
	}
	body, err := json.Marshal(dlq)
	if err != nil {
		return err
	}
	if err := w.broker.PublishDLQ(ctx, body); err != nil {
		log.Printf("thumbnail worker: dlq publish failed: %v", err)
	}
	return nil
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}
