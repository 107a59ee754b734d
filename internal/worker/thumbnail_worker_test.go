package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/service"
	"Go_Pic/internal/task"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	processErr error
	processed  []uint64
	retrying   []int
	failed     []uint64
}

func (f *fakeTasks) Process(ctx context.Context, taskID uint64) error {
	f.processed = append(f.processed, taskID)
	return f.processErr
}

func (f *fakeTasks) MarkRetrying(ctx context.Context, taskID uint64, attempt int, procErr error, nextRetryAt time.Time) error {
	f.retrying = append(f.retrying, attempt)
	return nil
}

func (f *fakeTasks) MarkFailed(ctx context.Context, taskID uint64, procErr error) error {
	f.failed = append(f.failed, taskID)
	return nil
}

type fakeBroker struct {
	retries []time.Duration
	dlq     [][]byte
}

func (b *fakeBroker) PublishRetry(ctx context.Context, body []byte, delay time.Duration) error {
	b.retries = append(b.retries, delay)
	return nil
}

func (b *fakeBroker) PublishDLQ(ctx context.Context, body []byte) error {
	b.dlq = append(b.dlq, body)
	return nil
}

type fakeLock struct {
	busy     bool
	locked   bool
	unlocked bool
}

func (l *fakeLock) Lock(ctx context.Context) error {
	if l.busy {
		return repo.ErrLockBusy
	}
	l.locked = true
	return nil
}

func (l *fakeLock) Unlock(ctx context.Context) error {
	l.unlocked = true
	return nil
}

func newTestWorker(tasks *fakeTasks, broker *fakeBroker, lock *fakeLock) *Worker {
	cfg := config.Config{
		ThumbnailRetryMax:    2,
		ThumbnailRetryDelays: []time.Duration{time.Second, time.Minute},
	}
	return NewWorker(cfg, tasks, broker, func(imageID string) Locker { return lock })
}

func body(t *testing.T, attempt int) []byte {
	t.Helper()
	data, err := json.Marshal(task.ThumbnailMessage{TaskID: 7, ImageID: "img", Attempt: attempt})
	require.NoError(t, err)
	return data
}

func TestHandleSuccessHoldsLock(t *testing.T) {
	tasks, broker, lock := &fakeTasks{}, &fakeBroker{}, &fakeLock{}
	w := newTestWorker(tasks, broker, lock)

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 0)))
	assert.Equal(t, []uint64{7}, tasks.processed)
	assert.True(t, lock.locked)
	assert.True(t, lock.unlocked)
	assert.Empty(t, broker.retries)
}

func TestHandleInvalidMessageIsDropped(t *testing.T) {
	tasks := &fakeTasks{}
	w := newTestWorker(tasks, &fakeBroker{}, &fakeLock{})
	assert.Equal(t, Ack, w.Handle(context.Background(), []byte("{")))
	assert.Empty(t, tasks.processed)
}

func TestHandleRetriesTransientErrors(t *testing.T) {
	tasks := &fakeTasks{processErr: fmt.Errorf("read original: %w", service.ErrStorage)}
	broker := &fakeBroker{}
	w := newTestWorker(tasks, broker, &fakeLock{})

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 0)))
	assert.Equal(t, []int{1}, tasks.retrying)
	assert.Equal(t, []time.Duration{time.Second}, broker.retries)

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 1)))
	assert.Equal(t, []time.Duration{time.Second, time.Minute}, broker.retries)

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 2)))
	assert.Equal(t, []uint64{7}, tasks.failed)
	require.Len(t, broker.dlq, 1)

	var dlq dlqMessage
	require.NoError(t, json.Unmarshal(broker.dlq[0], &dlq))
	assert.Equal(t, "img", dlq.ImageID)
	assert.Equal(t, 2, dlq.Attempt)
}

func TestHandleBusyLockRetries(t *testing.T) {
	tasks, broker := &fakeTasks{}, &fakeBroker{}
	w := newTestWorker(tasks, broker, &fakeLock{busy: true})

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 0)))
	assert.Empty(t, tasks.processed)
	assert.Len(t, broker.retries, 1)
}

func TestHandlePermanentFailureGoesToDLQ(t *testing.T) {
	tasks := &fakeTasks{processErr: errors.New("decode image: unknown format")}
	broker := &fakeBroker{}
	w := newTestWorker(tasks, broker, &fakeLock{})

	assert.Equal(t, Ack, w.Handle(context.Background(), body(t, 0)))
	assert.Empty(t, broker.retries)
	assert.Equal(t, []uint64{7}, tasks.failed)
	assert.Len(t, broker.dlq, 1)
}

func TestHandleCanceledContextRequeues(t *testing.T) {
	tasks := &fakeTasks{processErr: context.Canceled}
	w := newTestWorker(tasks, &fakeBroker{}, &fakeLock{})
	assert.Equal(t, Requeue, w.Handle(context.Background(), body(t, 0)))
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, shouldRetry(service.ErrImageNotFound))
	assert.True(t, shouldRetry(repo.ErrLockBusy))
	assert.True(t, shouldRetry(fmt.Errorf("x: %w", service.ErrStorage)))
	assert.False(t, shouldRetry(errors.New("bad pixels")))
}

func TestPickRetryDelay(t *testing.T) {
	delays := []time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute}
	assert.Equal(t, time.Duration(0), pickRetryDelay(1, nil))
	assert.Equal(t, 10*time.Second, pickRetryDelay(0, delays))
	assert.Equal(t, 30*time.Second, pickRetryDelay(2, delays))
	assert.Equal(t, 2*time.Minute, pickRetryDelay(9, delays))
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:thumbnail:abc", LockKey("abc"))
}

type blockingTasks struct {
	fakeTasks
	started chan struct{}
	release chan struct{}
}

func (b *blockingTasks) Process(ctx context.Context, taskID uint64) error {
	close(b.started)
	<-b.release
	return nil
}

type recordingAck struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

func TestConsumeWaitsForInFlightHandlersOnShutdown(t *testing.T) {
	tasks := &blockingTasks{started: make(chan struct{}), release: make(chan struct{})}
	w := NewWorker(config.Config{}, tasks, &fakeBroker{}, nil)
	ack := &recordingAck{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body(t, 0)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.consume(ctx, deliveries, 2) }()

	<-tasks.started
	cancel()
	select {
	case <-done:
		t.Fatal("consume returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(tasks.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after the handler finished")
	}
	acks, nacks := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
}

func TestConsumeReportsClosedChannel(t *testing.T) {
	w := NewWorker(config.Config{}, &fakeTasks{}, &fakeBroker{}, nil)
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	assert.Error(t, w.consume(context.Background(), deliveries, 1))
}
