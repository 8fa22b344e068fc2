package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskPermissionDenied is the asynq task type carrying an Entry.
	TaskPermissionDenied = "authz:audit:denied"
	// DefaultQueue is the asynq queue denials are enqueued on.
	DefaultQueue = "audit"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands denials to the background worker so the decision path only
// pays for a single Redis round trip.
type QueueSink struct {
	client Enqueuer
	queue  string
}

// NewQueueSink creates a sink that enqueues onto queue.
func NewQueueSink(client Enqueuer, queue string) *QueueSink {
	if queue == "" {
		queue = DefaultQueue
	}
	return &QueueSink{client: client, queue: queue}
}

// NewTask encodes entry as an asynq task.
func NewTask(entry Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionDenied, data), nil
}

// DecodeTask extracts the Entry carried by t.
func DecodeTask(t *asynq.Task) (Entry, error) {
	var entry Entry
	if t == nil {
		return entry, errors.New("audit: nil task")
	}
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return entry, fmt.Errorf("audit: decode task: %w", err)
	}
	return entry, nil
}

// LogPermissionDenied implements Sink.
func (s *QueueSink) LogPermissionDenied(ctx context.Context, entry Entry) error {
	if s == nil || s.client == nil {
		return errors.New("audit: queue sink not initialised")
	}
	task, err := NewTask(entry)
	if err != nil {
		return fmt.Errorf("audit: encode task: %w", err)
	}
	opts := []asynq.Option{asynq.Queue(s.queue), asynq.MaxRetry(5)}
	if entry.ID != "" {
		opts = append(opts, asynq.TaskID(entry.ID))
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("audit: enqueue denial: %w", err)
	}
	return nil
}
