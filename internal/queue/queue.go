// Package queue decouples reading ingestion from rule evaluation and
// notification dispatch. Tasks are delivered at least once with no
// ordering guarantee, so handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

// TaskType names the work a task carries.
type TaskType string

const (
	TaskEvaluateReading      TaskType = "evaluate_reading"
	TaskDispatchNotification TaskType = "dispatch_notification"
)

// Task is one unit of background work.
type Task struct {
	ID         string    `json:"id"`
	Type       TaskType  `json:"type"`
	ReadingID  uint      `json:"reading_id,omitempty"`
	RuleID     uint      `json:"rule_id,omitempty"`
	RecordID   uint      `json:"record_id,omitempty"`
	Value      float64   `json:"value,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EvaluateReading builds an evaluation task for a stored reading.
func EvaluateReading(readingID uint) *Task {
	return &Task{Type: TaskEvaluateReading, ReadingID: readingID}
}

// DispatchNotification builds a dispatch task for an alert record.
func DispatchNotification(ruleID, recordID uint, value float64) *Task {
	return &Task{Type: TaskDispatchNotification, RuleID: ruleID, RecordID: recordID, Value: value}
}

// Handler processes one task. A returned error is logged and counted; the
// task is not retried by the queue.
type Handler func(ctx context.Context, task *Task) error

// Queue accepts tasks and runs them on a worker pool.
type Queue interface {
	// Enqueue submits a task without waiting for it to run.
	Enqueue(ctx context.Context, task *Task) error
	// Run processes tasks with handler until ctx is cancelled, then
	// finishes in-flight work and returns.
	Run(ctx context.Context, handler Handler) error
	// Close stops accepting tasks.
	Close() error
}

var (
	ErrQueueFull   = errors.NewStd("task queue is full")
	ErrQueueClosed = errors.NewStd("task queue is closed")

	errAlreadyRunning = errors.NewStd("task queue is already running")
)

func queueError(err error, taskType TaskType) error {
	return errors.New(err).
		Component("queue").
		Category(errors.CategoryQueue).
		Context("task_type", string(taskType)).
		Build()
}

// stamp fills the task id and enqueue time.
func stamp(task *Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
}

func encodeTask(task *Task) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	return string(b), nil
}

func decodeTask(s string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(s), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.Type != TaskEvaluateReading && task.Type != TaskDispatchNotification {
		return nil, fmt.Errorf("unknown task type %q", task.Type)
	}
	return &task, nil
}

// execute runs handler with panic recovery so a failing task cannot take
// down its worker.
func execute(ctx context.Context, handler Handler, task *Task, log logger.Logger, m *metrics.Metrics) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				logger.String("task_id", task.ID),
				logger.String("task_type", string(task.Type)),
				logger.Any("panic", r))
			m.IncTask(string(task.Type), "panic")
		}
	}()

	if err := handler(ctx, task); err != nil {
		log.Warn("task failed",
			logger.String("task_id", task.ID),
			logger.String("task_type", string(task.Type)),
			logger.Error(err))
		m.IncTask(string(task.Type), "failed")
		return
	}
	m.IncTask(string(task.Type), "ok")
}
