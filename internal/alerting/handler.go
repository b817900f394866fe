package alerting

import (
	"context"
	"fmt"

	"github.com/envsense/envsense/internal/queue"
)

// NewTaskHandler routes queue tasks to the evaluator and the dispatcher.
func NewTaskHandler(ev *Evaluator, d *Dispatcher) queue.Handler {
	return func(ctx context.Context, task *queue.Task) error {
		switch task.Type {
		case queue.TaskEvaluateReading:
			return ev.EvaluateReading(ctx, task.ReadingID)
		case queue.TaskDispatchNotification:
			return d.Dispatch(ctx, task.RuleID, task.RecordID, task.Value)
		default:
			return fmt.Errorf("unknown task type %q", task.Type)
		}
	}
}
