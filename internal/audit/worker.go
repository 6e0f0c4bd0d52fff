package audit

import (
	"context"
	"log/slog"
)

// Worker drains buffered events into the sinks until its inbox is closed.
type Worker struct {
	sinks  []Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sinks []Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sinks: sinks, inbox: inbox, logger: logger}
}

// Run returns once the inbox is closed and drained. Sink failures are logged
// and do not stop the worker.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		for _, sink := range w.sinks {
			if err := sink.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit sink append failed",
					"audit_id", event.ID,
					"action", string(event.Action),
					"error", err,
				)
			}
		}
	}
}
