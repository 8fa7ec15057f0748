package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/subdispatch/internal/ir"
)

// LabelFunc names a subscriber in the journal.
type LabelFunc func(ir.Subscriber) string

// Callback returns a delivery callback that records every delivery.
// A nil label formats subscribers with fmt.Sprint. Write failures are
// logged to logger (slog.Default when nil); delivery callbacks cannot
// return errors.
func (j *Journal) Callback(ctx context.Context, label LabelFunc, logger *slog.Logger) func(ir.ResultEvent, ir.Subscriber) {
	if label == nil {
		label = func(s ir.Subscriber) string { return fmt.Sprint(s) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev ir.ResultEvent, sub ir.Subscriber) {
		if err := j.Record(ctx, ev, label(sub)); err != nil {
			logger.Warn("journal write failed",
				"hash", ev.Hash,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}
}

// FailureHandler returns an engine failure handler that records every
// execution failure. Write failures go to logger, or slog.Default when nil.
func (j *Journal) FailureHandler(ctx context.Context, logger *slog.Logger) func(ir.ExecutionFailure) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(f ir.ExecutionFailure) {
		if err := j.RecordFailure(ctx, f); err != nil {
			logger.Warn("journal write failed",
				"hash", f.Hash,
				"trigger_id", f.Trigger.ID,
				"error", err,
			)
		}
	}
}
