package journal

import (
	"context"
	"fmt"

	"github.com/roach88/subdispatch/internal/ir"
)

// Record appends one delivery of ev to subscriber. Recording the same
// (seq, subscriber) twice is a no-op.
func (j *Journal) Record(ctx context.Context, ev ir.ResultEvent, subscriber string) error {
	root, err := ir.MarshalCanonical(ev.Root)
	if err != nil {
		return fmt.Errorf("record delivery: root: %w", err)
	}
	data, err := ir.MarshalCanonical(ev.Data)
	if err != nil {
		return fmt.Errorf("record delivery: data: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO deliveries
		(seq, trigger_id, category, namespace, hash, subscriber, root, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq, subscriber) DO NOTHING
	`,
		ev.Seq,
		ev.TriggerID,
		ev.Category,
		ev.Namespace,
		ev.Hash,
		subscriber,
		string(root),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecordFailure appends one execution failure.
func (j *Journal) RecordFailure(ctx context.Context, f ir.ExecutionFailure) error {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO failures (trigger_id, category, namespace, hash, message)
		VALUES (?, ?, ?, ?, ?)
	`,
		f.Trigger.ID,
		f.Trigger.Category,
		f.Trigger.Namespace,
		f.Hash,
		msg,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
