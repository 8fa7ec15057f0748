package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Delivery is one recorded callback invocation.
type Delivery struct {
	Seq        int64           `json:"seq"`
	TriggerID  string          `json:"trigger_id"`
	Category   string          `json:"category"`
	Namespace  string          `json:"namespace"`
	Hash       string          `json:"hash"`
	Subscriber string          `json:"subscriber"`
	Root       json.RawMessage `json:"root"`
	Data       json.RawMessage `json:"data"`
}

// Failure is one recorded execution failure.
type Failure struct {
	TriggerID string `json:"trigger_id"`
	Category  string `json:"category"`
	Namespace string `json:"namespace"`
	Hash      string `json:"hash"`
	Message   string `json:"message"`
}

// Query narrows Deliveries. Empty fields match everything.
type Query struct {
	Category  string
	Namespace string
	TriggerID string

	// Limit caps the result size; 0 means no limit.
	Limit int
}

// Deliveries returns recorded deliveries matching q, ordered by seq then
// insertion. Returns an empty slice (not nil) when nothing matches.
func (j *Journal) Deliveries(ctx context.Context, q Query) ([]Delivery, error) {
	var where []string
	var args []any
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if q.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, q.Namespace)
	}
	if q.TriggerID != "" {
		where = append(where, "trigger_id = ?")
		args = append(args, q.TriggerID)
	}

	query := `SELECT seq, trigger_id, category, namespace, hash, subscriber, root, data FROM deliveries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		var d Delivery
		var root, data string
		if err := rows.Scan(&d.Seq, &d.TriggerID, &d.Category, &d.Namespace, &d.Hash, &d.Subscriber, &root, &data); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Root = json.RawMessage(root)
		d.Data = json.RawMessage(data)
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

// Failures returns recorded failures in insertion order.
func (j *Journal) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT trigger_id, category, namespace, hash, message
		FROM failures
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.TriggerID, &f.Category, &f.Namespace, &f.Hash, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}

	return failures, nil
}
