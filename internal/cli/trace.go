package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/subdispatch/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal   string
	Category  string
	Namespace string
	Trigger   string
	Limit     int
}

// TraceEvent is one entry in the journal timeline.
type TraceEvent struct {
	Seq        int64  `json:"seq,omitempty"`
	Type       string `json:"type"` // "delivery" or "failure"
	TriggerID  string `json:"trigger_id"`
	Category   string `json:"category"`
	Namespace  string `json:"namespace"`
	Hash       string `json:"hash"`
	Subscriber string `json:"subscriber,omitempty"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Journal  string       `json:"journal"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Deliveries  int `json:"deliveries"`
	Failures    int `json:"failures"`
	Triggers    int `json:"triggers"`
	Subscribers int `json:"subscribers"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded deliveries from a journal",
		Long: `Show the deliveries and failures recorded in a delivery journal.

The output includes:
- Timeline: deliveries in event order, failures after them
- Stats: summary counts for the selection

Examples:
  subdispatch trace --journal ./deliveries.db
  subdispatch trace --journal ./deliveries.db --category type --namespace ns
  subdispatch trace --journal ./deliveries.db --trigger trigger-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite delivery journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Category, "category", "", "only show this category")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "only show this namespace")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "only show this trigger ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of deliveries (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty journal; a missing path is a user error.
	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Journal), &ErrorContext{Path: opts.Journal})
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal))
	}

	errCtx := &ErrorContext{Path: opts.Journal, TriggerID: opts.Trigger}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), errCtx)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	deliveries, err := j.Deliveries(ctx, journal.Query{
		Category:  opts.Category,
		Namespace: opts.Namespace,
		TriggerID: opts.Trigger,
		Limit:     opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), errCtx)
		return WrapExitError(ExitCommandError, "failed to read deliveries", err)
	}

	failures, err := j.Failures(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), errCtx)
		return WrapExitError(ExitCommandError, "failed to read failures", err)
	}

	result := TraceResult{
		Journal:  opts.Journal,
		Timeline: buildTimeline(deliveries, filterFailures(failures, opts)),
	}
	result.Stats = traceStats(result.Timeline)

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: result})
	}

	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

// filterFailures applies the category, namespace and trigger selection.
func filterFailures(failures []journal.Failure, opts *TraceOptions) []journal.Failure {
	var out []journal.Failure
	for _, f := range failures {
		if opts.Category != "" && f.Category != opts.Category {
			continue
		}
		if opts.Namespace != "" && f.Namespace != opts.Namespace {
			continue
		}
		if opts.Trigger != "" && f.TriggerID != opts.Trigger {
			continue
		}
		out = append(out, f)
	}
	return out
}

// buildTimeline converts journal records to timeline events.
func buildTimeline(deliveries []journal.Delivery, failures []journal.Failure) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(deliveries)+len(failures))

	for _, d := range deliveries {
		timeline = append(timeline, TraceEvent{
			Seq:        d.Seq,
			Type:       "delivery",
			TriggerID:  d.TriggerID,
			Category:   d.Category,
			Namespace:  d.Namespace,
			Hash:       d.Hash,
			Subscriber: d.Subscriber,
			Data:       decodeRaw(d.Data),
		})
	}

	for _, f := range failures {
		timeline = append(timeline, TraceEvent{
			Type:      "failure",
			TriggerID: f.TriggerID,
			Category:  f.Category,
			Namespace: f.Namespace,
			Hash:      f.Hash,
			Message:   f.Message,
		})
	}

	return timeline
}

// decodeRaw decodes a stored JSON payload, keeping numbers exact.
func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}

func traceStats(timeline []TraceEvent) TraceStats {
	var stats TraceStats
	triggers := make(map[string]bool)
	subscribers := make(map[string]bool)

	for _, ev := range timeline {
		triggers[ev.TriggerID] = true
		switch ev.Type {
		case "delivery":
			stats.Deliveries++
			subscribers[ev.Subscriber] = true
		case "failure":
			stats.Failures++
		}
	}

	stats.Triggers = len(triggers)
	stats.Subscribers = len(subscribers)
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Journal: %s\n", result.Journal)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Deliveries:  %d\n", result.Stats.Deliveries)
	fmt.Fprintf(w, "  Failures:    %d\n", result.Stats.Failures)
	fmt.Fprintf(w, "  Triggers:    %d\n", result.Stats.Triggers)
	fmt.Fprintf(w, "  Subscribers: %d\n", result.Stats.Subscribers)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Type {
	case "delivery":
		fmt.Fprintf(w, "  [%d] DLV %s/%s -> %s %s\n",
			event.Seq, event.Category, event.Namespace, event.Subscriber, formatValue(event.Data))
	case "failure":
		fmt.Fprintf(w, "  FAIL %s/%s %s\n", event.Category, event.Namespace, event.Message)
	}
	if verbose {
		fmt.Fprintf(w, "       Trigger: %s\n", event.TriggerID)
		fmt.Fprintf(w, "       Hash: %s\n", truncateID(event.Hash))
	}
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
