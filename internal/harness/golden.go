package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/subdispatch/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Failure      string       `json:"failure,omitempty"`
}

// toCanonicalMap converts a TraceSnapshot to generic maps so that
// ir.MarshalCanonical sorts every key and omits empty fields.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"type": event.Type,
			"ok":   event.OK,
		}
		if event.Step != 0 {
			m["step"] = event.Step
		}
		if event.Seq != 0 {
			m["seq"] = event.Seq
		}
		if event.Subscriber != "" {
			m["subscriber"] = event.Subscriber
		}
		if event.Category != "" {
			m["category"] = event.Category
		}
		if event.Namespace != "" {
			m["namespace"] = event.Namespace
		}
		if event.TriggerID != "" {
			m["trigger_id"] = event.TriggerID
		}
		if event.Subscriptions != 0 {
			m["subscriptions"] = event.Subscriptions
		}
		if event.Data != nil {
			m["data"] = event.Data
		}
		if event.Message != "" {
			m["message"] = event.Message
		}
		trace[i] = m
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
	if s.Failure != "" {
		result["failure"] = s.Failure
	}
	return result
}

// Snapshot returns the canonical JSON trace of result.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Failure:      result.Failure,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not be executed. A trace mismatch
// fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)

	return nil
}
