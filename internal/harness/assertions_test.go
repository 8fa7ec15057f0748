package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultWith(deliveries ...Delivery) *Result {
	r := NewResult()
	for _, d := range deliveries {
		r.addDelivery(d, "type", "ns")
	}
	return r
}

func TestEvaluateExpectations_DeliveriesMatch(t *testing.T) {
	r := resultWith(
		Delivery{Seq: 1, Subscriber: "a", Data: map[string]any{"user": map[string]any{"name": "Rohde", "age": int64(20)}}},
		Delivery{Seq: 1, Subscriber: "b"},
	)

	errs := EvaluateExpectations(r, Expect{Deliveries: []ExpectedDelivery{
		{Subscriber: "a", Data: map[string]any{"user": map[string]any{"age": 20}}},
		{Subscriber: "b"},
	}})
	assert.Empty(t, errs)
}

func TestEvaluateExpectations_NilDeliveriesSkipsCheck(t *testing.T) {
	r := resultWith(Delivery{Seq: 1, Subscriber: "a"})
	assert.Empty(t, EvaluateExpectations(r, Expect{}))
}

func TestEvaluateExpectations_EmptyDeliveriesExpectsNone(t *testing.T) {
	r := resultWith(Delivery{Seq: 1, Subscriber: "a"})

	errs := EvaluateExpectations(r, Expect{Deliveries: []ExpectedDelivery{}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: 0 deliveries to []")
	assert.Contains(t, errs[0], "Actual: 1 deliveries to [a]")
}

func TestEvaluateExpectations_WrongOrder(t *testing.T) {
	r := resultWith(
		Delivery{Seq: 1, Subscriber: "b"},
		Delivery{Seq: 1, Subscriber: "a"},
	)

	errs := EvaluateExpectations(r, Expect{Deliveries: []ExpectedDelivery{
		{Subscriber: "a"},
		{Subscriber: "b"},
	}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: delivery 1 to a")
	assert.Contains(t, errs[0], "Actual: delivery 1 to b")
	assert.Contains(t, errs[0], "Full trace:")
}

func TestEvaluateExpectations_DataMismatch(t *testing.T) {
	r := resultWith(Delivery{Seq: 1, Subscriber: "a", Data: map[string]any{"user": map[string]any{"name": "Rohde"}}})

	errs := EvaluateExpectations(r, Expect{Deliveries: []ExpectedDelivery{
		{Subscriber: "a", Data: map[string]any{"user": map[string]any{"name": "Other"}}},
	}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Assertion failed: deliveries")
}

func TestEvaluateExpectations_Failure(t *testing.T) {
	r := NewResult()
	r.Failures = []string{`Variable "$name" of required type "String!" was not provided.`}

	assert.Empty(t, EvaluateExpectations(r, Expect{Failure: `"$name"`}))

	errs := EvaluateExpectations(r, Expect{Failure: "timeout"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `failure containing "timeout"`)

	errs = EvaluateExpectations(r, Expect{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: no execution failure")
}

func TestEvaluateExpectations_MissingFailure(t *testing.T) {
	errs := EvaluateExpectations(NewResult(), Expect{Failure: "boom"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Actual: no execution failure")
}

func TestMatchSubset(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"equal scalars", "a", "a", true},
		{"int widths", int64(20), 20, true},
		{"integral float", 20.0, 20, true},
		{"extra keys ignored", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 1}, true},
		{"nested subset", map[string]any{"u": map[string]any{"a": 1, "b": nil}}, map[string]any{"u": map[string]any{"b": nil}}, true},
		{"missing key", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"value mismatch", map[string]any{"a": 1}, map[string]any{"a": 2}, false},
		{"object vs scalar", "x", map[string]any{"a": 1}, false},
		{"lists compare exactly", []any{1, 2}, []any{1}, false},
		{"unsupported value", func() {}, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubset(tt.actual, tt.expected))
		})
	}
}

func TestAssertionErrorFormatting(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDeliveries,
		Expected: "x",
		Actual:   "y",
		Trace: []TraceEvent{
			{Type: EventRun, Step: 1, OK: true},
			{Type: EventDelivery, Seq: 1, Subscriber: "a"},
			{Type: EventFailure, Message: "boom"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "[1] step 1 run ok=true")
	assert.Contains(t, msg, "[2] delivery seq=1 to a")
	assert.Contains(t, msg, "[3] failure boom")
}
