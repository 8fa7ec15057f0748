package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/subdispatch/internal/ir"
)

// Expectation kinds reported in AssertionError.Type.
const (
	AssertDeliveries = "deliveries"
	AssertFailure    = "failure"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Expectation kind for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventDelivery:
				fmt.Fprintf(&buf, "  [%d] delivery seq=%d to %s\n", i+1, event.Seq, event.Subscriber)
			case EventFailure:
				fmt.Fprintf(&buf, "  [%d] failure %s\n", i+1, event.Message)
			default:
				fmt.Fprintf(&buf, "  [%d] step %d %s ok=%t\n", i+1, event.Step, event.Type, event.OK)
			}
		}
	}

	return buf.String()
}

// EvaluateExpectations checks result against expect.
// Returns a slice of error messages for failed expectations.
func EvaluateExpectations(result *Result, expect Expect) []string {
	var errs []string

	if expect.Deliveries != nil {
		if err := assertDeliveries(result, expect.Deliveries); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := assertFailure(result, expect.Failure); err != nil {
		errs = append(errs, err.Error())
	}

	return errs
}

// assertDeliveries checks that the deliveries match expected exactly in
// order and subscriber, with subset semantics for data.
func assertDeliveries(result *Result, expected []ExpectedDelivery) error {
	actual := result.Deliveries
	if len(actual) != len(expected) {
		return &AssertionError{
			Type:     AssertDeliveries,
			Expected: fmt.Sprintf("%d deliveries to %v", len(expected), expectedNames(expected)),
			Actual:   fmt.Sprintf("%d deliveries to %v", len(actual), actualNames(actual)),
			Trace:    result.Trace,
		}
	}

	for i, want := range expected {
		got := actual[i]
		if got.Subscriber != want.Subscriber {
			return &AssertionError{
				Type:     AssertDeliveries,
				Expected: fmt.Sprintf("delivery %d to %s", i+1, want.Subscriber),
				Actual:   fmt.Sprintf("delivery %d to %s", i+1, got.Subscriber),
				Trace:    result.Trace,
			}
		}
		if want.Data != nil && !matchSubset(got.Data, want.Data) {
			return &AssertionError{
				Type:     AssertDeliveries,
				Expected: fmt.Sprintf("delivery %d data containing %v", i+1, want.Data),
				Actual:   fmt.Sprintf("delivery %d data %v", i+1, got.Data),
				Trace:    result.Trace,
			}
		}
	}

	return nil
}

// assertFailure checks the execution failures. An empty want expects none;
// otherwise some failure message must contain want.
func assertFailure(result *Result, want string) error {
	if want == "" {
		if len(result.Failures) == 0 {
			return nil
		}
		return &AssertionError{
			Type:     AssertFailure,
			Expected: "no execution failure",
			Actual:   strings.Join(result.Failures, "; "),
			Trace:    result.Trace,
		}
	}

	for _, msg := range result.Failures {
		if strings.Contains(msg, want) {
			return nil
		}
	}

	actual := "no execution failure"
	if len(result.Failures) > 0 {
		actual = strings.Join(result.Failures, "; ")
	}
	return &AssertionError{
		Type:     AssertFailure,
		Expected: fmt.Sprintf("failure containing %q", want),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func expectedNames(ds []ExpectedDelivery) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Subscriber
	}
	return names
}

func actualNames(ds []Delivery) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Subscriber
	}
	return names
}

// matchSubset reports whether actual contains expected: objects match key
// by key with extra keys ignored, everything else must be equal. Both sides
// are normalized through canonical JSON first, so 20 and int64(20) match.
func matchSubset(actual, expected any) bool {
	a, err := normalize(actual)
	if err != nil {
		return false
	}
	e, err := normalize(expected)
	if err != nil {
		return false
	}
	return subset(a, e)
}

func subset(actual, expected any) bool {
	expObj, ok := expected.(map[string]any)
	if !ok {
		return reflect.DeepEqual(actual, expected)
	}

	actObj, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for key, want := range expObj {
		got, exists := actObj[key]
		if !exists || !subset(got, want) {
			return false
		}
	}
	return true
}

func normalize(v any) (any, error) {
	raw, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
