package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/subdispatch/internal/engine"
	"github.com/roach88/subdispatch/internal/gql"
)

// Scenario is a scripted run of the engine: a schema, a set of named
// subscribers, a sequence of steps and the deliveries they should produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema declares the echo schema the queries run against.
	Schema gql.SchemaDef `yaml:"schema"`

	// Subscribers maps subscriber names to their auth context.
	// Steps refer to subscribers by name.
	Subscribers map[string]Auth `yaml:"subscribers,omitempty"`

	// Filter selects the fan-out filter: "" delivers to every subscriber,
	// "visibility" applies VisibilityFilter.
	Filter string `yaml:"filter,omitempty"`

	// Policy is the engine failure policy: "stream" (default) or "isolate".
	Policy string `yaml:"policy,omitempty"`

	Steps []Step `yaml:"steps"`

	Expect Expect `yaml:"expect,omitempty"`
}

// Auth is the identity a subscriber carries into filters.
type Auth struct {
	ID        string `yaml:"id"`
	Namespace string `yaml:"namespace"`
	Role      string `yaml:"role,omitempty"`
}

// Step is one engine call.
type Step struct {
	// Action is "subscribe", "unsubscribe" or "run".
	Action string `yaml:"action"`

	// Subscriber names an entry of Scenario.Subscribers. Empty means the
	// anonymous identity.
	Subscriber string `yaml:"subscriber,omitempty"`

	Category  string         `yaml:"category"`
	Namespace string         `yaml:"namespace"`
	Query     string         `yaml:"query,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`

	// Root is the run payload.
	Root map[string]any `yaml:"root,omitempty"`
}

// Expect lists the observable outcome of a scenario.
type Expect struct {
	// Deliveries are the expected callback invocations in order. Nil skips
	// the check; an empty list expects no deliveries at all.
	Deliveries []ExpectedDelivery `yaml:"deliveries"`

	// Failure is a substring of the expected stream failure. Empty expects
	// the stream to stay healthy.
	Failure string `yaml:"failure,omitempty"`
}

// ExpectedDelivery is one expected callback invocation.
type ExpectedDelivery struct {
	Subscriber string `yaml:"subscriber"`

	// Data is matched as a subset of the delivered result.
	Data map[string]any `yaml:"data,omitempty"`
}

// Step actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionRun         = "run"
)

// FilterVisibility names the built-in visibility filter.
const FilterVisibility = "visibility"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Schema.Subscriptions) == 0 && len(s.Schema.Queries) == 0 {
		return fmt.Errorf("schema must declare at least one field")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	switch s.Filter {
	case "", FilterVisibility:
	default:
		return fmt.Errorf("unknown filter %q", s.Filter)
	}

	if _, err := engine.ParseFailurePolicy(s.Policy); err != nil {
		return err
	}

	for name, auth := range s.Subscribers {
		if auth.ID == "" {
			return fmt.Errorf("subscribers[%s]: id is required", name)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(s, i, step); err != nil {
			return err
		}
	}

	for i, d := range s.Expect.Deliveries {
		if d.Subscriber == "" {
			return fmt.Errorf("expect.deliveries[%d]: subscriber is required", i)
		}
		if _, ok := s.Subscribers[d.Subscriber]; !ok {
			return fmt.Errorf("expect.deliveries[%d]: unknown subscriber %q", i, d.Subscriber)
		}
	}

	return nil
}

func validateStep(s *Scenario, index int, step Step) error {
	if step.Subscriber != "" {
		if _, ok := s.Subscribers[step.Subscriber]; !ok {
			return fmt.Errorf("steps[%d]: unknown subscriber %q", index, step.Subscriber)
		}
	}

	switch step.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if step.Query == "" {
			return fmt.Errorf("steps[%d]: query is required for %s", index, step.Action)
		}
		if step.Root != nil {
			return fmt.Errorf("steps[%d]: root is only valid for run", index)
		}
	case ActionRun:
		if step.Query != "" || step.Variables != nil {
			return fmt.Errorf("steps[%d]: query and variables are not valid for run", index)
		}
		if step.Subscriber != "" {
			return fmt.Errorf("steps[%d]: subscriber is not valid for run", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}

	return nil
}
