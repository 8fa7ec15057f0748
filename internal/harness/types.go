package harness

// Trace event types.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventRun         = "run"
	EventDelivery    = "delivery"
	EventFailure     = "failure"
)

// TraceEvent is one entry of a scenario trace. Step events carry the step
// number; delivery events carry the stream sequence number.
type TraceEvent struct {
	Type       string `json:"type"`
	Step       int    `json:"step,omitempty"`
	Seq        int64  `json:"seq,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
	Category   string `json:"category,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	TriggerID  string `json:"trigger_id,omitempty"`

	// OK reports the step outcome: subscribe returned a hash, unsubscribe
	// removed a subscriber, run was accepted.
	OK bool `json:"ok"`

	// Subscriptions is the registry size after a subscribe or unsubscribe.
	Subscriptions int `json:"subscriptions,omitempty"`

	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Delivery is one callback invocation observed by the harness.
type Delivery struct {
	Seq        int64
	TriggerID  string
	Subscriber string
	Data       any
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Trace holds step, delivery and failure events in order.
	Trace []TraceEvent `json:"trace"`

	// Deliveries holds the callback invocations in order.
	Deliveries []Delivery `json:"-"`

	// Failure is the error the stream ended with, if any.
	Failure string `json:"failure,omitempty"`

	// Failures holds every execution failure message, under either policy.
	Failures []string `json:"failures,omitempty"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Deliveries: []Delivery{},
		Errors:     []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

func (r *Result) addDelivery(d Delivery, category, namespace string) {
	r.Deliveries = append(r.Deliveries, d)
	r.Trace = append(r.Trace, TraceEvent{
		Type:       EventDelivery,
		Seq:        d.Seq,
		Subscriber: d.Subscriber,
		Category:   category,
		Namespace:  namespace,
		TriggerID:  d.TriggerID,
		OK:         true,
		Data:       d.Data,
	})
}

func (r *Result) addFailure(triggerID, message string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      EventFailure,
		TriggerID: triggerID,
		Message:   message,
	})
}
