package queryir

// Field is one top-level subscription field invocation.
type Field struct {
	// Name is the schema field name (e.g. "user").
	Name string `json:"name"`

	// Alias is the response key override, empty when the document sets none.
	Alias string `json:"alias,omitempty"`

	// Args holds resolved argument values keyed by argument name.
	// Arguments that are neither written in the document nor supplied as
	// variables are omitted.
	Args map[string]any `json:"args"`
}

// ResponseKey returns the key the field's data appears under.
func (f Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}
