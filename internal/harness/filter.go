package harness

import (
	"github.com/roach88/subdispatch/internal/flowcontrol"
	"github.com/roach88/subdispatch/internal/ir"
)

// Subscriber is a named scenario subscriber. Its pointer is the identity
// registered with the engine.
type Subscriber struct {
	Name string
	Auth Auth
}

// VisibilityFilter builds the filter for one event: a subscriber passes
// when its auth namespace equals root["namespace"] and its id is listed in
// root["canReceive"]. Subscribers without auth never pass.
func VisibilityFilter(ev ir.ResultEvent) flowcontrol.Filter {
	root, _ := ev.Root.(map[string]any)
	namespace, _ := root["namespace"].(string)

	allowed := make(map[string]bool)
	ids, _ := root["canReceive"].([]any)
	for _, id := range ids {
		if s, ok := id.(string); ok {
			allowed[s] = true
		}
	}

	return func(_ ir.ResultEvent, s ir.Subscriber) bool {
		sub, ok := s.(*Subscriber)
		if !ok {
			return false
		}
		return sub.Auth.Namespace == namespace && allowed[sub.Auth.ID]
	}
}

func label(s ir.Subscriber) string {
	switch v := s.(type) {
	case *Subscriber:
		return v.Name
	case ir.Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}
