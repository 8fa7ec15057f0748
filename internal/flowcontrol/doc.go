// Package flowcontrol routes result events from the engine's stream to
// per-category operations, which filter and deliver them per subscriber.
//
// An operation receives each event of its category together with a push
// function. Push walks the event's subscriber set once, asks the filter
// about every subscriber and invokes the delivery callback for those it
// accepts:
//
//	ops := map[string]flowcontrol.Operation{
//	    "post": func(ev ir.ResultEvent, push flowcontrol.PushFunc) error {
//	        allowed := allowedIDs(ev.Root) // computed once per event
//	        return push(ev, func(ev ir.ResultEvent, s ir.Subscriber) bool {
//	            return allowed[s.(*Session).UserID]
//	        }, nil)
//	    },
//	}
//
// The event payload is shared by every subscriber and every consumer of
// the stream. Operations must not mutate Root or Data in place; derive
// per-event state once, before calling push.
package flowcontrol
