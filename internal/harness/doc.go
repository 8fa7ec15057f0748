// Package harness runs scripted subscription scenarios against a real
// engine and flow control, and checks the deliveries they produce.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: visibility
//	description: "Only visible subscribers receive the result"
//	schema:
//	  subscriptions:
//	    - name: user
//	      args: { name: "String!", age: Int }
//	      returns: { name: String, age: Int }
//	subscribers:
//	  ref1: { id: id-1, namespace: ns, role: public }
//	filter: visibility
//	steps:
//	  - action: subscribe
//	    subscriber: ref1
//	    category: type
//	    namespace: ns
//	    query: 'subscription($name: String!) { user(name: $name) { name } }'
//	    variables: { name: Rohde }
//	  - action: run
//	    category: type
//	    namespace: ns
//	    root: { namespace: ns, canReceive: [id-1] }
//	expect:
//	  deliveries:
//	    - subscriber: ref1
//	      data: { user: { name: Rohde } }
//
// Schema fields resolve to the run root merged with the field arguments.
//
// # Deterministic Testing
//
// The engine runs with a concurrency of one, trigger IDs come from a
// sequential generator and every run step waits for its deliveries before
// the next step starts. Traces are therefore identical across runs and
// can be compared against golden files with RunWithGolden.
package harness
